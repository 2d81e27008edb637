package render

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// reloadDelay coalesces the burst of events an editor save produces
const reloadDelay = 100 * time.Millisecond

// Watch re-parses the templates whenever a file in dir changes, until ctx
// is done. A failed parse is logged and the previous templates stay live.
func (rd *Renderer) Watch(ctx context.Context, dir string, L log.Logger) error {
	if L == nil {
		L = log.Nop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(err, "create template watcher")
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return xerrors.Wrapf(err, "watch %s", dir)
	}

	go func() {
		defer w.Close()

		timer := time.NewTimer(reloadDelay)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					timer.Reset(reloadDelay)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				L.Warn(ctx, "template watcher error", "err", err.Error(), "dir", dir)
			case <-timer.C:
				if err := rd.Reload(); err != nil {
					L.Error(ctx, err, "template reload failed; keeping previous templates", "dir", dir)
					continue
				}
				L.Info(ctx, "templates reloaded", "dir", dir)
			}
		}
	}()
	return nil
}
