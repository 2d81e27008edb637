package static

import (
	"fmt"
	"io/fs"
	"net/http"
	"path"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

const offlinePageErrorMsg = "Error serving offline page."

// MissingFunc answers a request whose file could not be served.
type MissingFunc func(w http.ResponseWriter, r *http.Request, err error)

// File serves the single file name from src on every request it sees. It
// never calls next, so it belongs behind an exact mount.
func File(src Source, name, cacheControl string, missing MissingFunc) func(http.Handler) http.Handler {
	name = path.Clean(name)
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fsys, ok := src.FS()
			if !ok {
				missing(w, r, fmt.Errorf("%s: %w", name, fs.ErrNotExist))
				return
			}
			if !existsFile(fsys, name) {
				_, err := fs.Stat(fsys, name)
				if err == nil {
					err = fmt.Errorf("%s: is a directory", name)
				}
				missing(w, r, err)
				return
			}
			if cacheControl != "" {
				w.Header().Set("Cache-Control", cacheControl)
			}
			http.ServeFileFS(w, r, fsys, name)
		})
	}
}

// ServiceWorker serves the service worker script. A missing script is a
// fault and reaches the error handler.
func ServiceWorker(src Source, name string) func(http.Handler) http.Handler {
	return File(src, name, "no-cache", func(w http.ResponseWriter, r *http.Request, err error) {
		pipeline.Fault(w, r, xerrors.Wrapf(err, "serve service worker %s", name))
	})
}

// OfflinePage serves the offline page cached by the service worker. A
// missing page is answered here with a plain 500.
func OfflinePage(src Source, name string) func(http.Handler) http.Handler {
	return File(src, name, "no-cache", func(w http.ResponseWriter, r *http.Request, err error) {
		ctx := r.Context()
		log.FromContext(ctx).Error(ctx, err, "offline page unavailable", "file", name)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(offlinePageErrorMsg))
	})
}
