package health

import (
	"context"
	"errors"
	"io/fs"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// ErrDraining is wrapped by the ShutdownGate probe once shutdown starts.
var ErrDraining = errors.New("draining")

// Probe reports nil when healthy, otherwise the reason it is not.
type Probe interface{ Check(context.Context) error }

type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes, or always fails with reason.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	err := xerrors.New(reason)
	return func(context.Context) error { return err }
}

// All passes when every non-nil probe passes. Every probe runs so the
// response names all failing reasons, one per line.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		var errs []error
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// ShutdownGate fails readiness from the moment shutdown begins so the load
// balancer drains the instance before its listeners close.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = ErrDraining.Error()
	}
	g.reason.Store(&reason)
}

func (g *ShutdownGate) Draining() bool { return g.reason.Load() != nil }

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		r := g.reason.Load()
		if r == nil {
			return nil
		}
		return xerrors.Mark(xerrors.New(*r), ErrDraining)
	}
}

// FileSource is satisfied by the client bundle manager.
type FileSource interface {
	FS() (fs.FS, bool)
}

// BundleLoaded fails until src has a filesystem to serve. The site can
// render without a bundle, but every page would reference missing scripts.
func BundleLoaded(src FileSource) CheckFunc {
	return func(context.Context) error {
		if _, ok := src.FS(); !ok {
			return xerrors.New("client bundle not loaded")
		}
		return nil
	}
}
