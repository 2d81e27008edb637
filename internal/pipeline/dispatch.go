package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// Renderer produces the page for any request no stage answered. A returned
// error is routed to the error handler unless the response has started.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error { return f(w, r) }

type Options struct {
	Renderer Renderer
	// Errors defaults to ErrorPages{}.
	Errors ErrorHandler
	// Logger is used when the request context carries none.
	Logger log.Logger
}

// Dispatcher walks a Sequence for each request, falling back to the
// Renderer, and guarantees exactly one response per request.
type Dispatcher struct {
	seq    *Sequence
	head   http.Handler
	render Renderer
	errs   ErrorHandler
	logger log.Logger
}

func NewDispatcher(seq *Sequence, opts Options) (*Dispatcher, error) {
	if seq == nil {
		return nil, errors.New("pipeline: nil sequence")
	}
	if opts.Renderer == nil {
		return nil, errors.New("pipeline: renderer required")
	}
	d := &Dispatcher{
		seq:    seq,
		render: opts.Renderer,
		errs:   opts.Errors,
		logger: opts.Logger,
	}
	if d.errs == nil {
		d.errs = ErrorPages{}
	}
	if d.logger == nil {
		d.logger = log.Nop()
	}

	// compose once, innermost first
	var h http.Handler = http.HandlerFunc(d.fallback)
	for i := len(seq.stages) - 1; i >= 0; i-- {
		h = link(seq.stages[i], h)
	}
	d.head = h
	return d, nil
}

func (d *Dispatcher) Sequence() *Sequence { return d.seq }

// link wraps one stage so unmatched requests skip straight to next
func link(st Stage, next http.Handler) http.Handler {
	unit := st.Unit(next)
	name := st.Name
	mount := st.Mount
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !mount.Match(r) {
			next.ServeHTTP(w, r)
			return
		}
		if s := stateFrom(r.Context()); s != nil {
			s.current = name
		}
		unit.ServeHTTP(w, r)
	})
}

func (d *Dispatcher) fallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := stateFrom(ctx)
	st.current = StageRender

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		st.fault = ErrNotFound
		st.faultAt = StageRender
		return
	}

	L := log.FromContextOr(ctx, d.logger)
	log.Record(ctx, L, "Request", fmt.Sprintf("Received for \"%s\"", r.URL.RequestURI()),
		"url.path", r.URL.Path,
	)

	if err := d.render.Render(w, r); err != nil {
		if st.fault == nil {
			st.fault = xerrors.Mark(xerrors.Wrap(err, "render "+r.URL.Path), ErrRender)
			st.faultAt = StageRender
		}
	}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := &state{}
	tw := &trackingWriter{ResponseWriter: w, st: st}
	ctx := context.WithValue(r.Context(), stateKey{}, st)
	r = r.WithContext(ctx)

	d.walk(tw, r)

	if st.fault == nil && !tw.started {
		st.fault = xerrors.Mark(errNoResponse, ErrFault)
		st.faultAt = st.current
	}
	if st.fault != nil {
		d.fail(tw, r)
	}

	if rec := RecorderFrom(ctx); rec != nil {
		rec.Stage = st.answered
		rec.Err = st.fault
	}
}

func (d *Dispatcher) walk(w *trackingWriter, r *http.Request) {
	st := w.st
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if v == http.ErrAbortHandler {
			panic(v)
		}
		if st.fault == nil {
			st.fault = panicFault(st.current, v)
			st.faultAt = st.current
		}
	}()
	d.head.ServeHTTP(w, r)
}

func (d *Dispatcher) fail(w *trackingWriter, r *http.Request) {
	ctx := r.Context()
	st := w.st
	L := log.FromContextOr(ctx, d.logger)
	status := StatusFor(st.fault)

	if w.started {
		L.Error(ctx, st.fault, "pipeline fault after response started",
			"stage", st.faultAt,
			"answered_by", st.answered,
		)
		return
	}

	switch status {
	case http.StatusNotFound:
		L.Debug(ctx, "no stage answered", "http.request.method", r.Method)
	case http.StatusServiceUnavailable:
		L.Warn(ctx, "request deadline exceeded", "stage", st.faultAt, "err", st.fault)
	default:
		L.Error(ctx, st.fault, "pipeline fault", "stage", st.faultAt)
	}

	// drop headers a unit set for a body that will not be sent
	h := w.Header()
	h.Del("Content-Encoding")
	h.Del("Content-Length")

	st.current = StageError
	func() {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				L.Error(ctx, panicFault(StageError, v), "error handler panicked")
				if !w.started {
					ErrorPages{}.ServeError(w, r, http.StatusInternalServerError, st.fault)
				}
			}
		}()
		d.errs.ServeError(w, r, status, st.fault)
	}()

	if !w.started {
		ErrorPages{}.ServeError(w, r, status, st.fault)
	}
}
