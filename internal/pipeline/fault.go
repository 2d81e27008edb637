package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// state is the per-request dispatch state, reachable from units through
// the request context
type state struct {
	current  string // stage currently invoked
	answered string // stage that started the response
	fault    error
	faultAt  string
}

type stateKey struct{}

func stateFrom(ctx context.Context) *state {
	st, _ := ctx.Value(stateKey{}).(*state)
	return st
}

// Fault hands the request to the error handler. The unit must return
// without calling next or writing a response. Only the first fault of a
// request is kept. Outside a dispatcher Fault answers 500 directly.
func Fault(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("unspecified fault")
	}
	st := stateFrom(r.Context())
	if st == nil {
		ErrorPages{}.ServeError(w, r, StatusFor(err), err)
		return
	}
	if st.fault != nil {
		return
	}
	if !errors.Is(err, ErrFault) && !errors.Is(err, ErrRender) {
		err = xerrors.Mark(err, ErrFault)
	}
	st.fault = err
	st.faultAt = st.current
}

// CurrentStage returns the name of the stage handling r, or "" outside a
// dispatcher.
func CurrentStage(r *http.Request) string {
	if st := stateFrom(r.Context()); st != nil {
		return st.current
	}
	return ""
}

func panicFault(stage string, v any) error {
	if err, ok := v.(error); ok {
		return xerrors.Mark(xerrors.WithStack(fmt.Errorf("panic in stage %q: %w", stage, err)), ErrFault)
	}
	return xerrors.Mark(xerrors.Newf("panic in stage %q: %v", stage, v), ErrFault)
}

// Recorder receives the outcome of a dispatch. Layers outside the
// dispatcher install one with WithRecorder and read it after ServeHTTP
// returns.
type Recorder struct {
	Stage string
	Err   error
}

type recorderKey struct{}

func WithRecorder(ctx context.Context) (context.Context, *Recorder) {
	rec := &Recorder{}
	return context.WithValue(ctx, recorderKey{}, rec), rec
}

// EnsureRecorder reuses a Recorder already in ctx so nested layers share one.
func EnsureRecorder(ctx context.Context) (context.Context, *Recorder) {
	if rec := RecorderFrom(ctx); rec != nil {
		return ctx, rec
	}
	return WithRecorder(ctx)
}

func RecorderFrom(ctx context.Context) *Recorder {
	rec, _ := ctx.Value(recorderKey{}).(*Recorder)
	return rec
}

// trackingWriter notes when the response starts so the dispatcher never
// answers twice
type trackingWriter struct {
	http.ResponseWriter
	st      *state
	started bool
}

func (tw *trackingWriter) start() {
	if tw.started {
		return
	}
	tw.started = true
	tw.st.answered = tw.st.current
}

func (tw *trackingWriter) WriteHeader(code int) {
	// 1xx informational headers do not start the response
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		tw.ResponseWriter.WriteHeader(code)
		return
	}
	tw.start()
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackingWriter) Write(b []byte) (int, error) {
	tw.start()
	return tw.ResponseWriter.Write(b)
}

func (tw *trackingWriter) Flush() {
	tw.start()
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (tw *trackingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := tw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	tw.start()
	return h.Hijack()
}

func (tw *trackingWriter) Unwrap() http.ResponseWriter { return tw.ResponseWriter }
