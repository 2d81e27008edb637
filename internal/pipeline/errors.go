package pipeline

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrFault marks a failure raised by a stage unit, by Fault or a panic.
	ErrFault = errors.New("middleware fault")

	// ErrRender marks a failure returned by the Renderer.
	ErrRender = errors.New("render failure")

	// ErrNotFound is handed to the error handler for requests nothing
	// answered and the renderer does not take (anything but GET/HEAD).
	ErrNotFound = errors.New("not found")

	errNoResponse = errors.New("request completed without a response")
)

// StatusFor maps a pipeline error to the status the error handler answers.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler produces the single response for a failed request. The
// response has not been started when it is called.
type ErrorHandler interface {
	ServeError(w http.ResponseWriter, r *http.Request, status int, err error)
}

type ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, status int, err error)

func (f ErrorHandlerFunc) ServeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	f(w, r, status, err)
}

// ErrorPages answers with a short plain-text body per status. Empty fields
// use the defaults.
type ErrorPages struct {
	NotFound    string
	Internal    string
	Unavailable string
}

const (
	defaultNotFound    = "Sorry, that resource was not found."
	defaultInternal    = "Sorry, an unexpected error occurred."
	defaultUnavailable = "Sorry, the server is too busy to answer right now."
)

func (p ErrorPages) body(status int) string {
	pick := func(s, def string) string {
		if s != "" {
			return s
		}
		return def
	}
	switch status {
	case http.StatusNotFound:
		return pick(p.NotFound, defaultNotFound)
	case http.StatusServiceUnavailable:
		return pick(p.Unavailable, defaultUnavailable)
	default:
		return pick(p.Internal, defaultInternal)
	}
}

func (p ErrorPages) ServeError(w http.ResponseWriter, r *http.Request, status int, _ error) {
	h := w.Header()
	h.Del("Content-Encoding")
	h.Del("Content-Length")
	h.Del("ETag")
	h.Del("Last-Modified")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	if status == http.StatusServiceUnavailable {
		h.Set("Retry-After", "5")
	}
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(p.body(status)))
	}
}
