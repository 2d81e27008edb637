package httpmw

import (
	"fmt"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// Recover is the last line of defence for panics outside the pipeline
// dispatcher (which recovers its own stages). onPanic, if set, runs after
// the panic is logged, e.g. to count it.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				var err error
				if e, ok := v.(error); ok {
					err = xerrors.WithStack(fmt.Errorf("panic: %w", e))
				} else {
					err = xerrors.Newf("panic: %v", v)
				}
				L.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				).Error(r.Context(), err, "httpserver panic recovered")
				if onPanic != nil {
					onPanic()
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
