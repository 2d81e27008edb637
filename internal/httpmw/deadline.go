package httpmw

import (
	"context"
	"net/http"
	"time"
)

// Deadline bounds every request's context. Stages that honour the context
// (rendering, proxying, bundle reads) fail with context.DeadlineExceeded,
// which the dispatcher answers 503. d <= 0 disables the deadline.
func Deadline(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
