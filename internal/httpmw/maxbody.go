package httpmw

import "net/http"

// MaxBody caps request bodies at limit bytes. A declared Content-Length
// over the cap is answered with 413 before next runs; an undeclared body
// fails on read once the cap is crossed.
func MaxBody(limit int64) Middleware {
	tooLarge := http.StatusText(http.StatusRequestEntityTooLarge)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				http.Error(w, tooLarge, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
