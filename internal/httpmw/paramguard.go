package httpmw

import "net/http"

// ParamGuard collapses repeated query parameters to their last value so
// downstream code never sees ?a=1&a=2 as a list.
func ParamGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery == "" {
			next.ServeHTTP(w, r)
			return
		}
		q := r.URL.Query()
		polluted := false
		for k, vs := range q {
			if len(vs) > 1 {
				q[k] = vs[len(vs)-1:]
				polluted = true
			}
		}
		if !polluted {
			next.ServeHTTP(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.URL.RawQuery = q.Encode()
		next.ServeHTTP(w, r2)
	})
}
