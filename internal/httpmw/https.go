package httpmw

import (
	"net/http"
)

const httpsRequiredMsg = "Please use HTTPS when submitting data to this server."

// EnforceHTTPS redirects plain-http GET and HEAD requests to https and
// refuses other methods, since replaying a body over a redirect would leak
// it. The scheme comes from X-Forwarded-Proto, so ClientIP must run first
// with trusted hops configured or every request looks like http.
func EnforceHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if schemeFromRequest(r) == "https" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(httpsRequiredMsg))
			return
		}
		http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}
