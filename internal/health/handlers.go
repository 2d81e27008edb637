package health

import (
	"io"
	"net/http"
)

// HealthzHandler answers "ok" while p passes, otherwise 503 with the reason.
func HealthzHandler(p Probe) http.HandlerFunc {
	return handler(p, "ok")
}

// ReadyzHandler answers "ready" while p passes, otherwise 503 with the reason.
func ReadyzHandler(p Probe) http.HandlerFunc {
	return handler(p, "ready")
}

func handler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("X-Content-Type-Options", "nosniff")

		status, body := http.StatusOK, okBody
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				status, body = http.StatusServiceUnavailable, err.Error()
			}
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body+"\n")
	}
}
