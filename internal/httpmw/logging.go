package httpmw

import (
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/pipeline"
)

// quietExts are static asset types not worth an access log line each.
var quietExts = map[string]bool{
	".css": true, ".js": true, ".map": true,
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".svg": true, ".ico": true,
	".woff": true, ".woff2": true,
}

// WithLogger stores a request-scoped logger carrying request metadata and
// tags the server span with the same fields.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			f := requestFieldsOf(r)

			if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
				span.SetAttributes(
					attribute.String("request_id", f.id),
					attribute.String("server.address", r.Host),
					attribute.String("client.address", f.client),
					attribute.String("network.peer.address", f.peer),
					attribute.String("url.scheme", f.scheme),
				)
			}

			L := base.With(
				"request_id", f.id,
				"client.address", f.client,
				"network.peer.address", f.peer,
				"server.address", r.Host,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", f.scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

type requestFields struct {
	id, client, peer, scheme string
}

func requestFieldsOf(r *http.Request) requestFields {
	f := requestFields{
		id:     RequestIDFromContext(r.Context()),
		peer:   r.RemoteAddr,
		scheme: schemeFromRequest(r),
	}
	if host, _, err := net.SplitHostPort(f.peer); err == nil {
		f.peer = host
	}
	// ClientIP runs further out; without it the peer is the client
	f.client = ClientIPFromContext(r.Context())
	if f.client == "" {
		f.client = f.peer
	}
	return f
}

// AccessLog writes one record per request after the pipeline has
// answered, naming the stage that produced the response.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, rec := pipeline.EnsureRecorder(r.Context())
			rw := &responseWriter{ResponseWriter: w, ctx: ctx, start: time.Now()}

			next.ServeHTTP(rw, r.WithContext(ctx))
			rw.finish()

			if skipAccessLog(r.URL.Path) {
				return
			}
			status := rw.statusCode()
			kv := []any{
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(rw.start).Seconds(),
				"http.response.body.size", rw.bytes,
				"http.request.body.size", max(r.ContentLength, 0),
				"pipeline.stage", rec.Stage,
			}
			L := log.FromContext(ctx)
			if rec.Err != nil && status >= 500 {
				L.Warn(ctx, "http request failed", append(kv, "err", rec.Err.Error())...)
				return
			}
			L.Info(ctx, "http request", kv...)
		})
	}
}

func skipAccessLog(p string) bool {
	switch p {
	case "/-/ready", "/-/healthy":
		return true
	}
	return quietExts[strings.ToLower(path.Ext(p))]
}

// schemeFromRequest trusts X-Forwarded-Proto because ClientIP already
// removed it unless it came from a trusted proxy.
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		return strings.ToLower(strings.TrimSpace(first))
	}
	switch {
	case r.URL != nil && r.URL.Scheme != "":
		return r.URL.Scheme
	case r.TLS != nil:
		return "https"
	}
	return "http"
}
