package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/pipeline"
)

// TraceResponseHeaders echoes the trace and span ids of a valid span so a
// user-visible error can be matched to its trace.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	if traceHeader == "" {
		traceHeader = "X-Trace-Id"
	}
	if spanHeader == "" {
		spanHeader = "X-Span-Id"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc := trace.SpanFromContext(r.Context()).SpanContext()
			if sc.IsValid() {
				w.Header().Set(traceHeader, sc.TraceID().String())
				w.Header().Set(spanHeader, sc.SpanID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AnnotateStage names the span after the pipeline stage that answered,
// e.g. "GET render" or "GET client-bundle".
func AnnotateStage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, rec := pipeline.EnsureRecorder(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))

		span := trace.SpanFromContext(ctx)
		if !span.IsRecording() || rec.Stage == "" {
			return
		}
		span.SetAttributes(
			attribute.String("app.pipeline.stage", rec.Stage),
			attribute.String("http.route", rec.Stage),
		)
		span.SetName(r.Method + " " + rec.Stage)
		if rec.Err != nil {
			span.RecordError(rec.Err)
		}
	})
}

// BundleInfo identifies the client bundle being served.
type BundleInfo interface {
	BundleVersion() string
	BundleHash() string
}

// BundleHeaders adds X-Client-Bundle-Version and a short X-Client-Bundle-Hash
// to every response while a bundle is active.
func BundleHeaders(info BundleInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v := info.BundleVersion(); v != "" {
				w.Header().Set("X-Client-Bundle-Version", v)
			}
			if h := info.BundleHash(); h != "" {
				if len(h) > 12 {
					h = h[:12]
				}
				w.Header().Set("X-Client-Bundle-Hash", h)
			}
			next.ServeHTTP(w, r)
		})
	}
}
