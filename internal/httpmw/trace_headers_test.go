package httpmw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/pipeline"
)

// validSpanContext returns a context with a valid (non-recording) span context for testing.
func validSpanContext() context.Context {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestTraceResponseHeaders_ValidSpan(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody).WithContext(validSpanContext())
	TraceResponseHeaders("", "")(handler).ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Trace-Id"); got != "0102030405060708090a0b0c0d0e0f10" {
		t.Errorf("X-Trace-Id = %q", got)
	}
	if got := rec.Header().Get("X-Span-Id"); got != "0102030405060708" {
		t.Errorf("X-Span-Id = %q", got)
	}
}

func TestTraceResponseHeaders_NoSpan(t *testing.T) {
	rec := httptest.NewRecorder()
	TraceResponseHeaders("X-T", "X-S")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if rec.Header().Get("X-T") != "" || rec.Header().Get("X-S") != "" {
		t.Fatalf("headers set without a span: %v", rec.Header())
	}
}

func TestAnnotateStage_RenamesSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "GET")
	h := AnnotateStage(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := pipeline.RecorderFrom(r.Context())
		rec.Stage, rec.Err = "client-bundle", errors.New("boom")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/client/a.js", nil).WithContext(ctx))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	s := ended[0]
	if s.Name() != "GET client-bundle" {
		t.Errorf("span name = %q", s.Name())
	}
	attrs := map[string]string{}
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["app.pipeline.stage"] != "client-bundle" || attrs["http.route"] != "client-bundle" {
		t.Errorf("attrs = %v", attrs)
	}
	if len(s.Events()) == 0 {
		t.Error("expected recorded error event")
	}
}

func TestAnnotateStage_NoStageLeavesSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "GET")
	AnnotateStage(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
	span.End()

	if got := sr.Ended()[0].Name(); got != "GET" {
		t.Fatalf("span name = %q", got)
	}
}

type fakeBundle struct{ version, hash string }

func (f fakeBundle) BundleVersion() string { return f.version }
func (f fakeBundle) BundleHash() string    { return f.hash }

func TestBundleHeaders(t *testing.T) {
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	rec := httptest.NewRecorder()
	BundleHeaders(fakeBundle{"1.4.0", "0123456789abcdef0123"})(noop).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Client-Bundle-Version"); got != "1.4.0" {
		t.Errorf("version = %q", got)
	}
	if got := rec.Header().Get("X-Client-Bundle-Hash"); got != "0123456789ab" {
		t.Errorf("hash = %q", got)
	}

	rec = httptest.NewRecorder()
	BundleHeaders(fakeBundle{})(noop).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Header()) != 0 {
		t.Errorf("headers without a bundle: %v", rec.Header())
	}

	rec = httptest.NewRecorder()
	BundleHeaders(nil)(noop).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if len(rec.Header()) != 0 {
		t.Errorf("nil info set headers: %v", rec.Header())
	}
}
