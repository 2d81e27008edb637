package httpmw

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errNoHijack = errors.New("httpmw: response writer cannot hijack")

// writeSpan times the response.write phase: from the first byte handed to
// the client until the handler returns.
type writeSpan struct {
	span    trace.Span
	blocked time.Duration
	err     error
}

func startWriteSpan(ctx context.Context, ttfb time.Duration) *writeSpan {
	ws := &writeSpan{}
	if !trace.SpanFromContext(ctx).IsRecording() {
		return ws
	}
	_, ws.span = otel.Tracer("linnemanlabs-ssr/httpmw").Start(ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", ttfb.Seconds())))
	return ws
}

func (ws *writeSpan) end(status int, size int64) {
	if ws == nil || ws.span == nil {
		return
	}
	ws.span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.Int64("http.response.body.size", size),
		attribute.Float64("http.server.write.block_seconds", ws.blocked.Seconds()),
	)
	if ws.err != nil {
		ws.span.RecordError(ws.err)
		ws.span.SetStatus(codes.Error, ws.err.Error())
	}
	ws.span.End()
}

// responseWriter records what the pipeline answered for the access log.
type responseWriter struct {
	http.ResponseWriter
	ctx   context.Context
	start time.Time

	status int
	bytes  int64
	ws     *writeSpan
}

func (rw *responseWriter) begin() *writeSpan {
	if rw.ws == nil {
		rw.ws = startWriteSpan(rw.ctx, time.Since(rw.start))
	}
	return rw.ws
}

func (rw *responseWriter) statusCode() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) WriteHeader(code int) {
	ws := rw.begin()
	if rw.status == 0 && code >= 200 {
		rw.status = code
	}
	t := time.Now()
	rw.ResponseWriter.WriteHeader(code)
	ws.blocked += time.Since(t)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	ws := rw.begin()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	t := time.Now()
	n, err := rw.ResponseWriter.Write(b)
	ws.blocked += time.Since(t)
	rw.bytes += int64(n)
	if ws.err == nil {
		ws.err = err
	}
	return n, err
}

func (rw *responseWriter) finish() {
	rw.ws.end(rw.statusCode(), rw.bytes)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the dev proxy upgrade connections for hot reload.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errNoHijack
	}
	if rw.status == 0 {
		rw.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
