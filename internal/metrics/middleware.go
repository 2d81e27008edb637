package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/pipeline"
)

// stageEdge labels requests answered before the dispatcher ran, e.g. by
// the rate limiter or panic recovery.
const stageEdge = "edge"

// statusWriter keeps the first status written and counts body bytes.
type statusWriter struct {
	http.ResponseWriter
	status int
	n      int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.n += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Middleware records every request under the stage that answered it.
// Labels stay bounded: method is folded and paths are never used.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, rec := pipeline.EnsureRecorder(r.Context())

		m.inflight.Inc()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r.WithContext(ctx))
		m.inflight.Dec()

		method, stage := methodLabel(r.Method), rec.Stage
		if stage == "" {
			stage = stageEdge
		}
		status := sw.code()

		m.reqTotal.WithLabelValues(method, stage, strconv.Itoa(status)).Inc()
		if status >= http.StatusInternalServerError {
			m.errorsTotal.WithLabelValues(method, stage).Inc()
		}
		if rec.Err != nil {
			m.faultsTotal.WithLabelValues(faultKind(rec.Err)).Inc()
		}
		observe(m.reqDur.WithLabelValues(method, stage), time.Since(start).Seconds(), traceExemplar(ctx))
		m.respBytes.WithLabelValues(method, stage).Observe(float64(sw.n))
	})
}

// observe attaches ex as an exemplar when the observer supports one.
func observe(o prometheus.Observer, v float64, ex prometheus.Labels) {
	if eo, ok := o.(prometheus.ExemplarObserver); ok && ex != nil {
		eo.ObserveWithExemplar(v, ex)
		return
	}
	o.Observe(v)
}

var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodOptions: true,
}

func methodLabel(method string) string {
	if knownMethods[method] {
		return method
	}
	return "OTHER"
}

var faultKinds = []struct {
	err  error
	kind string
}{
	{pipeline.ErrNotFound, "not_found"},
	{context.DeadlineExceeded, "deadline"},
	{pipeline.ErrRender, "render"},
}

func faultKind(err error) string {
	for _, fk := range faultKinds {
		if errors.Is(err, fk.err) {
			return fk.kind
		}
	}
	return "fault"
}

// traceExemplar links a sampled trace to the duration histogram.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsSampled() || !sc.IsValid() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
