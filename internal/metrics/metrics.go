package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/version"
)

type ServerMetrics struct {
	reg                  *prometheus.Registry
	handler              http.Handler
	inflight             prometheus.Gauge
	reqTotal             *prometheus.CounterVec
	reqDur               *prometheus.HistogramVec
	respBytes            *prometheus.HistogramVec
	errorsTotal          *prometheus.CounterVec
	faultsTotal          *prometheus.CounterVec
	httpPanicTotal       prometheus.Counter
	buildInfo            *prometheus.GaugeVec
	ratelimitDeniedTotal prometheus.Counter
	profilingActive      prometheus.Gauge

	// client bundle
	bundleSource       *prometheus.GaugeVec
	bundleInfo         *prometheus.GaugeVec
	bundleLoadedTs     prometheus.Gauge
	bundlePollsTotal   prometheus.Counter
	bundleSwapsTotal   prometheus.Counter
	bundleErrorsTotal  *prometheus.CounterVec
	bundleLoadDuration prometheus.Histogram
}

// New builds a private registry with the Go and process collectors plus
// the server's own series. Requests are labelled by the pipeline stage
// that answered them, never by path.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &ServerMetrics{
		reg:     reg,
		handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}),
	}
	m.registerHTTP(f)
	m.registerProcess(f)
	m.registerBundle(f)
	return m
}

func (m *ServerMetrics) registerHTTP(f promauto.Factory) {
	byStage := []string{"method", "stage"}

	m.inflight = f.NewGauge(prometheus.GaugeOpts{
		Name: "http_inflight_requests",
		Help: "Current number of in-flight HTTP requests",
	})
	m.reqTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests by method, answering stage and status",
	}, []string{"method", "stage", "status"})
	m.reqDur = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Request latency by method and answering stage",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, byStage)
	m.respBytes = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "Response size by method and answering stage",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	}, byStage)
	m.errorsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Total 5xx responses by method and answering stage",
	}, byStage)
	m.faultsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "http_pipeline_faults_total",
		Help: "Requests routed to the error handler, by fault kind",
	}, []string{"kind"})
	m.httpPanicTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "http_panic_total",
		Help: "Total number of recovered handler panics",
	})
	m.ratelimitDeniedTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "http_requests_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	})
}

func (m *ServerMetrics) registerProcess(f promauto.Factory) {
	m.buildInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata, value is always 1",
	}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "build_mode", "vcs_dirty", "go_version"})
	m.profilingActive = f.NewGauge(prometheus.GaugeOpts{
		Name: "profiling_active",
		Help: "1 while continuous profiling is running",
	})
}

func (m *ServerMetrics) registerBundle(f promauto.Factory) {
	m.bundleSource = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "client_bundle_source_info",
		Help: "Where the active client bundle came from, value is always 1",
	}, []string{"source"})
	m.bundleInfo = f.NewGaugeVec(prometheus.GaugeOpts{
		Name: "client_bundle_info",
		Help: "Identity of the active client bundle, value is always 1",
	}, []string{"sha256", "version"})
	m.bundleLoadedTs = f.NewGauge(prometheus.GaugeOpts{
		Name: "client_bundle_loaded_timestamp_seconds",
		Help: "Unix time the active client bundle was loaded",
	})
	m.bundlePollsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "client_bundle_watcher_polls_total",
		Help: "Bundle watcher poll cycles",
	})
	m.bundleSwapsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "client_bundle_watcher_swaps_total",
		Help: "Client bundle swaps applied",
	})
	m.bundleErrorsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "client_bundle_watcher_errors_total",
		Help: "Bundle watcher errors by type",
	}, []string{"type"})
	m.bundleLoadDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "client_bundle_load_duration_seconds",
		Help:    "Time to download, verify and extract a client bundle",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
	})
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildID,
		"build_date":  vi.BuildDate,
		"build_mode":  vi.BuildMode,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	var v float64
	if active {
		v = 1
	}
	m.profilingActive.Set(v)
}

// SetBundle records the active client bundle. Called at startup and on
// every swap.
func (m *ServerMetrics) SetBundle(source, sha256, version string, loadedAt time.Time) {
	m.bundleSource.Reset()
	m.bundleSource.WithLabelValues(source).Set(1)
	m.bundleInfo.Reset()
	m.bundleInfo.WithLabelValues(sha256, version).Set(1)
	m.bundleLoadedTs.Set(float64(loadedAt.Unix()))
}

func (m *ServerMetrics) IncBundlePolls() {
	m.bundlePollsTotal.Inc()
}

func (m *ServerMetrics) IncBundleSwaps() {
	m.bundleSwapsTotal.Inc()
}

func (m *ServerMetrics) IncBundleError(kind string) {
	m.bundleErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *ServerMetrics) ObserveBundleLoadDuration(seconds float64) {
	m.bundleLoadDuration.Observe(seconds)
}
