package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
)

// DefaultMaxBodyBytes caps request bodies; the site accepts no form posts.
const DefaultMaxBodyBytes = 1 << 10

type Options struct {
	Logger log.Logger

	// Host and Port are bound by Start. Port 0 lets the kernel pick.
	Host string
	Port int

	// PublicURL, when set, is the url reported at startup instead of
	// http://host:port.
	PublicURL string

	// Site answers everything no registrar routes, normally the pipeline
	// dispatcher.
	Site http.Handler

	// Registrars add routes ahead of the Site fallback.
	Registrars []func(chi.Router)

	UseRecoverMW bool
	OnPanic      func()

	MetricsMW   func(http.Handler) http.Handler
	RateLimitMW func(http.Handler) http.Handler
	ProfileMW   func(http.Handler) http.Handler

	ClientIP httpmw.ClientIPOptions

	// Bundle adds X-Client-Bundle-* headers while a bundle is active.
	Bundle httpmw.BundleInfo

	// RequestTimeout bounds each request's context; 0 disables it.
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}
