package opshttp

import (
	"net/http"
	"time"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/health"
)

const (
	DefaultPort            = 9000
	DefaultShutdownTimeout = 5 * time.Second
)

// Options configures the admin listener. Host defaults to every
// interface; public peers are refused per request.
type Options struct {
	Host string
	Port int

	Metrics     http.Handler
	EnablePprof bool

	// Health backs /-/healthy, Readiness backs /-/ready. nil reports ok.
	Health    health.Probe
	Readiness health.Probe

	UseRecoverMW bool
	OnPanic      func()

	ShutdownTimeout time.Duration
}

func (o Options) addr() (host string, port int) {
	port = o.Port
	if port == 0 {
		port = DefaultPort
	}
	return o.Host, port
}

func (o Options) shutdownTimeout() time.Duration {
	if o.ShutdownTimeout > 0 {
		return o.ShutdownTimeout
	}
	return DefaultShutdownTimeout
}
