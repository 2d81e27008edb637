package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// ErrBind is returned by Start when the listening socket cannot be opened.
var ErrBind = errors.New("httpserver: bind failed")

// NewHandler builds the listener's handler: the fixed edge middleware
// wrapped around a chi router whose fallback is opts.Site.
func NewHandler(opts Options) http.Handler {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}

	r := chi.NewRouter()
	for _, reg := range opts.Registrars {
		reg(r)
	}
	if opts.Site != nil {
		r.NotFound(opts.Site.ServeHTTP)
		r.MethodNotAllowed(opts.Site.ServeHTTP)
	}

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	// innermost first
	var h http.Handler = r
	h = httpmw.Deadline(opts.RequestTimeout)(h)
	h = httpmw.MaxBody(maxBody)(h)

	// names the span after the stage that answered
	h = httpmw.AnnotateStage(h)
	h = httpmw.AccessLog()(h)

	// request-scoped logger sees request id, client ip and trace ids
	h = httpmw.WithLogger(L)(h)

	if opts.ProfileMW != nil {
		h = opts.ProfileMW(h)
	}
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}
	if opts.Bundle != nil {
		h = httpmw.BundleHeaders(opts.Bundle)(h)
	}
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(
		h,
		"http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return shouldTrace(r.URL.Path)
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateStage renames the span once a stage has answered
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)

	// after client ip so limits key on the resolved address
	if opts.RateLimitMW != nil {
		h = opts.RateLimitMW(h)
	}
	h = httpmw.ClientIPWithOptions(opts.ClientIP)(h)
	h = httpmw.RequestID("X-Request-Id")(h)

	if opts.UseRecoverMW {
		h = httpmw.Recover(L, opts.OnPanic)(h)
	}
	return h
}

// shouldTrace skips well-known files and static asset extensions.
func shouldTrace(p string) bool {
	switch p {
	case "/favicon.ico", "/favicon.svg", "/robots.txt", "/manifest.json":
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// Server timeout defaults.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 35 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
	DefaultShutdownTimeout   = 5 * time.Second
)

type State int32

const (
	Unbound State = iota
	Binding
	Listening
	Stopped
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Listening:
		return "listening"
	case Stopped:
		return "stopped"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Server owns the site listener. Start binds once; Stop is idempotent.
type Server struct {
	opts   Options
	logger log.Logger
	srv    *http.Server

	state atomic.Int32
	addr  atomic.Pointer[net.TCPAddr]
	url   string

	stopOnce sync.Once
	stopErr  error
	served   chan struct{}
}

func New(opts Options) *Server {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
		opts.Logger = L
	}
	return &Server{
		opts:   opts,
		logger: L,
		srv: &http.Server{
			Handler:           NewHandler(opts),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			MaxHeaderBytes:    DefaultMaxHeaderBytes,
		},
		served: make(chan struct{}),
	}
}

func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Addr is the bound address, nil until Listening.
func (s *Server) Addr() *net.TCPAddr { return s.addr.Load() }

// URL is the address reported in the startup record.
func (s *Server) URL() string { return s.url }

// Start binds host:port and serves in the background. A bind failure
// wraps ErrBind and leaves the server Unbound.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Unbound), int32(Binding)) {
		return xerrors.Newf("httpserver: start in state %s", s.State())
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		s.state.Store(int32(Unbound))
		return xerrors.EnsureTrace(fmt.Errorf("%w: %s: %w", ErrBind, addr, err))
	}

	tcp, _ := ln.Addr().(*net.TCPAddr)
	port := s.opts.Port
	if tcp != nil {
		port = tcp.Port
		s.addr.Store(tcp)
	}
	s.url = startURL(s.opts.PublicURL, s.opts.Host, port)
	s.srv.BaseContext = func(net.Listener) context.Context { return context.WithoutCancel(ctx) }
	s.state.Store(int32(Listening))

	log.Record(ctx, s.logger, "server", fmt.Sprintf("Server started on port %d", port), "url", s.url)

	go func() {
		defer close(s.served)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, err, "http server error")
		}
	}()
	return nil
}

// Stop drains in-flight requests, bounded by ctx and DefaultShutdownTimeout.
// Only the first call does any work.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		prev := State(s.state.Swap(int32(Stopped)))
		if prev != Listening {
			return
		}
		s.logger.Info(ctx, "http server shutting down")
		c, cancel := context.WithTimeout(ctx, DefaultShutdownTimeout)
		defer cancel()
		s.stopErr = s.srv.Shutdown(c)
		<-s.served
	})
	return s.stopErr
}

func startURL(publicURL, host string, port int) string {
	if publicURL != "" {
		return publicURL
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
