package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/health"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/pipeline"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/prof"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/render"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/sitehttp"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/static"
	v "github.com/keithlinneman/linnemanlabs-ssr/internal/version"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/webassets"
)

const (
	appName   = "linnemanlabs-ssr"
	component = "server"

	// how long readiness fails before the listeners close, so the load
	// balancer stops routing here first
	drainPeriod     = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var conf cfg.App
	var showVersion bool

	// flags > env > config file > defaults
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(appName, v.Get())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "LMLABS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if conf.ConfigFile != "" {
		tree, err := cfg.LoadFile(conf.ConfigFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
		if err := cfg.ApplyFile(flag.CommandLine, tree); err != nil {
			fmt.Fprintln(os.Stderr, "config error:", err)
			os.Exit(1)
		}
	}
	if conf.PublicURL == "" {
		conf.PublicURL = os.Getenv("PUBLIC_URL")
	}

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	mode, err := v.CurrentMode()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build error:", err)
		os.Exit(1)
	}
	vi := v.Get()

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl := slog.LevelError
	if conf.StacktraceLevel != "" {
		if stackLvl, err = log.ParseLevel(conf.StacktraceLevel); err != nil {
			fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
			os.Exit(1)
		}
	}
	lg, err := log.New(log.Options{
		App:               appName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildMode:         string(mode),
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildID,
		"build_date", vi.BuildDate,
		"build_mode", string(mode),
		"go_version", vi.GoVersion,
		"host", conf.Host,
		"port", conf.Port,
		"admin_port", conf.AdminPort,
		"client_web_path", conf.ClientWebPath,
		"bundle_from_s3", conf.BundleFromS3(),
		"service_worker", conf.ServiceWorker.Enabled,
		"client_dev_proxy", conf.ClientDevProxy,
		"enforce_https", conf.EnforceHTTPS,
		"password_protect", conf.PasswordProtect != "",
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_rate_limit", conf.EnableRateLimit,
		"request_timeout", conf.RequestTimeout.String(),
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, component, vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":        appName,
			"component":  component,
			"version":    vi.Version,
			"commit":     vi.Commit,
			"build_mode": string(mode),
		},
	})
	m.SetProfilingActive(err == nil && conf.EnablePyroscope)
	defer func() { stopProf() }()

	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: component,
		Version:   vi.Version,
		BuildMode: string(mode),
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// client bundle: a release from S3 swapped in by the watcher, or the
	// client output directory on disk
	bundles := bundle.NewManager()
	watcher, err := loadBundle(ctx, L, mode, conf.Site, bundles, m)
	if err != nil {
		L.Error(ctx, err, "failed to load client bundle")
		os.Exit(1)
	}
	if snap, ok := bundles.Get(); ok {
		m.SetBundle(string(snap.Source), snap.Hash, snap.Version, snap.LoadedAt)
	}

	renderer, err := newRenderer(ctx, L, mode, conf.Site)
	if err != nil {
		L.Error(ctx, err, "failed to set up renderer")
		os.Exit(1)
	}

	units, err := sitehttp.BuildUnits(mode, conf.Site, sitehttp.Deps{Bundle: bundles})
	if err != nil {
		L.Error(ctx, err, "failed to build middleware units")
		os.Exit(1)
	}
	seq, err := sitehttp.Assemble(mode, conf.Site, units)
	if err != nil {
		L.Error(ctx, err, "failed to assemble pipeline")
		os.Exit(1)
	}
	L.Info(ctx, "pipeline assembled", "stages", seq.Names())

	dispatcher, err := pipeline.NewDispatcher(seq, pipeline.Options{Renderer: renderer, Logger: L})
	if err != nil {
		L.Error(ctx, err, "failed to create dispatcher")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), health.BundleLoaded(bundles))

	siteOpts := httpserver.Options{
		Logger:    L,
		Host:      conf.Host,
		Port:      conf.Port,
		PublicURL: conf.PublicURL,
		// dispatcher is the fallback for everything else
		Registrars:     []func(chi.Router){sitehttp.New(dispatcher).RegisterRoutes},
		UseRecoverMW:   true,
		OnPanic:        m.IncHttpPanic,
		MetricsMW:      m.Middleware,
		ClientIP:       httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Bundle:         bundles,
		RequestTimeout: conf.RequestTimeout,
	}
	if conf.EnablePyroscope {
		siteOpts.ProfileMW = prof.Middleware
	}
	if conf.EnableRateLimit {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateLimitRPS, conf.RateLimitBurst),
			ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied() }),
			// logged once per visitor until it is evicted
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func(visitors int) {
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted", "visitors", visitors)
			}),
		)
		siteOpts.RateLimitMW = limiter.Middleware
	}

	site := httpserver.New(siteOpts)
	if err := site.Start(ctx); err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}

	// ops listener refuses public peers in middleware in case the security
	// group or load balancer ever routes the admin port
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		_ = site.Stop(context.Background())
		os.Exit(1)
	}

	if watcher != nil {
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				L.Error(ctx, err, "bundle watcher stopped")
			}
		}()
	}

	if err := notifySystemd(); err != nil {
		L.Debug(ctx, "systemd notify skipped", "reason", err.Error())
	}

	<-ctx.Done()
	stop()
	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer drains us
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed", "drain", drainPeriod.String())

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return site.Stop(shutdownCtx) })
	g.Go(func() error { return opsHTTPStop(shutdownCtx) })
	if err := g.Wait(); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// loadBundle fills mgr with the initial client bundle. For S3 releases it
// also returns the watcher that keeps the bundle current.
func loadBundle(ctx context.Context, L log.Logger, mode v.Mode, site cfg.Site, mgr *bundle.Manager, m *metrics.ServerMetrics) (*bundle.Watcher, error) {
	if !site.BundleFromS3() {
		dir := static.ResolveDir(site.AppRoot, site.ClientOutputPath)
		snap, err := bundle.FromDir(dir)
		if err != nil {
			// the dev server may not have produced a build yet
			if mode.IsDevelopment() {
				L.Warn(ctx, "client bundle directory unavailable", "dir", dir, "error", err.Error())
				return nil, nil
			}
			return nil, err
		}
		mgr.Set(*snap)
		L.Info(ctx, "serving client bundle from disk", "dir", dir, "version", snap.Version)
		return nil, nil
	}

	var required []string
	if mode.IsProduction() && site.ServiceWorker.Enabled {
		required = []string{site.ServiceWorker.FileName, site.ServiceWorker.OfflinePageFileName}
	}
	loader, err := bundle.NewLoader(ctx, bundle.LoaderOptions{
		Logger:        L,
		SSMParam:      site.BundleSSMParam,
		S3Bucket:      site.BundleS3Bucket,
		S3Prefix:      site.BundleS3Prefix,
		SigningKeyARN: site.BundleSigningKeyARN,
		Required:      required,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	snap, err := loader.Load(ctx)
	if err != nil {
		m.IncBundleError("load")
		return nil, err
	}
	m.ObserveBundleLoadDuration(time.Since(start).Seconds())
	mgr.Set(*snap)
	L.Info(ctx, "loaded client bundle release",
		"bundle_version", snap.Version,
		"bundle_hash", snap.Hash,
	)

	return bundle.NewWatcher(bundle.WatcherOptions{
		Logger:       L,
		Loader:       loader,
		Manager:      mgr,
		PollInterval: site.BundlePollInterval,
		Metrics:      m,
		OnSwap: func(hash, version string) {
			m.SetBundle(string(bundle.SourceS3), hash, version, time.Now())
		},
	}), nil
}

// newRenderer uses the embedded templates, or in development a templates
// directory that is re-parsed on change.
func newRenderer(ctx context.Context, L log.Logger, mode v.Mode, site cfg.Site) (*render.Renderer, error) {
	opts := render.Options{
		Templates:      webassets.Templates(),
		SiteName:       "linnemanlabs",
		WelcomeMessage: site.WelcomeMessage,
		ClientScript:   path.Join(site.ClientWebPath, "index.js"),
		ClientStyle:    path.Join(site.ClientWebPath, "index.css"),
	}
	if mode.IsProduction() && site.ServiceWorker.Enabled {
		opts.ServiceWorker = "/" + site.ServiceWorker.FileName
	}

	live := mode.IsDevelopment() && site.TemplatesDir != ""
	if live {
		opts.Templates = os.DirFS(site.TemplatesDir)
	}
	rd, err := render.New(opts)
	if err != nil {
		return nil, err
	}
	if live {
		if err := rd.Watch(ctx, site.TemplatesDir, L); err != nil {
			return nil, err
		}
		L.Info(ctx, "watching templates", "dir", site.TemplatesDir)
	}
	return rd, nil
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when started with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return conn.Close()
}
