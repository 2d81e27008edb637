package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
)

// ServiceWorker controls delivery of the generated service worker and its
// offline fallback page.
type ServiceWorker struct {
	Enabled             bool
	FileName            string
	OfflinePageFileName string
}

// Site is the configuration the request pipeline is assembled from.
type Site struct {
	Host                string
	Port                int
	PublicURL           string
	AppRoot             string
	PublicAssetsPath    string
	ClientWebPath       string
	ClientOutputPath    string
	ServiceWorker       ServiceWorker
	ClientDevProxy      bool
	ClientDevServerPort int
	EnforceHTTPS        bool
	PasswordProtect     string
	WelcomeMessage      string
	TemplatesDir        string

	BundleSSMParam      string
	BundleS3Bucket      string
	BundleS3Prefix      string
	BundleSigningKeyARN string
	BundlePollInterval  time.Duration
}

// BundleFromS3 reports whether the client bundle comes from a release in S3
// rather than ClientOutputPath on disk.
func (s Site) BundleFromS3() bool { return s.BundleS3Bucket != "" }

type App struct {
	Site

	ConfigFile        string
	LogJSON           bool
	LogLevel          string
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	RequestTimeout    time.Duration
	TrustedProxyHops  int
	EnableRateLimit   bool
	RateLimitRPS      float64
	RateLimitBurst    int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.ConfigFile, "config", "", "YAML site config file (dotted keys, e.g. bundles.client.webPath)")

	// site
	fs.StringVar(&c.Host, "host", "localhost", "listen host")
	fs.IntVar(&c.Port, "port", 1337, "listen TCP port (1..65535)")
	fs.StringVar(&c.PublicURL, "public-url", "", "externally reachable URL, logged at startup (falls back to PUBLIC_URL)")
	fs.StringVar(&c.AppRoot, "app-root", ".", "application root directory that relative paths resolve against")
	fs.StringVar(&c.PublicAssetsPath, "public-assets-path", "./public", "static public assets directory, served off /")
	fs.StringVar(&c.ClientWebPath, "client-web-path", "/client/", "URL prefix of the client bundle")
	fs.StringVar(&c.ClientOutputPath, "client-output-path", "./build/client", "client bundle directory on disk")
	fs.BoolVar(&c.ServiceWorker.Enabled, "sw-enabled", true, "serve the service worker (production builds only)")
	fs.StringVar(&c.ServiceWorker.FileName, "sw-file-name", "sw.js", "service worker file name, served at /<name>")
	fs.StringVar(&c.ServiceWorker.OfflinePageFileName, "sw-offline-page", "offline.html", "offline page file name under client-web-path")
	fs.BoolVar(&c.ClientDevProxy, "client-dev-proxy", false, "proxy client dev server requests (development builds only)")
	fs.IntVar(&c.ClientDevServerPort, "client-dev-server-port", 7331, "client dev server TCP port")
	fs.BoolVar(&c.EnforceHTTPS, "enforce-https", false, "redirect plain http requests (production builds only)")
	fs.StringVar(&c.PasswordProtect, "password-protect", "", "user:password (or user:bcrypt-hash) enables basic auth")
	fs.StringVar(&c.WelcomeMessage, "welcome-message", "Hello world!", "message shown on the home page")
	fs.StringVar(&c.TemplatesDir, "templates-dir", "", "render templates from this directory and reload on change (development builds only)")

	// release bundle
	fs.StringVar(&c.BundleS3Bucket, "bundle-s3-bucket", "", "s3 bucket holding client bundle releases (empty serves client-output-path)")
	fs.StringVar(&c.BundleS3Prefix, "bundle-s3-prefix", "apps/linnemanlabs-ssr/client/bundles", "s3 prefix (key) of client bundle releases")
	fs.StringVar(&c.BundleSSMParam, "bundle-ssm-param", "/app/linnemanlabs-ssr/client/stable/release/id", "ssm parameter holding the active bundle hash")
	fs.StringVar(&c.BundleSigningKeyARN, "bundle-signing-key-arn", "", "KMS key ARN for bundle signature verification (empty skips verification)")
	fs.DurationVar(&c.BundlePollInterval, "bundle-poll-interval", 30*time.Second, "how often to check ssm for a new bundle")

	// ops
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", 30*time.Second, "per-request deadline; exceeded requests are answered 503")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "reverse proxies in front of the site listener whose X-Forwarded-* headers are trusted")
	fs.BoolVar(&c.EnableRateLimit, "enable-rate-limit", true, "per client IP rate limiting on the site listener")
	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 20, "sustained requests per second per client IP")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 40, "burst size per client IP")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// EnvKey maps flag "foo-bar" to PREFIX_FOO_BAR.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
// Absent required site keys are reported wrapping ErrMissing.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d (must be 1..65535)", c.Port))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.Port {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and PORT must differ (both %d)", c.Port))
	}

	errs = append(errs, validateSite(c.Site)...)

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL, scheme and tenant)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Error link limits
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive (got %s)", c.RequestTimeout))
	}

	if c.TrustedProxyHops < 0 || c.TrustedProxyHops > 8 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be 0..8 (got %d)", c.TrustedProxyHops))
	}
	// the https check reads X-Forwarded-Proto, which is stripped unless a proxy is trusted
	if c.EnforceHTTPS && c.TrustedProxyHops == 0 {
		errs = append(errs, errors.New("ENFORCE_HTTPS requires TRUSTED_PROXY_HOPS >= 1"))
	}

	if c.EnableRateLimit {
		if c.RateLimitRPS <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be > 0 (got %g)", c.RateLimitRPS))
		}
		if c.RateLimitBurst < 1 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateSite(s Site) []error {
	var errs []error

	if s.Host == "" {
		errs = append(errs, Missing("host"))
	}
	if s.PublicAssetsPath == "" {
		errs = append(errs, Missing("publicAssetsPath"))
	}
	if s.ClientWebPath == "" {
		errs = append(errs, Missing("bundles.client.webPath"))
	} else if !strings.HasPrefix(s.ClientWebPath, "/") || !strings.HasSuffix(s.ClientWebPath, "/") {
		errs = append(errs, fmt.Errorf("CLIENT_WEB_PATH must start and end with / (got %q)", s.ClientWebPath))
	}
	if s.ClientOutputPath == "" && !s.BundleFromS3() {
		errs = append(errs, Missing("bundles.client.outputPath"))
	}

	if s.ServiceWorker.Enabled {
		if s.ServiceWorker.FileName == "" {
			errs = append(errs, Missing("serviceWorker.fileName"))
		} else if strings.Contains(s.ServiceWorker.FileName, "/") {
			errs = append(errs, fmt.Errorf("SW_FILE_NAME must be a bare file name (got %q)", s.ServiceWorker.FileName))
		}
		if s.ServiceWorker.OfflinePageFileName == "" {
			errs = append(errs, Missing("serviceWorker.offlinePageFileName"))
		}
	}

	if s.ClientDevProxy && (s.ClientDevServerPort < 1 || s.ClientDevServerPort > 65535) {
		errs = append(errs, fmt.Errorf("invalid CLIENT_DEV_SERVER_PORT %d (must be 1..65535)", s.ClientDevServerPort))
	}

	if s.PasswordProtect != "" {
		user, pass, ok := strings.Cut(s.PasswordProtect, ":")
		if !ok || user == "" || pass == "" {
			errs = append(errs, fmt.Errorf("PASSWORD_PROTECT must be user:password"))
		}
	}

	if s.PublicURL != "" {
		if u, err := url.Parse(s.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PUBLIC_URL must be a URL (got %q)", s.PublicURL))
		}
	}

	if s.BundleFromS3() {
		if s.BundleSSMParam == "" {
			errs = append(errs, Missing("bundles.client.ssmParam"))
		}
		if s.BundleS3Prefix == "" {
			errs = append(errs, Missing("bundles.client.s3Prefix"))
		}
		if s.BundlePollInterval < time.Second {
			errs = append(errs, fmt.Errorf("BUNDLE_POLL_INTERVAL must be >= 1s (got %s)", s.BundlePollInterval))
		}
	}

	return errs
}
