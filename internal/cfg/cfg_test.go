package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if c.Host != "localhost" || c.Port != 1337 {
		t.Errorf("bind = %s:%d, want localhost:1337", c.Host, c.Port)
	}
	if c.ClientWebPath != "/client/" {
		t.Errorf("ClientWebPath = %q", c.ClientWebPath)
	}
	if c.PublicAssetsPath != "./public" {
		t.Errorf("PublicAssetsPath = %q", c.PublicAssetsPath)
	}
	if !c.ServiceWorker.Enabled || c.ServiceWorker.FileName != "sw.js" || c.ServiceWorker.OfflinePageFileName != "offline.html" {
		t.Errorf("ServiceWorker = %+v", c.ServiceWorker)
	}
	if c.ClientDevProxy || c.EnforceHTTPS || c.PasswordProtect != "" {
		t.Error("optional stages should default off")
	}
	if c.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %s, want 30s", c.RequestTimeout)
	}
	if !c.LogJSON || c.LogLevel != "info" || c.AdminPort != 9000 {
		t.Errorf("ops defaults = json:%v level:%q admin:%d", c.LogJSON, c.LogLevel, c.AdminPort)
	}
	if c.BundleFromS3() {
		t.Error("bundle should default to disk")
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-host=0.0.0.0",
		"-port=8080",
		"-client-web-path=/assets/",
		"-sw-enabled=false",
		"-enforce-https=true",
		"-password-protect=admin:secret",
		"-welcome-message=hi",
		"-log-level=debug",
		"-request-timeout=5s",
		"-bundle-s3-bucket=releases",
	})

	if c.Host != "0.0.0.0" || c.Port != 8080 {
		t.Errorf("bind = %s:%d", c.Host, c.Port)
	}
	if c.ClientWebPath != "/assets/" {
		t.Errorf("ClientWebPath = %q", c.ClientWebPath)
	}
	if c.ServiceWorker.Enabled {
		t.Error("ServiceWorker.Enabled: want false")
	}
	if !c.EnforceHTTPS || c.PasswordProtect != "admin:secret" || c.WelcomeMessage != "hi" {
		t.Errorf("site overrides not applied: %+v", c.Site)
	}
	if c.LogLevel != "debug" || c.RequestTimeout != 5*time.Second {
		t.Errorf("ops overrides not applied: level=%q timeout=%s", c.LogLevel, c.RequestTimeout)
	}
	if !c.BundleFromS3() {
		t.Error("BundleFromS3: want true")
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"PORT", "8088")
	t.Setenv(pfx+"CLIENT_DEV_PROXY", "true")
	t.Setenv(pfx+"SW_FILE_NAME", "worker.js")
	t.Setenv(pfx+"LOG_JSON", "false")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.Port != 8088 {
		t.Errorf("Port: want 8088, got %d", c.Port)
	}
	if !c.ClientDevProxy {
		t.Error("ClientDevProxy: want true from env")
	}
	if c.ServiceWorker.FileName != "worker.js" {
		t.Errorf("FileName = %q", c.ServiceWorker.FileName)
	}
	if c.LogJSON {
		t.Error("LogJSON: want false from env")
	}
	if c.TraceSample != 0.25 {
		t.Errorf("TraceSample: want 0.25, got %f", c.TraceSample)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-port=9090", "-log-level=debug"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.Port != 9090 || c.LogLevel != "debug" {
		t.Errorf("cli should win: port=%d level=%q", c.Port, c.LogLevel)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 override messages, got %d: %v", len(msgs), msgs)
	}
	for _, msg := range msgs {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var msgs []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		msgs = append(msgs, fmt.Sprintf(format, args...))
	})

	if c.Port != 1337 {
		t.Errorf("Port: want 1337 (default), got %d", c.Port)
	}
	if len(msgs) != 1 || !strings.Contains(msgs[0], "ignoring invalid env") {
		t.Fatalf("unexpected log messages: %v", msgs)
	}
}

func TestEnvKey(t *testing.T) {
	if got := EnvKey("LMLABS_", "client-web-path"); got != "LMLABS_CLIENT_WEB_PATH" {
		t.Fatalf("EnvKey = %q", got)
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
		"-password-protect=admin:$2a$10$abcdefghijklmnopqrstuv",
		"-public-url=https://example.com",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-include-error-links=true",
		"-max-error-links=0",
		"-client-web-path=client",
		"-password-protect=nocolon",
		"-request-timeout=0s",
		"-rate-limit-burst=0",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	wantErrContains(t, err, "invalid PORT")
	wantErrContains(t, err, "invalid ADMIN_PORT")
	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "PYRO_TENANT required")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "MAX_ERROR_LINKS")
	wantErrContains(t, err, "CLIENT_WEB_PATH must start and end with /")
	wantErrContains(t, err, "PASSWORD_PROTECT must be user:password")
	wantErrContains(t, err, "REQUEST_TIMEOUT must be positive")
	wantErrContains(t, err, "RATE_LIMIT_BURST")
	if strings.Contains(err.Error(), "nocolon") {
		t.Fatal("password value must not appear in errors")
	}
}

func TestValidate_MissingKeys(t *testing.T) {
	c := newTestConfig(t, []string{
		"-host=",
		"-client-web-path=",
		"-public-assets-path=",
		"-sw-file-name=",
	})

	err := Validate(c)
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("Validate() = %v, want ErrMissing", err)
	}
	for _, key := range []string{"host", "bundles.client.webPath", "publicAssetsPath", "serviceWorker.fileName"} {
		wantErrContains(t, err, key)
	}
}

func TestValidate_S3BundleNeedsParam(t *testing.T) {
	c := newTestConfig(t, []string{
		"-bundle-s3-bucket=releases",
		"-bundle-ssm-param=",
		"-client-output-path=",
	})

	err := Validate(c)
	if !errors.Is(err, ErrMissing) {
		t.Fatalf("Validate() = %v, want ErrMissing", err)
	}
	wantErrContains(t, err, "bundles.client.ssmParam")
	if strings.Contains(err.Error(), "bundles.client.outputPath") {
		t.Fatal("outputPath is not required for an s3 bundle")
	}
}

func TestValidate_EnforceHTTPSNeedsTrustedProxy(t *testing.T) {
	err := Validate(newTestConfig(t, []string{"-enforce-https"}))
	wantErrContains(t, err, "ENFORCE_HTTPS requires TRUSTED_PROXY_HOPS")

	if err := Validate(newTestConfig(t, []string{"-enforce-https", "-trusted-proxy-hops=1"})); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	err = Validate(newTestConfig(t, []string{"-trusted-proxy-hops=-1"}))
	wantErrContains(t, err, "TRUSTED_PROXY_HOPS must be 0..8")
}
