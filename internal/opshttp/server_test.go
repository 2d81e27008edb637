package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/health"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/log"
	"github.com/keithlinneman/linnemanlabs-ssr/internal/log/logtest"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// serve sends a request from a loopback peer through NewHandler.
func serve(t *testing.T, opts Options, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	NewHandler(log.Nop(), opts).ServeHTTP(rec, req)
	return rec
}

func TestHandler_Probes(t *testing.T) {
	opts := Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(false, "client bundle not loaded"),
	}

	rec := serve(t, opts, "/-/healthy")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthy: %d %q", rec.Code, rec.Body.String())
	}

	rec = serve(t, opts, "/-/ready")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "client bundle not loaded") {
		t.Fatalf("ready: %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandler_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP fake_metric\n"))
	})

	rec := serve(t, Options{Metrics: metrics}, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "fake_metric") {
		t.Fatalf("metrics: %d %q", rec.Code, rec.Body.String())
	}

	if rec := serve(t, Options{}, "/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("nil metrics: status = %d, want 404", rec.Code)
	}
}

func TestHandler_Pprof(t *testing.T) {
	if rec := serve(t, Options{EnablePprof: true}, "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled: status = %d, want 200", rec.Code)
	}
	if rec := serve(t, Options{EnablePprof: false}, "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: status = %d, want 404", rec.Code)
	}
}

func TestHandler_RecoversPanics(t *testing.T) {
	panics := 0
	opts := Options{
		UseRecoverMW: true,
		OnPanic:      func() { panics++ },
		Health:       health.CheckFunc(func(context.Context) error { panic("probe exploded") }),
	}

	rec := serve(t, opts, "/-/healthy")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic calls = %d, want 1", panics)
	}
}

func TestRequireNonPublicNetwork(t *testing.T) {
	tests := []struct {
		addr    string
		allowed bool
	}{
		{"127.0.0.1:12345", true},
		{"[::1]:12345", true},
		{"10.0.0.1:8080", true},
		{"172.16.0.1:8080", true},
		{"192.168.1.1:8080", true},
		{"169.254.1.1:8080", true},
		{"[::ffff:10.0.0.1]:12345", true},
		{"8.8.8.8:12345", false},
		{"203.0.113.1:80", false},
		{"[::ffff:8.8.8.8]:12345", false},
		{"999.999.999.999:8080", false},
		{"not-an-address", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			spy := logtest.New()
			called := false
			h := requireNonPublicNetwork(spy, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			req := httptest.NewRequest(http.MethodGet, "/-/healthy", nil)
			req.RemoteAddr = tt.addr
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if called != tt.allowed {
				t.Fatalf("handler called = %v, want %v", called, tt.allowed)
			}
			if !tt.allowed {
				if rec.Code != http.StatusForbidden {
					t.Fatalf("status = %d, want 403", rec.Code)
				}
				if len(spy.Messages("ops request from public network refused")) != 1 {
					t.Fatal("refusal not logged")
				}
			}
		})
	}
}

func TestStart_ServesAndStops(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, log.Nop(), Options{Host: "127.0.0.1", Port: port, Health: health.Fixed(true, "")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok\n" {
		t.Fatalf("healthy: %d %q", resp.StatusCode, body)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for range 3 {
		if err := stop(sctx); err != nil {
			t.Fatalf("stop: %v", err)
		}
	}

	if _, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond); err == nil {
		t.Fatal("listener still accepting after stop")
	}
}

func TestStart_PortConflict(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, log.Nop(), Options{Host: "127.0.0.1", Port: port})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer stop(ctx)

	if _, err := Start(ctx, log.Nop(), Options{Host: "127.0.0.1", Port: port}); err == nil {
		t.Fatal("expected error for port conflict")
	}
}
