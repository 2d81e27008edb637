package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/httpmw"
)

func newTestLimiter(t *testing.T, opts ...Option) *IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	defaults := []Option{WithRate(10, 5), WithTTL(100 * time.Millisecond)}
	return New(ctx, append(defaults, opts...)...)
}

func TestAllow_BurstThenReject(t *testing.T) {
	l := newTestLimiter(t, WithRate(1, 5))
	for i := range 5 {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d should be within burst", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("request 6 should be denied")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("other IPs have their own bucket")
	}
}

func TestAllow_Refills(t *testing.T) {
	l := newTestLimiter(t, WithRate(50, 1))
	if !l.allow("10.0.0.1") || l.allow("10.0.0.1") {
		t.Fatal("burst of 1 should allow one then deny")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.allow("10.0.0.1") {
		t.Fatal("token should have refilled")
	}
}

func TestHooks(t *testing.T) {
	var first, denied []string
	l := newTestLimiter(t,
		WithRate(0.001, 1),
		WithOnFirstDenied(func(ip string) { first = append(first, ip) }),
		WithOnDenied(func(ip string) { denied = append(denied, ip) }),
	)

	for range 4 {
		l.allow("10.0.0.1")
	}
	l.allow("10.0.0.2")
	l.allow("10.0.0.2")

	if len(first) != 2 || first[0] != "10.0.0.1" || first[1] != "10.0.0.2" {
		t.Fatalf("first denials = %v, want one per IP", first)
	}
	if len(denied) != 4 {
		t.Fatalf("denials = %d, want 4", len(denied))
	}
}

func TestCleanup_EvictsIdleVisitors(t *testing.T) {
	l := newTestLimiter(t)
	l.allow("10.0.0.1")
	if l.Len() != 1 {
		t.Fatalf("visitors = %d, want 1", l.Len())
	}

	deadline := time.Now().Add(2 * time.Second)
	for l.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle visitor was not evicted")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestEvict_ResetsFirstDenialAndCapacity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // drive eviction by hand
	var first, capacity atomic.Int32
	l := New(ctx,
		WithRate(0.001, 1),
		WithTTL(time.Minute),
		WithMaxVisitors(1),
		WithOnFirstDenied(func(string) { first.Add(1) }),
		WithOnCapacity(func(int) { capacity.Add(1) }),
	)

	l.allow("10.0.0.1")
	l.allow("10.0.0.1")
	if l.allow("10.0.0.2") || l.allow("10.0.0.3") {
		t.Fatal("new IPs must be denied at capacity")
	}
	if capacity.Load() != 1 {
		t.Fatalf("capacity hook = %d, want 1", capacity.Load())
	}

	l.evict(time.Now().Add(2 * time.Minute))
	if l.Len() != 0 {
		t.Fatalf("visitors = %d after evict", l.Len())
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("eviction should free capacity")
	}

	l.allow("10.0.0.2")
	l.evict(time.Now().Add(2 * time.Minute))
	l.allow("10.0.0.1")
	l.allow("10.0.0.1")
	if first.Load() != 3 {
		t.Fatalf("first denial hook = %d, want it to fire again after eviction", first.Load())
	}
}

func TestMaxVisitors_ZeroDisables(t *testing.T) {
	l := newTestLimiter(t, WithMaxVisitors(0))
	for i := range 50 {
		if !l.allow(fmt.Sprintf("10.0.%d.1", i)) {
			t.Fatal("no cap expected")
		}
	}
}

func serveFrom(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(httpmw.WithClientIP(req.Context(), ip))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	l := newTestLimiter(t, WithRate(0.001, 2))
	var reached int
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	}))

	for range 2 {
		if rec := serveFrom(h, "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("status = %d within burst", rec.Code)
		}
	}
	rec := serveFrom(h, "10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Body.String() != deniedBody {
		t.Fatalf("429 response = %v %q", rec.Header(), rec.Body.String())
	}
	if reached != 2 {
		t.Fatalf("handler reached %d times, want 2", reached)
	}

	if rec := serveFrom(h, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Fatal("other IPs unaffected")
	}
}

func TestMiddleware_ConcurrentAccess(t *testing.T) {
	l := newTestLimiter(t, WithRate(1000, 1000), WithMaxVisitors(10))
	h := l.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveFrom(h, fmt.Sprintf("10.0.0.%d", i%20))
		}()
	}
	wg.Wait()
	if n := l.Len(); n > 10 {
		t.Fatalf("visitors = %d, exceeds cap", n)
	}
}
