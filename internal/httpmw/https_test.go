package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEnforceHTTPS(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		proto    string
		wantCode int
		wantLoc  string
		wantNext bool
	}{
		{"https passes", http.MethodPost, "https", http.StatusOK, "", true},
		{"get redirects", http.MethodGet, "", http.StatusMovedPermanently, "https://example.com/a?b=1", false},
		{"head redirects", http.MethodHead, "http", http.StatusMovedPermanently, "https://example.com/a?b=1", false},
		{"post refused", http.MethodPost, "http", http.StatusForbidden, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := EnforceHTTPS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

			r := httptest.NewRequest(tt.method, "http://example.com/a?b=1", nil)
			if tt.proto != "" {
				r.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != tt.wantCode || called != tt.wantNext {
				t.Fatalf("code=%d called=%v", w.Code, called)
			}
			if got := w.Header().Get("Location"); got != tt.wantLoc {
				t.Errorf("Location = %q, want %q", got, tt.wantLoc)
			}
			if tt.wantCode == http.StatusForbidden && !strings.Contains(w.Body.String(), "Please use HTTPS") {
				t.Errorf("body = %q", w.Body.String())
			}
		})
	}
}

func TestEnforceHTTPS_SpoofedProtoStripped(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
		ClientIPWithOptions(ClientIPOptions{TrustedHops: 1}), EnforceHTTPS)

	r := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	r.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("public peer spoofing https got %d", w.Code)
	}
}
