package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"finanse/internal/log"
)

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/months", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for name, value := range want {
		if got := rr.Header().Get(name); got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	if rr.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must only be sent over TLS")
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/months", nil)
	req.TLS = &tls.ConnectionState{}
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("HSTS = %q", got)
	}
}

func TestInspect(t *testing.T) {
	d := NewDetector(log.Discard())
	tests := []struct {
		name   string
		method string
		target string
		header map[string]string
		reason string
	}{
		{"plain api call", http.MethodGet, "/api/expenses?month=2025-06", map[string]string{"User-Agent": "finanse-app/1.0", "X-Owner-ID": "u1"}, ""},
		{"path traversal", http.MethodGet, "/api/../../etc/passwd", nil, "probe pattern ../"},
		{"eval in query", http.MethodGet, "/api/expenses?category=eval(1)", nil, "probe pattern eval("},
		{"scanner agent", http.MethodGet, "/", map[string]string{"User-Agent": "sqlmap/1.7"}, "scanner agent sqlmap"},
		{"trace method", "TRACE", "/", nil, "method TRACE"},
		{"control character in owner", http.MethodGet, "/api/months", map[string]string{"X-Owner-ID": "u1\x01"}, "control character in owner header"},
		{"forwarding chain", http.MethodGet, "/api/months", map[string]string{"X-Forwarded-For": "1.1.1.1,2.2.2.2,3.3.3.3,4.4.4.4,5.5.5.5,6.6.6.6,7.7.7.7"}, "too many forwarding hops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := d.Inspect(req); got != tt.reason {
				t.Errorf("Inspect() = %q, want %q", got, tt.reason)
			}
		})
	}
	if got := d.GetMetrics().SuspiciousRequests; got != 6 {
		t.Errorf("SuspiciousRequests = %d, want 6", got)
	}
}

func TestDetectorMiddlewarePassesThrough(t *testing.T) {
	d := NewDetector(log.Discard())
	h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.env", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rr.Code)
	}
	if d.GetMetrics().SuspiciousRequests != 1 {
		t.Error("probe was not counted")
	}
}

func TestExtractClientIP(t *testing.T) {
	d := NewDetector(log.Discard())
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct", "203.0.113.7:5555", "", "203.0.113.7"},
		{"untrusted proxy is ignored", "203.0.113.7:5555", "198.51.100.1", "203.0.113.7"},
		{"trusted proxy", "10.0.0.2:5555", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
		{"garbage forwarded header", "10.0.0.2:5555", "not-an-ip", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := d.ExtractClientIP(req); got != tt.want {
				t.Errorf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddTrustedProxy(t *testing.T) {
	d := NewDetector(log.Discard())
	if err := d.AddTrustedProxy("bogus"); err == nil {
		t.Error("expected an error for an invalid CIDR")
	}
	if err := d.AddTrustedProxy("203.0.113.0/24"); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:1"
	req.Header.Set("X-Real-IP", "198.51.100.9")
	if got := d.ExtractClientIP(req); got != "198.51.100.9" {
		t.Errorf("ExtractClientIP() = %q", got)
	}
}
