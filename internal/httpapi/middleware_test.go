package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sanamind.org/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(rateLimit(base, 1, 1, false))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" || body["success"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["request_id"] == "" {
		t.Fatalf("expected request_id in body")
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("buckets must be per client, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	handler := rateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), 1, 1, false)

	for i, xff := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if i == 1 && rr.Code != http.StatusTooManyRequests {
			t.Fatalf("spoofed X-Forwarded-For bypassed the limiter")
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := clientIP(req, false); got != "192.0.2.1" {
		t.Fatalf("untrusted clientIP = %s", got)
	}
	if got := clientIP(req, true); got != "203.0.113.5" {
		t.Fatalf("trusted clientIP = %s", got)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := obs.SetLogger(zap.New(core))
	defer restore()

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/dossiers/d-1/download?token=secret-token", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.Header.Set(requestIDHeader, "req-abc")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if fields["request_id"] != "req-abc" {
		t.Fatalf("request id not propagated: %v", fields["request_id"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", fields["status"])
	}
	if fields["path"] != "/dossiers/:id/download" {
		t.Fatalf("path must be canonical and token-free: %v", fields["path"])
	}
}

func TestRequestIDRejectsHostileValues(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen == "" || seen == "bad id\nwith newline" {
		t.Fatalf("expected a generated request id, got %q", seen)
	}
	if rr.Header().Get(requestIDHeader) != seen {
		t.Fatalf("response header does not echo request id")
	}
}

func TestSecurityHeadersAndCORS(t *testing.T) {
	handler := SecurityHeaders(CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"https://app.sanamind.example"}))

	req := httptest.NewRequest(http.MethodOptions, "/dossiers/d-1", nil)
	req.Header.Set("Origin", "https://app.sanamind.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.sanamind.example" {
		t.Fatalf("configured origin not allowed")
	}
	if rr.Header().Get("Cache-Control") != "no-store" || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing hardening headers")
	}

	req = httptest.NewRequest(http.MethodGet, "/dossiers/d-1", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}
