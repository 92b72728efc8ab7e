package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ag3nt-dev/gateway/internal/ratelimit"
	"github.com/ag3nt-dev/gateway/internal/sessions"
	"github.com/ag3nt-dev/gateway/internal/usage"
)

func TestHandleHealth(t *testing.T) {
	s := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body[ok] = %v, want true", body["ok"])
	}
}

func TestHandleUsageEmptyTracker(t *testing.T) {
	s := New(Config{Usage: usage.New(10)})
	req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleSessionsMissingIDIsBadRequest(t *testing.T) {
	store := sessions.NewMemoryStore()
	mgr := sessions.NewManager(sessions.ManagerConfig{}, store, sessions.NewAllowlist())
	s := New(Config{Sessions: mgr})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSessionsNotFound(t *testing.T) {
	store := sessions.NewMemoryStore()
	mgr := sessions.NewManager(sessions.ManagerConfig{}, store, sessions.NewAllowlist())
	s := New(Config{Sessions: mgr})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions?id=missing:missing:missing", nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSessionsFound(t *testing.T) {
	store := sessions.NewMemoryStore()
	mgr := sessions.NewManager(sessions.ManagerConfig{DMPolicy: sessions.DMPolicyOpen}, store, sessions.NewAllowlist())
	mgr.GetOrCreate("telegram", "c1", "chat1", "u1", "alice")
	s := New(Config{Sessions: mgr})

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions?id="+sessions.BuildID("telegram", "c1", "chat1"), nil)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimitedEndpointReturns429WhenExhausted(t *testing.T) {
	s := New(Config{GlobalLimiter: ratelimit.New(1, time.Minute)})

	req1 := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	rec1 := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
	rec2 := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
	if rec2.Header().Get("X-RateLimit-Remaining") == "" {
		t.Fatal("expected X-RateLimit-Remaining header to be set")
	}
	if rec2.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("X-RateLimit-Limit = %q, want %q", rec2.Header().Get("X-RateLimit-Limit"), "1")
	}

	var body map[string]any
	if err := json.Unmarshal(rec2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != false {
		t.Fatalf("body[ok] = %v, want false", body["ok"])
	}
	if body["code"] != "GW-API-004" {
		t.Fatalf("body[code] = %v, want GW-API-004", body["code"])
	}
	if _, ok := body["retryAfter"]; !ok {
		t.Fatal("expected top-level retryAfter field")
	}
}

func TestCheckOriginAllowsEmptyOriginAndConfiguredList(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"https://example.com"}})

	noOrigin := httptest.NewRequest(http.MethodGet, "/ws/node", nil)
	if !s.checkOrigin(noOrigin) {
		t.Fatal("expected empty Origin header to be allowed (non-browser client)")
	}

	allowed := httptest.NewRequest(http.MethodGet, "/ws/node", nil)
	allowed.Header.Set("Origin", "https://example.com")
	if !s.checkOrigin(allowed) {
		t.Fatal("expected configured origin to be allowed")
	}

	rejected := httptest.NewRequest(http.MethodGet, "/ws/node", nil)
	rejected.Header.Set("Origin", "https://evil.example")
	if s.checkOrigin(rejected) {
		t.Fatal("expected unlisted origin to be rejected")
	}
}

func TestCheckOriginAllowsAllWhenUnconfigured(t *testing.T) {
	s := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/ws/node", nil)
	req.Header.Set("Origin", "https://anything.example")
	if !s.checkOrigin(req) {
		t.Fatal("expected all origins to be allowed when AllowedOrigins is empty")
	}
}
