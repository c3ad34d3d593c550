package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/DukeRupert/besttutor/internal/auth"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/handler"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testResponder() *handler.Responder {
	return handler.NewResponder(discardLogger(), "https://example.com/pricing")
}

type failingStore struct{}

func (failingStore) Consume(context.Context, string, int, time.Duration) (ratelimit.Reservation, error) {
	return ratelimit.Reservation{}, errors.New("redis: connection refused")
}

func (failingStore) Peek(context.Context, string, int, time.Duration) (ratelimit.Reservation, error) {
	return ratelimit.Reservation{}, errors.New("redis: connection refused")
}

func withProfile(r *http.Request, p *domain.Profile) *http.Request {
	return r.WithContext(auth.SetProfile(r.Context(), p))
}

// =============================================================================
// API Rate Limiter Tests
// =============================================================================

func TestAPIRateLimiter_AllowsUnderLimit(t *testing.T) {
	limiter := NewAPIRateLimiter(ratelimit.NewMemoryStore(), 3, time.Minute, testResponder(), discardLogger())
	wrapped := limiter.Limit(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/notes", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected status 200, got %d", i+1, rec.Code)
		}
	}
}

func TestAPIRateLimiter_BlocksAfterLimit(t *testing.T) {
	limiter := NewAPIRateLimiter(ratelimit.NewMemoryStore(), 2, time.Minute, testResponder(), discardLogger())
	wrapped := limiter.Limit(okHandler())

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/api/notes", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec = httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Errorf("Retry-After = %q, want 1..60 seconds", rec.Header().Get("Retry-After"))
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected JSON error, got Content-Type %q", got)
	}
}

func TestAPIRateLimiter_KeysByProfile(t *testing.T) {
	limiter := NewAPIRateLimiter(ratelimit.NewMemoryStore(), 1, time.Minute, testResponder(), discardLogger())
	wrapped := limiter.Limit(okHandler())

	alice := &domain.Profile{ID: uuid.New()}
	bob := &domain.Profile{ID: uuid.New()}

	// Same IP, different profiles: each gets its own budget.
	for _, p := range []*domain.Profile{alice, bob} {
		req := withProfile(httptest.NewRequest("GET", "/api/notes", nil), p)
		req.RemoteAddr = "10.0.0.1:1"
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("profile %s: expected status 200, got %d", p.ID, rec.Code)
		}
	}

	req := withProfile(httptest.NewRequest("GET", "/api/notes", nil), alice)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request for alice: expected 429, got %d", rec.Code)
	}
}

func TestAPIRateLimiter_FailsOpen(t *testing.T) {
	limiter := NewAPIRateLimiter(failingStore{}, 1, time.Minute, testResponder(), discardLogger())
	wrapped := limiter.Limit(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/api/notes", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200 when the store is down, got %d", rec.Code)
		}
	}
}

// =============================================================================
// Client IP Tests
// =============================================================================

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", "", "", "192.168.1.1"},
		{"remote addr without port", "192.168.1.1", "", "", "192.168.1.1"},
		{"forwarded for", "10.0.0.1:1", "203.0.113.195, 70.41.3.18", "", "203.0.113.195"},
		{"real ip", "10.0.0.1:1", "", " 198.51.100.7 ", "198.51.100.7"},
		{"forwarded wins", "10.0.0.1:1", "203.0.113.1", "198.51.100.7", "203.0.113.1"},
		{"empty forwarded", "10.0.0.1:1", " ,1.2.3.4", "", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
