package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// =============================================================================
// Request Logging Middleware Tests
// =============================================================================

func newLoggingTest(status int) (*bytes.Buffer, http.Handler) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := NewRequestLoggingMiddleware(logger)
	return &buf, mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestRequestLoggingMiddleware_LogsBasicInfo(t *testing.T) {
	buf, h := newLoggingTest(http.StatusOK)

	req := httptest.NewRequest("GET", "/api/notes", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	req.Header.Set("User-Agent", "tutor-app/1.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := buf.String()
	for _, want := range []string{"method=GET", "path=/api/notes", "status=200", "duration_ms=", "ip=192.168.1.1", "tutor-app/1.0", "level=INFO"} {
		if !strings.Contains(out, want) {
			t.Errorf("log should contain %q, got: %s", want, out)
		}
	}
}

func TestRequestLoggingMiddleware_LogLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=INFO"},
		{http.StatusTooManyRequests, "level=INFO"},
		{http.StatusInternalServerError, "level=ERROR"},
		{http.StatusServiceUnavailable, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			buf, h := newLoggingTest(tt.status)
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/me", nil))
			if !strings.Contains(buf.String(), tt.level) {
				t.Errorf("expected %s, got: %s", tt.level, buf.String())
			}
		})
	}
}

func TestRequestLoggingMiddleware_AssignsRequestID(t *testing.T) {
	var seen string
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/me", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("expected a UUID request ID in context, got %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
}

func TestRequestLoggingMiddleware_KeepsIncomingRequestID(t *testing.T) {
	buf, h := newLoggingTest(http.StatusOK)
	incoming := uuid.NewString()

	req := httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != incoming {
		t.Errorf("request ID = %q, want %q", got, incoming)
	}
	if !strings.Contains(buf.String(), incoming) {
		t.Errorf("log should contain request ID, got: %s", buf.String())
	}

	// Junk IDs are replaced.
	req = httptest.NewRequest("GET", "/api/me", nil)
	req.Header.Set(RequestIDHeader, "<script>")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got == "<script>" || got == "" {
		t.Errorf("invalid incoming ID should be replaced, got %q", got)
	}
}

func TestRequestLoggingMiddleware_RedactsSensitiveQueryParams(t *testing.T) {
	buf, h := newLoggingTest(http.StatusOK)

	req := httptest.NewRequest("GET", "/billing/success?session_id=cs_test_123&token=abc&subject=math", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, secret := range []string{"cs_test_123", "token=abc"} {
		if strings.Contains(out, secret) {
			t.Errorf("log should not contain %q, got: %s", secret, out)
		}
	}
	if !strings.Contains(out, "subject=math") {
		t.Errorf("log should keep harmless params, got: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("log should mark redactions, got: %s", out)
	}
}

func TestRequestLoggingMiddleware_CapturesFirstStatus(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
		w.WriteHeader(http.StatusTeapot) // superfluous, ignored by net/http
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/joke", nil))

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("expected implicit 200, got: %s", buf.String())
	}
}

func TestRequestLoggingMiddleware_SkipsProbes(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		buf, h := newLoggingTest(http.StatusOK)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))

		if buf.Len() != 0 {
			t.Errorf("%s should not be logged, got: %s", path, buf.String())
		}
		if rec.Header().Get(RequestIDHeader) == "" {
			t.Errorf("%s should still get a request ID", path)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		query string
		want  string
	}{
		{"no query", "/api/notes", "", "/api/notes"},
		{"plain", "/api/notes", "limit=10", "/api/notes?limit=10"},
		{"redacted", "/cb", "code=xyz&state=1", "/cb?code=[REDACTED]&state=1"},
		{"case insensitive", "/cb", "API_KEY=k", "/cb?API_KEY=[REDACTED]"},
		{"bare flag dropped", "/cb", "debug", "/cb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizePath(tt.path, tt.query); got != tt.want {
				t.Errorf("sanitizePath() = %q, want %q", got, tt.want)
			}
		})
	}
}
