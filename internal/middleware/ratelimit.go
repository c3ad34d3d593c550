package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/besttutor/internal/auth"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/handler"
	"github.com/DukeRupert/besttutor/internal/metrics"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
)

// =============================================================================
// API Rate Limit Middleware
// =============================================================================

// APIRateLimiter caps how many requests one caller may make per window. It
// protects the API itself and is separate from the per-provider AI
// limiters. Authenticated callers are keyed by profile, others by IP.
type APIRateLimiter struct {
	store     ratelimit.Store
	requests  int
	window    time.Duration
	responder *handler.Responder
	logger    *slog.Logger
}

// NewAPIRateLimiter creates a limiter allowing requests per window.
func NewAPIRateLimiter(store ratelimit.Store, requests int, window time.Duration, responder *handler.Responder, logger *slog.Logger) *APIRateLimiter {
	return &APIRateLimiter{
		store:     store,
		requests:  requests,
		window:    window,
		responder: responder,
		logger:    logger,
	}
}

// Limit returns middleware that rejects callers over their budget with 429
// and Retry-After. Store errors let the request through.
func (m *APIRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "api:ip:" + getClientIP(r)
		if p := auth.GetProfileFromRequest(r); p != nil {
			key = "api:profile:" + p.ID.String()
		}

		res, err := m.store.Consume(r.Context(), key, m.requests, m.window)
		if err != nil {
			m.logger.WarnContext(r.Context(), "api rate limit store unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		if !res.Allowed {
			metrics.RateLimitRejectionsTotal.WithLabelValues("api").Inc()
			m.logger.InfoContext(r.Context(), "api rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"method", r.Method,
			)
			m.responder.Error(w, r, domain.RateLimit("", time.Until(res.ResetAt)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Helpers
// =============================================================================

// getClientIP extracts the client IP from the request, considering proxy headers.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs: client, proxy1, proxy2
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if clientIP := strings.TrimSpace(first); clientIP != "" {
			return clientIP
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return ip
}
