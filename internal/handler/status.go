package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/DukeRupert/besttutor/internal/ratelimit"
	"github.com/DukeRupert/besttutor/internal/service"
)

// pingTimeout bounds the database check in /health.
const pingTimeout = 2 * time.Second

type pinger interface {
	PingContext(ctx context.Context) error
}

type limiterStatus interface {
	Status(ctx context.Context) []ratelimit.Status
}

// StatusHandler serves liveness and limiter status.
type StatusHandler struct {
	db            pinger
	limiters      limiterStatus
	subscriptions service.SubscriptionService
	quota         service.QuotaService
	*Responder
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(db pinger, limiters limiterStatus, subscriptions service.SubscriptionService, quota service.QuotaService, rs *Responder) *StatusHandler {
	return &StatusHandler{
		db:            db,
		limiters:      limiters,
		subscriptions: subscriptions,
		quota:         quota,
		Responder:     rs,
	}
}

// RegisterRoutes registers /health and /api/status/limits.
func (h *StatusHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /api/status/limits", requireAuth(http.HandlerFunc(h.Limits)))
}

// Health reports whether the process is up and the database answers.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		h.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
		return
	}
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "up"})
}

// Limits reports every provider limiter plus the caller's monthly quota.
func (h *StatusHandler) Limits(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	resp := map[string]any{"limiters": h.limiters.Status(r.Context())}

	sub, err := h.subscriptions.GetStatus(r.Context(), p.ID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	usage, err := h.quota.GetUsage(r.Context(), p.ID, sub)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to load quota usage", "profile_id", p.ID, "error", err)
	} else {
		resp["quota"] = toQuotaResponse(usage)
	}
	h.JSON(w, http.StatusOK, resp)
}
