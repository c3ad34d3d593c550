package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/worker"
)

// rosterReconciler is the part of service.SubscriptionService the job drives.
type rosterReconciler interface {
	ReconcileRoster(ctx context.Context, subscriptionID string) error
	ReconcileAll(ctx context.Context) (int, error)
}

// ReconcileRosterHandler pushes local family roster sizes to Stripe.
type ReconcileRosterHandler struct {
	subscriptions rosterReconciler
	logger        *slog.Logger
}

var _ worker.JobHandler = (*ReconcileRosterHandler)(nil)

// NewReconcileRosterHandler creates a new handler for roster reconciliation jobs.
func NewReconcileRosterHandler(subscriptions rosterReconciler, logger *slog.Logger) *ReconcileRosterHandler {
	return &ReconcileRosterHandler{
		subscriptions: subscriptions,
		logger:        logger.With("component", "reconcile_roster_job"),
	}
}

// Type returns the job type identifier.
func (h *ReconcileRosterHandler) Type() string {
	return worker.JobTypeReconcileRoster
}

// Handle reconciles one roster, or every roster when the payload names none.
func (h *ReconcileRosterHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.ReconcileRosterPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
		}
	}

	if p.SubscriptionID == "" {
		n, err := h.subscriptions.ReconcileAll(ctx)
		if err != nil {
			return fmt.Errorf("reconcile all rosters: %w", err)
		}
		h.logger.InfoContext(ctx, "rosters reconciled", "count", n)
		return nil
	}

	if err := h.subscriptions.ReconcileRoster(ctx, p.SubscriptionID); err != nil {
		switch domain.ErrorCode(err) {
		case domain.ENOTFOUND, domain.EINVALID:
			return worker.NewPermanentError(err)
		}
		return fmt.Errorf("reconcile roster %s: %w", p.SubscriptionID, err)
	}
	return nil
}
