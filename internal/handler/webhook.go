// Package handler contains the HTTP handlers of the BestTutorEver API.
//
// This file implements the Stripe webhook endpoint.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79"
)

// maxWebhookBody is the largest event payload read from Stripe.
const maxWebhookBody = 65536

// signatureVerifier checks the Stripe-Signature header. billing.Service
// satisfies it.
type signatureVerifier interface {
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)
}

// eventHandler applies a verified event. service.SubscriptionService
// satisfies it.
type eventHandler interface {
	HandleEvent(ctx context.Context, event stripe.Event) error
}

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	verifier signatureVerifier
	events   eventHandler
	logger   *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// verifier may be nil when Stripe is not configured.
func NewWebhookHandler(verifier signatureVerifier, events eventHandler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		events:   events,
		logger:   logger.With("component", "stripe_webhook"),
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC, with no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and applies one Stripe event. A bad signature
// is 400; a failure applying the event is 500 so Stripe redelivers it.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := h.verifier.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.InfoContext(r.Context(), "stripe webhook received", "type", event.Type, "id", event.ID)

	// Finish the write even if Stripe hangs up; the event is absolute state.
	if err := h.events.HandleEvent(context.WithoutCancel(r.Context()), event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to handle stripe event", "type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
