// Package handler contains the HTTP handlers of the BestTutorEver API.
//
// This file implements billing handlers backed by Stripe.
//
// Routes handled:
//   - POST   /api/billing/checkout             -> CreateCheckout
//   - POST   /api/billing/portal               -> OpenPortal
//   - GET    /api/billing/roster               -> GetRoster
//   - POST   /api/billing/roster               -> AddToRoster
//   - DELETE /api/billing/roster/{profileID}   -> RemoveFromRoster
package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/service"
	"github.com/google/uuid"
)

// BillingHandler handles checkout, portal and family roster requests.
type BillingHandler struct {
	subscriptions service.SubscriptionService
	baseURL       string
	*Responder
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(subscriptions service.SubscriptionService, baseURL string, rs *Responder) *BillingHandler {
	return &BillingHandler{
		subscriptions: subscriptions,
		baseURL:       baseURL,
		Responder:     rs,
	}
}

// RegisterRoutes registers billing routes on the provided mux.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("POST /api/billing/checkout", requireAuth(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /api/billing/portal", requireAuth(http.HandlerFunc(h.OpenPortal)))
	mux.Handle("GET /api/billing/roster", requireAuth(http.HandlerFunc(h.GetRoster)))
	mux.Handle("POST /api/billing/roster", requireAuth(http.HandlerFunc(h.AddToRoster)))
	mux.Handle("DELETE /api/billing/roster/{profileID}", requireAuth(http.HandlerFunc(h.RemoveFromRoster)))
}

type checkoutRequest struct {
	Plan       domain.CheckoutPlan `json:"plan"`
	ProfileIDs []uuid.UUID         `json:"profile_ids"`
	SuccessURL string              `json:"success_url"`
	CancelURL  string              `json:"cancel_url"`
}

type urlResponse struct {
	URL string `json:"url"`
}

// CreateCheckout starts a Stripe Checkout session and returns its URL.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "BillingHandler.CreateCheckout"

	parent, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	var req checkoutRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}
	if req.Plan == "" {
		req.Plan = domain.CheckoutPlanSingle
	}
	if req.SuccessURL == "" {
		req.SuccessURL = fmt.Sprintf("%s/billing/success?session_id={CHECKOUT_SESSION_ID}", h.baseURL)
	}
	if req.CancelURL == "" {
		req.CancelURL = fmt.Sprintf("%s/pricing", h.baseURL)
	}

	url, err := h.subscriptions.CreateCheckout(r.Context(), domain.CheckoutParams{
		ParentID:   parent.ID,
		Plan:       req.Plan,
		ProfileIDs: req.ProfileIDs,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, urlResponse{URL: url})
}

// OpenPortal returns a Stripe Customer Portal URL for the parent.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	const op = "BillingHandler.OpenPortal"

	parent, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	url, err := h.subscriptions.CreatePortal(r.Context(), parent.ID, h.baseURL+"/account")
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, urlResponse{URL: url})
}

// GetRoster lists the profiles on the parent's family plan.
func (h *BillingHandler) GetRoster(w http.ResponseWriter, r *http.Request) {
	const op = "BillingHandler.GetRoster"

	parent, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	subID, err := h.subscriptionID(r.Context(), op, parent.ID, r.URL.Query().Get("subscription_id"))
	if err != nil {
		h.Error(w, r, err)
		return
	}

	roster, err := h.subscriptions.GetRoster(r.Context(), parent.ID, subID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toRosterResponse(roster))
}

type rosterRequest struct {
	ProfileID      uuid.UUID `json:"profile_id"`
	SubscriptionID string    `json:"subscription_id"`
}

// AddToRoster puts a profile on the family plan and raises the seat count.
func (h *BillingHandler) AddToRoster(w http.ResponseWriter, r *http.Request) {
	const op = "BillingHandler.AddToRoster"

	parent, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	var req rosterRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}
	if req.ProfileID == uuid.Nil {
		h.Error(w, r, domain.NewValidationError(op, "profile_id", "This field is required"))
		return
	}
	subID, err := h.subscriptionID(r.Context(), op, parent.ID, req.SubscriptionID)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	roster, err := h.subscriptions.AddProfile(r.Context(), parent.ID, subID, req.ProfileID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toRosterResponse(roster))
}

// RemoveFromRoster takes a profile off the family plan. Removing the last
// seat cancels the subscription.
func (h *BillingHandler) RemoveFromRoster(w http.ResponseWriter, r *http.Request) {
	const op = "BillingHandler.RemoveFromRoster"

	parent, err := requireParent(r, op)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	profileID, err := pathUUID(r, op, "profileID")
	if err != nil {
		h.Error(w, r, err)
		return
	}
	subID, err := h.subscriptionID(r.Context(), op, parent.ID, r.URL.Query().Get("subscription_id"))
	if err != nil {
		h.Error(w, r, err)
		return
	}

	roster, err := h.subscriptions.RemoveProfile(r.Context(), parent.ID, subID, profileID)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toRosterResponse(roster))
}

// subscriptionID returns the explicit ID or the parent's own subscription.
func (h *BillingHandler) subscriptionID(ctx context.Context, op string, parentID uuid.UUID, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	sub, err := h.subscriptions.GetStatus(ctx, parentID)
	if err != nil {
		return "", err
	}
	if sub.SubscriptionID == "" {
		return "", domain.NotFound(op, "family subscription", parentID.String())
	}
	return sub.SubscriptionID, nil
}
