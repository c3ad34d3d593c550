package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/email"
	"github.com/DukeRupert/besttutor/internal/worker"
	"github.com/google/uuid"
)

// portalCreator opens a Stripe billing portal session.
type portalCreator interface {
	CreatePortal(ctx context.Context, parentID uuid.UUID, returnURL string) (string, error)
}

// PaymentNoticeHandler emails a parent whose invoice payment failed.
type PaymentNoticeHandler struct {
	profiles     profileGetter
	portals      portalCreator
	emailService email.EmailService
	logger       *slog.Logger
	baseURL      string
}

var _ worker.JobHandler = (*PaymentNoticeHandler)(nil)

// NewPaymentNoticeHandler creates a new handler for payment notice jobs.
func NewPaymentNoticeHandler(
	profiles profileGetter,
	portals portalCreator,
	emailService email.EmailService,
	logger *slog.Logger,
	baseURL string,
) *PaymentNoticeHandler {
	return &PaymentNoticeHandler{
		profiles:     profiles,
		portals:      portals,
		emailService: emailService,
		logger:       logger.With("component", "payment_notice_job"),
		baseURL:      baseURL,
	}
}

// Type returns the job type identifier.
func (h *PaymentNoticeHandler) Type() string {
	return worker.JobTypePaymentNotice
}

// Handle sends the payment failed email.
func (h *PaymentNoticeHandler) Handle(ctx context.Context, payload []byte) error {
	var p worker.PaymentNoticePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return worker.NewPermanentError(fmt.Errorf("invalid payload: %w", err))
	}
	if p.ParentID == uuid.Nil {
		return worker.NewPermanentError(fmt.Errorf("missing parent_id"))
	}

	parent, err := h.profiles.GetProfile(ctx, p.ParentID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return worker.NewPermanentError(fmt.Errorf("parent %s: %w", p.ParentID, err))
		}
		return fmt.Errorf("fetch parent: %w", err)
	}
	if parent.Email == "" {
		h.logger.WarnContext(ctx, "parent has no email, skipping payment notice", "parent_id", parent.ID)
		return nil
	}

	err = h.emailService.SendPaymentFailedEmail(ctx, parent.Email, parent.Name(), email.PaymentNotice{
		AmountDue: p.AmountDue,
		Currency:  p.Currency,
		PortalURL: h.portalURL(ctx, parent.ID, p.HostedURL),
	})
	if err != nil {
		return fmt.Errorf("send payment failed email: %w", err)
	}

	h.logger.InfoContext(ctx, "payment notice sent",
		"parent_id", parent.ID,
		"subscription_id", p.SubscriptionID,
	)
	return nil
}

// portalURL prefers a fresh portal session, then the invoice's hosted page,
// then the app itself.
func (h *PaymentNoticeHandler) portalURL(ctx context.Context, parentID uuid.UUID, hostedURL string) string {
	if h.portals != nil {
		url, err := h.portals.CreatePortal(ctx, parentID, h.baseURL)
		if err == nil {
			return url
		}
		h.logger.WarnContext(ctx, "portal session failed, falling back", "parent_id", parentID, "error", err)
	}
	if hostedURL != "" {
		return hostedURL
	}
	return h.baseURL
}
