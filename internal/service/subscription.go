// Package service contains the business logic layer.
//
// This file implements subscription reconciliation: applying Stripe webhook
// events to the local subscription table and keeping family rosters in sync
// with the Stripe seat quantity.
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/besttutor/internal/billing"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/metrics"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/DukeRupert/besttutor/internal/worker"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

const (
	// MaxFamilySeats bounds a family roster. profile_ids must fit in one
	// 500 character Stripe metadata value.
	MaxFamilySeats = 10

	// rosterCASAttempts is how many times a roster transaction is retried
	// after losing the version race before giving up with ECONFLICT.
	rosterCASAttempts = 3
)

var errRosterVersionConflict = errors.New("roster version changed")

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService defines billing and roster operations.
type SubscriptionService interface {
	// HandleEvent applies a verified Stripe event. Duplicate deliveries are
	// ignored; unknown event types are a no-op.
	HandleEvent(ctx context.Context, event stripe.Event) error

	// GetStatus returns the effective subscription of a profile. Students
	// without their own premium seat inherit their parent's.
	GetStatus(ctx context.Context, profileID uuid.UUID) (*domain.Subscription, error)

	// CreateCheckout starts a single or family checkout and returns its URL.
	CreateCheckout(ctx context.Context, params domain.CheckoutParams) (string, error)

	// CreatePortal returns a Stripe customer portal URL for the parent.
	CreatePortal(ctx context.Context, parentID uuid.UUID, returnURL string) (string, error)

	// GetRoster returns the family roster owned by the parent.
	GetRoster(ctx context.Context, parentID uuid.UUID, subscriptionID string) (*domain.Roster, error)

	// AddProfile puts a profile on a family roster and raises the seat count.
	AddProfile(ctx context.Context, parentID uuid.UUID, subscriptionID string, profileID uuid.UUID) (*domain.Roster, error)

	// RemoveProfile takes a profile off a family roster. Removing the last
	// seat cancels the Stripe subscription.
	RemoveProfile(ctx context.Context, parentID uuid.UUID, subscriptionID string, profileID uuid.UUID) (*domain.Roster, error)

	// ReconcileRoster pushes the local roster size to Stripe.
	ReconcileRoster(ctx context.Context, subscriptionID string) error

	// ReconcileAll reconciles every roster whose Stripe quantity drifted.
	// Returns the number of rosters examined.
	ReconcileAll(ctx context.Context) (int, error)
}

// billingQueries is the persistence surface the subscription service needs.
// *repository.Queries satisfies it.
type billingQueries interface {
	GetProfileByID(ctx context.Context, id uuid.UUID) (repository.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (repository.Profile, error)
	UpdateProfileStripeCustomer(ctx context.Context, arg repository.UpdateProfileStripeCustomerParams) error

	GetSubscriptionByProfile(ctx context.Context, profileID uuid.UUID) (repository.Subscription, error)
	ListSubscriptionsBySubscriptionID(ctx context.Context, subscriptionID string) ([]repository.Subscription, error)
	UpsertSubscription(ctx context.Context, arg repository.UpsertSubscriptionParams) (int64, error)

	GetMultiSubscription(ctx context.Context, subscriptionID string) (repository.MultiSubscription, error)
	UpsertMultiSubscription(ctx context.Context, arg repository.UpsertMultiSubscriptionParams) error
	ListRosterProfileIDs(ctx context.Context, subscriptionID string) ([]uuid.UUID, error)
	AddRosterProfile(ctx context.Context, arg repository.RosterProfileParams) (int64, error)
	RemoveRosterProfile(ctx context.Context, arg repository.RosterProfileParams) (int64, error)
	DeleteRoster(ctx context.Context, subscriptionID string) error
	BumpRosterVersion(ctx context.Context, arg repository.BumpRosterVersionParams) (int64, error)
	UpdateQuantitySynced(ctx context.Context, arg repository.UpdateQuantitySyncedParams) (int64, error)
	MarkMultiSubscriptionCanceled(ctx context.Context, subscriptionID string) error
	ListUnsyncedMultiSubscriptions(ctx context.Context) ([]repository.MultiSubscription, error)

	RecordWebhookEvent(ctx context.Context, arg repository.RecordWebhookEventParams) (int64, error)
	DeleteWebhookEvent(ctx context.Context, eventID string) error

	EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error)
}

// billingStore adds transactions to billingQueries.
type billingStore interface {
	billingQueries
	InTx(ctx context.Context, fn func(q billingQueries) error) error
}

// repoBillingStore adapts repository.Store to billingStore.
type repoBillingStore struct {
	*repository.Store
}

func (s repoBillingStore) InTx(ctx context.Context, fn func(q billingQueries) error) error {
	return s.Store.InTx(ctx, func(q *repository.Queries) error {
		return fn(q)
	})
}

// =============================================================================
// Implementation
// =============================================================================

type subscriptionService struct {
	store   billingStore
	billing billing.Service
	logger  *slog.Logger
}

var _ SubscriptionService = (*subscriptionService)(nil)

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(store *repository.Store, billingService billing.Service, logger *slog.Logger) SubscriptionService {
	return newSubscriptionService(repoBillingStore{store}, billingService, logger)
}

func newSubscriptionService(store billingStore, billingService billing.Service, logger *slog.Logger) *subscriptionService {
	return &subscriptionService{
		store:   store,
		billing: billingService,
		logger:  logger.With("component", "subscriptions"),
	}
}

// =============================================================================
// Webhook events
// =============================================================================

func (s *subscriptionService) HandleEvent(ctx context.Context, event stripe.Event) error {
	const op = "SubscriptionService.HandleEvent"

	eventType := string(event.Type)
	logger := s.logger.With("event_id", event.ID, "event_type", eventType)

	var handle func(context.Context, stripe.Event, time.Time) error
	switch event.Type {
	case "checkout.session.completed":
		handle = s.handleCheckoutCompleted
	case "customer.subscription.created", "customer.subscription.updated":
		handle = s.handleSubscriptionUpdated
	case "customer.subscription.deleted":
		handle = s.handleSubscriptionDeleted
	case "invoice.payment_failed":
		handle = s.handlePaymentFailed
	case "invoice.payment_succeeded":
		handle = s.handlePaymentSucceeded
	default:
		logger.Debug("Ignoring webhook event")
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "ignored").Inc()
		return nil
	}

	n, err := s.store.RecordWebhookEvent(ctx, repository.RecordWebhookEventParams{
		EventID:   event.ID,
		EventType: eventType,
	})
	if err != nil {
		return domain.Internal(err, op, "failed to record webhook event")
	}
	if n == 0 {
		logger.Info("Skipping duplicate webhook event")
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "duplicate").Inc()
		return nil
	}

	eventAt := time.Unix(event.Created, 0).UTC()
	if err := handle(ctx, event, eventAt); err != nil {
		// Forget the event so Stripe's retry is processed again.
		if delErr := s.store.DeleteWebhookEvent(context.WithoutCancel(ctx), event.ID); delErr != nil {
			logger.Error("Failed to forget webhook event", "error", delErr)
		}
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "failed").Inc()
		logger.Error("Webhook event failed", "error", err)
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues(eventType, "handled").Inc()
	logger.Info("Webhook event handled")
	return nil
}

// handleCheckoutCompleted binds the paid subscription to its profiles. The
// subscription is re-fetched so the stored state does not depend on the
// order in which Stripe delivered the related events.
func (s *subscriptionService) handleCheckoutCompleted(ctx context.Context, event stripe.Event, eventAt time.Time) error {
	const op = "SubscriptionService.handleCheckoutCompleted"

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return domain.Invalid(op, "malformed checkout session")
	}
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		s.logger.Info("Checkout session has no subscription", "session_id", sess.ID)
		return nil
	}

	sub, err := s.billing.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return domain.Upstream(err, op, "failed to fetch subscription")
	}
	status := domain.SubscriptionStatusFromStripe(sub.Status)

	customerID := sub.CustomerID
	if sess.Customer != nil && sess.Customer.ID != "" {
		customerID = sess.Customer.ID
	}

	if domain.CheckoutPlan(sess.Metadata[domain.MetaPlan]) == domain.CheckoutPlanFamily {
		return s.bindFamily(ctx, sess, sub, status, customerID, eventAt)
	}

	profile, err := s.resolveCheckoutProfile(ctx, sess)
	if err != nil {
		return err
	}

	if err := s.upsert(ctx, s.store, profile.ID, sub.ID, status, &sub.CurrentPeriodEnd, eventAt); err != nil {
		return domain.Internal(err, op, "failed to save subscription")
	}
	s.saveCustomerID(ctx, profile, customerID)

	s.logger.Info("Subscription activated",
		"profile_id", profile.ID,
		"subscription_id", sub.ID,
		"status", status,
	)
	return nil
}

// resolveCheckoutProfile finds the buyer by metadata profile_id, falling
// back to the checkout email.
func (s *subscriptionService) resolveCheckoutProfile(ctx context.Context, sess stripe.CheckoutSession) (repository.Profile, error) {
	const op = "SubscriptionService.resolveCheckoutProfile"

	if raw := sess.Metadata[domain.MetaProfileID]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			p, err := s.store.GetProfileByID(ctx, id)
			if err == nil {
				return p, nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return repository.Profile{}, domain.Internal(err, op, "failed to load profile")
			}
		}
	}

	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}
	if email == "" {
		return repository.Profile{}, domain.Invalid(op, "checkout session identifies no profile")
	}
	p, err := s.store.GetProfileByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.Profile{}, domain.NotFound(op, "profile", email)
	}
	if err != nil {
		return repository.Profile{}, domain.Internal(err, op, "failed to load profile")
	}
	return p, nil
}

func (s *subscriptionService) bindFamily(ctx context.Context, sess stripe.CheckoutSession, sub *billing.Subscription, status domain.SubscriptionStatus, customerID string, eventAt time.Time) error {
	const op = "SubscriptionService.bindFamily"

	parentID, err := uuid.Parse(sess.Metadata[domain.MetaParentProfileID])
	if err != nil {
		return domain.Invalid(op, "family checkout is missing parent_profile_id")
	}
	ids, err := domain.ParseProfileIDs(sess.Metadata[domain.MetaProfileIDs])
	if err != nil || len(ids) == 0 {
		return domain.Invalid(op, "family checkout has no valid profile_ids")
	}

	var (
		multi   repository.MultiSubscription
		members []uuid.UUID
		skipped []uuid.UUID
	)
	err = s.store.InTx(ctx, func(q billingQueries) error {
		if err := q.UpsertMultiSubscription(ctx, repository.UpsertMultiSubscriptionParams{
			SubscriptionID:  sub.ID,
			ParentProfileID: parentID,
			StripeItemID:    sub.ItemID,
			QuantitySynced:  int32(sub.Quantity),
		}); err != nil {
			return fmt.Errorf("upsert multi subscription: %w", err)
		}
		existing, err := q.ListRosterProfileIDs(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("list roster: %w", err)
		}
		skipped = skipped[:0]
		for _, id := range ids {
			n, err := q.AddRosterProfile(ctx, repository.RosterProfileParams{SubscriptionID: sub.ID, ProfileID: id})
			if err != nil {
				return fmt.Errorf("add roster profile: %w", err)
			}
			if n == 0 && !containsID(existing, id) {
				// Already billed under another family plan.
				skipped = append(skipped, id)
				continue
			}
			if err := s.upsert(ctx, q, id, sub.ID, status, &sub.CurrentPeriodEnd, eventAt); err != nil {
				return err
			}
		}
		if multi, err = q.GetMultiSubscription(ctx, sub.ID); err != nil {
			return fmt.Errorf("read multi subscription: %w", err)
		}
		members, err = q.ListRosterProfileIDs(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("list roster: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Internal(err, op, "failed to save family subscription")
	}

	if len(skipped) > 0 {
		s.logger.Warn("Family checkout included profiles already on another roster",
			"subscription_id", sub.ID,
			"skipped", domain.FormatProfileIDs(skipped),
		)
	}
	if !multi.Canceled && multi.SyncedVersion != multi.Version {
		recorded := false
		if int64(len(members)) == sub.Quantity {
			if recorded, err = s.recordSynced(ctx, sub.ID, len(members), multi.Version); err != nil {
				s.logger.Warn("Failed to record synced quantity", "subscription_id", sub.ID, "error", err)
			}
		}
		if !recorded {
			s.deferReconcile(ctx, sub.ID)
		}
	}

	if parent, err := s.store.GetProfileByID(ctx, parentID); err == nil {
		s.saveCustomerID(ctx, parent, customerID)
	}

	s.logger.Info("Family subscription activated",
		"parent_id", parentID,
		"subscription_id", sub.ID,
		"seats", len(members),
		"status", status,
	)
	return nil
}

func (s *subscriptionService) handleSubscriptionUpdated(ctx context.Context, event stripe.Event, eventAt time.Time) error {
	const op = "SubscriptionService.handleSubscriptionUpdated"

	var raw stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return domain.Invalid(op, "malformed subscription")
	}
	sub := billing.FromStripe(&raw)
	status := domain.SubscriptionStatusFromStripe(sub.Status)

	profiles, err := s.boundProfiles(ctx, sub)
	if err != nil {
		return domain.Internal(err, op, "failed to list subscription profiles")
	}
	if len(profiles) == 0 {
		s.logger.Info("No profiles bound to subscription yet", "subscription_id", sub.ID)
		return nil
	}

	for _, id := range profiles {
		if err := s.upsert(ctx, s.store, id, sub.ID, status, &sub.CurrentPeriodEnd, eventAt); err != nil {
			return domain.Internal(err, op, "failed to save subscription")
		}
	}
	return nil
}

// boundProfiles returns the profiles currently pointing at the subscription.
// A single-seat subscription event that beats checkout.session.completed
// falls back to the profile_id in the subscription metadata.
func (s *subscriptionService) boundProfiles(ctx context.Context, sub *billing.Subscription) ([]uuid.UUID, error) {
	rows, err := s.store.ListSubscriptionsBySubscriptionID(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ProfileID)
	}
	if len(ids) > 0 {
		return ids, nil
	}

	if domain.CheckoutPlan(sub.Metadata[domain.MetaPlan]) == domain.CheckoutPlanFamily {
		return nil, nil
	}
	if id, err := uuid.Parse(sub.Metadata[domain.MetaProfileID]); err == nil {
		return []uuid.UUID{id}, nil
	}
	return nil, nil
}

func (s *subscriptionService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event, eventAt time.Time) error {
	const op = "SubscriptionService.handleSubscriptionDeleted"

	var raw stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return domain.Invalid(op, "malformed subscription")
	}

	err := s.store.InTx(ctx, func(q billingQueries) error {
		rows, err := q.ListSubscriptionsBySubscriptionID(ctx, raw.ID)
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
		for _, r := range rows {
			if _, err := q.UpsertSubscription(ctx, repository.UpsertSubscriptionParams{
				ProfileID:   r.ProfileID,
				Status:      string(domain.SubscriptionStatusCanceled),
				ExpiresAt:   r.ExpiresAt,
				LastEventAt: sql.NullTime{Time: eventAt, Valid: true},
			}); err != nil {
				return fmt.Errorf("cancel subscription row: %w", err)
			}
		}
		if err := q.DeleteRoster(ctx, raw.ID); err != nil {
			return fmt.Errorf("delete roster: %w", err)
		}
		if err := q.MarkMultiSubscriptionCanceled(ctx, raw.ID); err != nil {
			return fmt.Errorf("mark multi subscription canceled: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Internal(err, op, "failed to cancel subscription")
	}

	s.logger.Info("Subscription canceled", "subscription_id", raw.ID)
	return nil
}

func (s *subscriptionService) handlePaymentFailed(ctx context.Context, event stripe.Event, eventAt time.Time) error {
	const op = "SubscriptionService.handlePaymentFailed"

	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return domain.Invalid(op, "malformed invoice")
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}
	subID := inv.Subscription.ID

	rows, err := s.store.ListSubscriptionsBySubscriptionID(ctx, subID)
	if err != nil {
		return domain.Internal(err, op, "failed to list subscription profiles")
	}
	for _, r := range rows {
		if _, err := s.store.UpsertSubscription(ctx, repository.UpsertSubscriptionParams{
			ProfileID:      r.ProfileID,
			SubscriptionID: r.SubscriptionID,
			Status:         string(domain.SubscriptionStatusPastDue),
			ExpiresAt:      r.ExpiresAt,
			LastEventAt:    sql.NullTime{Time: eventAt, Valid: true},
		}); err != nil {
			return domain.Internal(err, op, "failed to mark subscription past due")
		}
	}

	parentID, ok := s.billingParent(ctx, subID, rows)
	if !ok {
		s.logger.Warn("No parent found for failed payment", "subscription_id", subID)
		return nil
	}
	if _, err := worker.EnqueuePaymentNotice(ctx, s.store, worker.PaymentNoticePayload{
		ParentID:       parentID,
		SubscriptionID: subID,
		AmountDue:      inv.AmountDue,
		Currency:       string(inv.Currency),
		HostedURL:      inv.HostedInvoiceURL,
	}); err != nil {
		return domain.Internal(err, op, "failed to enqueue payment notice")
	}
	return nil
}

// billingParent returns the profile that pays for the subscription.
func (s *subscriptionService) billingParent(ctx context.Context, subscriptionID string, rows []repository.Subscription) (uuid.UUID, bool) {
	if multi, err := s.store.GetMultiSubscription(ctx, subscriptionID); err == nil {
		return multi.ParentProfileID, true
	}
	for _, r := range rows {
		p, err := s.store.GetProfileByID(ctx, r.ProfileID)
		if err != nil {
			continue
		}
		if p.ParentID.Valid {
			return p.ParentID.UUID, true
		}
		return p.ID, true
	}
	return uuid.Nil, false
}

// handlePaymentSucceeded re-fetches the subscription and applies its status,
// which moves past_due profiles back to active.
func (s *subscriptionService) handlePaymentSucceeded(ctx context.Context, event stripe.Event, eventAt time.Time) error {
	const op = "SubscriptionService.handlePaymentSucceeded"

	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return domain.Invalid(op, "malformed invoice")
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}

	sub, err := s.billing.GetSubscription(ctx, inv.Subscription.ID)
	if err != nil {
		return domain.Upstream(err, op, "failed to fetch subscription")
	}
	status := domain.SubscriptionStatusFromStripe(sub.Status)

	rows, err := s.store.ListSubscriptionsBySubscriptionID(ctx, sub.ID)
	if err != nil {
		return domain.Internal(err, op, "failed to list subscription profiles")
	}
	for _, r := range rows {
		if err := s.upsert(ctx, s.store, r.ProfileID, sub.ID, status, &sub.CurrentPeriodEnd, eventAt); err != nil {
			return domain.Internal(err, op, "failed to save subscription")
		}
	}
	return nil
}

// upsert writes one profile's absolute subscription state. A write older
// than the stored last_event_at is skipped by the query and only logged.
func (s *subscriptionService) upsert(ctx context.Context, q billingQueries, profileID uuid.UUID, subscriptionID string, status domain.SubscriptionStatus, expiresAt *time.Time, eventAt time.Time) error {
	var expires sql.NullTime
	if expiresAt != nil && !expiresAt.IsZero() {
		expires = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	var last sql.NullTime
	if !eventAt.IsZero() {
		last = sql.NullTime{Time: eventAt, Valid: true}
	}

	if prev, err := q.GetSubscriptionByProfile(ctx, profileID); err == nil {
		if from := domain.SubscriptionStatus(prev.Status); !from.CanTransitionTo(status) {
			s.logger.Warn("Unexpected subscription transition",
				"profile_id", profileID,
				"from", from,
				"to", status,
			)
		}
	}

	n, err := q.UpsertSubscription(ctx, repository.UpsertSubscriptionParams{
		ProfileID:      profileID,
		SubscriptionID: domain.ToNullString(subscriptionID),
		Status:         string(status),
		ExpiresAt:      expires,
		LastEventAt:    last,
	})
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	if n == 0 {
		s.logger.Info("Skipped stale subscription write",
			"profile_id", profileID,
			"subscription_id", subscriptionID,
			"event_at", eventAt,
		)
	}
	return nil
}

func (s *subscriptionService) saveCustomerID(ctx context.Context, p repository.Profile, customerID string) {
	if customerID == "" || (p.StripeCustomerID.Valid && p.StripeCustomerID.String == customerID) {
		return
	}
	if err := s.store.UpdateProfileStripeCustomer(ctx, repository.UpdateProfileStripeCustomerParams{
		ID:               p.ID,
		StripeCustomerID: domain.ToNullString(customerID),
	}); err != nil {
		s.logger.Warn("Failed to save Stripe customer", "profile_id", p.ID, "error", err)
	}
}

// =============================================================================
// Status
// =============================================================================

func (s *subscriptionService) GetStatus(ctx context.Context, profileID uuid.UUID) (*domain.Subscription, error) {
	const op = "SubscriptionService.GetStatus"

	own, err := s.lookup(ctx, profileID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load subscription")
	}
	if own.IsPremium() {
		return own, nil
	}

	profile, err := s.store.GetProfileByID(ctx, profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "profile", profileID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load profile")
	}
	if !profile.ParentID.Valid {
		return own, nil
	}

	parent, err := s.lookup(ctx, profile.ParentID.UUID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load parent subscription")
	}
	if parent.IsPremium() {
		inherited := *parent
		inherited.ProfileID = profileID
		return &inherited, nil
	}
	return own, nil
}

func (s *subscriptionService) lookup(ctx context.Context, profileID uuid.UUID) (*domain.Subscription, error) {
	row, err := s.store.GetSubscriptionByProfile(ctx, profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FreeSubscription(profileID), nil
	}
	if err != nil {
		return nil, err
	}
	return toDomainSubscription(row), nil
}

// =============================================================================
// Checkout and portal
// =============================================================================

func (s *subscriptionService) CreateCheckout(ctx context.Context, params domain.CheckoutParams) (string, error) {
	const op = "SubscriptionService.CreateCheckout"

	if !params.Plan.IsValid() {
		return "", domain.Invalid(op, "plan must be single or family")
	}

	parent, err := s.store.GetProfileByID(ctx, params.ParentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NotFound(op, "profile", params.ParentID.String())
	}
	if err != nil {
		return "", domain.Internal(err, op, "failed to load profile")
	}
	if domain.Role(parent.Role) != domain.RoleParent {
		return "", domain.Forbidden(op, "only parents can purchase subscriptions")
	}

	seats := params.ProfileIDs
	if len(seats) == 0 {
		seats = []uuid.UUID{parent.ID}
	}
	if params.Plan == domain.CheckoutPlanSingle && len(seats) != 1 {
		return "", domain.Invalid(op, "a single plan covers exactly one profile")
	}
	if len(seats) > MaxFamilySeats {
		return "", domain.Invalid(op, fmt.Sprintf("a family plan covers at most %d profiles", MaxFamilySeats))
	}
	for _, id := range seats {
		p, err := s.store.GetProfileByID(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.NotFound(op, "profile", id.String())
		}
		if err != nil {
			return "", domain.Internal(err, op, "failed to load profile")
		}
		if !toDomainProfile(p).ManagedBy(parent.ID) {
			return "", domain.Forbidden(op, "profile is not managed by this parent")
		}
	}

	customerID, err := s.ensureCustomer(ctx, parent)
	if err != nil {
		return "", err
	}

	metadata := map[string]string{
		domain.MetaPlan:            string(params.Plan),
		domain.MetaParentProfileID: parent.ID.String(),
	}
	if params.Plan == domain.CheckoutPlanFamily {
		metadata[domain.MetaProfileIDs] = domain.FormatProfileIDs(seats)
	} else {
		metadata[domain.MetaProfileID] = seats[0].String()
	}

	url, err := s.billing.CreateCheckoutSession(ctx, billing.CheckoutSessionParams{
		CustomerID: customerID,
		Family:     params.Plan == domain.CheckoutPlanFamily,
		Quantity:   int64(len(seats)),
		Metadata:   metadata,
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
	})
	if err != nil {
		return "", domain.Upstream(err, op, "failed to create checkout session")
	}

	s.logger.Info("Checkout session created", "parent_id", parent.ID, "plan", params.Plan, "seats", len(seats))
	return url, nil
}

func (s *subscriptionService) ensureCustomer(ctx context.Context, p repository.Profile) (string, error) {
	const op = "SubscriptionService.ensureCustomer"

	if p.StripeCustomerID.Valid && p.StripeCustomerID.String != "" {
		return p.StripeCustomerID.String, nil
	}
	customerID, err := s.billing.CreateCustomer(ctx, p.Email, p.DisplayName, map[string]string{
		domain.MetaProfileID: p.ID.String(),
	})
	if err != nil {
		return "", domain.Upstream(err, op, "failed to create customer")
	}
	if err := s.store.UpdateProfileStripeCustomer(ctx, repository.UpdateProfileStripeCustomerParams{
		ID:               p.ID,
		StripeCustomerID: domain.ToNullString(customerID),
	}); err != nil {
		return "", domain.Internal(err, op, "failed to save customer")
	}
	return customerID, nil
}

func (s *subscriptionService) CreatePortal(ctx context.Context, parentID uuid.UUID, returnURL string) (string, error) {
	const op = "SubscriptionService.CreatePortal"

	p, err := s.store.GetProfileByID(ctx, parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NotFound(op, "profile", parentID.String())
	}
	if err != nil {
		return "", domain.Internal(err, op, "failed to load profile")
	}
	if !p.StripeCustomerID.Valid || p.StripeCustomerID.String == "" {
		return "", domain.Invalid(op, "no billing account found, subscribe first")
	}

	url, err := s.billing.CreatePortalSession(ctx, p.StripeCustomerID.String, returnURL)
	if err != nil {
		return "", domain.Upstream(err, op, "failed to create portal session")
	}
	return url, nil
}

// =============================================================================
// Roster
// =============================================================================

func (s *subscriptionService) GetRoster(ctx context.Context, parentID uuid.UUID, subscriptionID string) (*domain.Roster, error) {
	const op = "SubscriptionService.GetRoster"

	multi, err := s.ownedRoster(ctx, op, parentID, subscriptionID)
	if err != nil {
		return nil, err
	}
	ids, err := s.store.ListRosterProfileIDs(ctx, subscriptionID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list roster")
	}
	return toDomainRoster(multi, ids), nil
}

func (s *subscriptionService) ownedRoster(ctx context.Context, op string, parentID uuid.UUID, subscriptionID string) (repository.MultiSubscription, error) {
	multi, err := s.store.GetMultiSubscription(ctx, subscriptionID)
	if errors.Is(err, sql.ErrNoRows) {
		return multi, domain.NotFound(op, "family subscription", subscriptionID)
	}
	if err != nil {
		return multi, domain.Internal(err, op, "failed to load family subscription")
	}
	if multi.ParentProfileID != parentID {
		return multi, domain.Forbidden(op, "this family subscription belongs to another account")
	}
	return multi, nil
}

func (s *subscriptionService) AddProfile(ctx context.Context, parentID uuid.UUID, subscriptionID string, profileID uuid.UUID) (*domain.Roster, error) {
	const op = "SubscriptionService.AddProfile"

	multi, err := s.ownedRoster(ctx, op, parentID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if multi.Canceled {
		return nil, domain.Conflict(op, "this family subscription has been canceled")
	}

	profile, err := s.store.GetProfileByID(ctx, profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "profile", profileID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load profile")
	}
	if !toDomainProfile(profile).ManagedBy(parentID) {
		return nil, domain.Forbidden(op, "profile is not managed by this parent")
	}

	sub, err := s.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, domain.Upstream(err, op, "failed to fetch subscription")
	}
	status := domain.SubscriptionStatusFromStripe(sub.Status)
	if status == domain.SubscriptionStatusCanceled {
		return nil, domain.Conflict(op, "this family subscription has been canceled")
	}

	ids, version, err := s.mutateRoster(ctx, op, subscriptionID, func(q billingQueries) error {
		current, err := q.GetSubscriptionByProfile(ctx, profileID)
		if err == nil && current.SubscriptionID.Valid && current.SubscriptionID.String != subscriptionID &&
			domain.SubscriptionStatus(current.Status).IsPremium() {
			return domain.Conflict(op, "profile already has an active subscription")
		}

		members, err := q.ListRosterProfileIDs(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("list roster: %w", err)
		}
		if len(members) >= MaxFamilySeats {
			return domain.Invalid(op, fmt.Sprintf("a family plan covers at most %d profiles", MaxFamilySeats))
		}

		n, err := q.AddRosterProfile(ctx, repository.RosterProfileParams{SubscriptionID: subscriptionID, ProfileID: profileID})
		if err != nil {
			return fmt.Errorf("add roster profile: %w", err)
		}
		if n == 0 && !containsID(members, profileID) {
			return domain.Conflict(op, "profile is already on another family plan")
		}
		return s.upsert(ctx, q, profileID, subscriptionID, status, &sub.CurrentPeriodEnd, time.Time{})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Profile added to roster", "subscription_id", subscriptionID, "profile_id", profileID, "seats", len(ids))
	multi.Version = version
	return s.syncStripe(ctx, multi, sub.ItemID, ids), nil
}

func (s *subscriptionService) RemoveProfile(ctx context.Context, parentID uuid.UUID, subscriptionID string, profileID uuid.UUID) (*domain.Roster, error) {
	const op = "SubscriptionService.RemoveProfile"

	multi, err := s.ownedRoster(ctx, op, parentID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if multi.Canceled {
		return nil, domain.Conflict(op, "this family subscription has been canceled")
	}

	sub, err := s.billing.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, domain.Upstream(err, op, "failed to fetch subscription")
	}

	ids, version, err := s.mutateRoster(ctx, op, subscriptionID, func(q billingQueries) error {
		n, err := q.RemoveRosterProfile(ctx, repository.RosterProfileParams{SubscriptionID: subscriptionID, ProfileID: profileID})
		if err != nil {
			return fmt.Errorf("remove roster profile: %w", err)
		}
		if n == 0 {
			return domain.NotFound(op, "roster profile", profileID.String())
		}
		if _, err := q.UpsertSubscription(ctx, repository.UpsertSubscriptionParams{
			ProfileID: profileID,
			Status:    string(domain.SubscriptionStatusCanceled),
		}); err != nil {
			return fmt.Errorf("cancel subscription row: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Profile removed from roster", "subscription_id", subscriptionID, "profile_id", profileID, "seats", len(ids))
	multi.Version = version
	return s.syncStripe(ctx, multi, sub.ItemID, ids), nil
}

// mutateRoster runs fn and a version compare-and-swap in one transaction,
// retrying when a concurrent writer bumped the version first. It returns
// the roster membership and version as committed.
func (s *subscriptionService) mutateRoster(ctx context.Context, op, subscriptionID string, fn func(q billingQueries) error) ([]uuid.UUID, int64, error) {
	var (
		ids     []uuid.UUID
		version int64
	)
	for attempt := 1; attempt <= rosterCASAttempts; attempt++ {
		err := s.store.InTx(ctx, func(q billingQueries) error {
			multi, err := q.GetMultiSubscription(ctx, subscriptionID)
			if err != nil {
				return fmt.Errorf("read roster version: %w", err)
			}
			if err := fn(q); err != nil {
				return err
			}
			n, err := q.BumpRosterVersion(ctx, repository.BumpRosterVersionParams{
				SubscriptionID: subscriptionID,
				Version:        multi.Version,
			})
			if err != nil {
				return fmt.Errorf("bump roster version: %w", err)
			}
			if n == 0 {
				return errRosterVersionConflict
			}
			version = multi.Version + 1
			ids, err = q.ListRosterProfileIDs(ctx, subscriptionID)
			if err != nil {
				return fmt.Errorf("list roster: %w", err)
			}
			return nil
		})
		if err == nil {
			return ids, version, nil
		}
		if !errors.Is(err, errRosterVersionConflict) {
			var de *domain.Error
			if errors.As(err, &de) {
				return nil, 0, err
			}
			return nil, 0, domain.Internal(err, op, "failed to update roster")
		}
		s.logger.Info("Roster version conflict, retrying", "subscription_id", subscriptionID, "attempt", attempt)
	}
	return nil, 0, domain.Conflict(op, "the roster was changed by another request, please retry")
}

// syncStripe pushes the committed roster to Stripe. The push is recorded
// only while the roster is still at the pushed version; when a concurrent
// change moved it on, the latest roster is re-read and pushed again so the
// last write to reach Stripe is never a stale one. Failures are deferred to
// a reconcile_roster job; the local roster stays authoritative.
func (s *subscriptionService) syncStripe(ctx context.Context, multi repository.MultiSubscription, itemID string, ids []uuid.UUID) *domain.Roster {
	if itemID == "" {
		itemID = multi.StripeItemID
	}
	multi.StripeItemID = itemID
	roster := toDomainRoster(multi, ids)

	version := multi.Version
	for attempt := 1; attempt <= rosterCASAttempts; attempt++ {
		recorded, err := s.pushQuantity(ctx, multi.SubscriptionID, itemID, ids, version)
		if err != nil {
			metrics.RosterSyncsTotal.WithLabelValues("deferred").Inc()
			s.logger.Warn("Stripe roster sync failed, deferring to reconciliation",
				"subscription_id", multi.SubscriptionID,
				"seats", len(ids),
				"error", err,
			)
			s.deferReconcile(ctx, multi.SubscriptionID)
			return roster
		}
		if recorded {
			metrics.RosterSyncsTotal.WithLabelValues("synced").Inc()
			if version == multi.Version {
				roster.QuantitySynced = len(ids)
				roster.SyncedVersion = version
				roster.Canceled = len(ids) == 0
			}
			return roster
		}

		latest, latestIDs, err := s.rosterSnapshot(ctx, multi.SubscriptionID)
		if err != nil {
			s.logger.Warn("Failed to re-read roster after concurrent change", "subscription_id", multi.SubscriptionID, "error", err)
			break
		}
		if latest.Canceled {
			return roster
		}
		s.logger.Info("Roster changed during Stripe sync, pushing latest",
			"subscription_id", multi.SubscriptionID,
			"pushed_version", version,
			"current_version", latest.Version,
		)
		version, ids = latest.Version, latestIDs
	}

	metrics.RosterSyncsTotal.WithLabelValues("deferred").Inc()
	s.deferReconcile(ctx, multi.SubscriptionID)
	return roster
}

func (s *subscriptionService) deferReconcile(ctx context.Context, subscriptionID string) {
	if _, err := worker.EnqueueReconcileRoster(context.WithoutCancel(ctx), s.store, subscriptionID); err != nil {
		s.logger.Error("Failed to enqueue roster reconciliation", "subscription_id", subscriptionID, "error", err)
	}
}

// rosterSnapshot reads the roster membership and its version together.
func (s *subscriptionService) rosterSnapshot(ctx context.Context, subscriptionID string) (repository.MultiSubscription, []uuid.UUID, error) {
	var (
		multi repository.MultiSubscription
		ids   []uuid.UUID
	)
	err := s.store.InTx(ctx, func(q billingQueries) error {
		var err error
		if multi, err = q.GetMultiSubscription(ctx, subscriptionID); err != nil {
			return err
		}
		ids, err = q.ListRosterProfileIDs(ctx, subscriptionID)
		return err
	})
	return multi, ids, err
}

// pushQuantity sets the Stripe seat count to the roster size, canceling the
// subscription outright when the roster is empty. It reports false when the
// roster moved past version before the push could be recorded.
func (s *subscriptionService) pushQuantity(ctx context.Context, subscriptionID, itemID string, ids []uuid.UUID, version int64) (bool, error) {
	if len(ids) == 0 {
		if err := s.billing.CancelSubscription(ctx, subscriptionID); err != nil {
			return false, err
		}
		if err := s.store.MarkMultiSubscriptionCanceled(ctx, subscriptionID); err != nil {
			return false, fmt.Errorf("mark multi subscription canceled: %w", err)
		}
		s.logger.Info("Last seat removed, subscription canceled", "subscription_id", subscriptionID)
		return true, nil
	}

	if err := s.billing.UpdateSubscriptionQuantity(ctx, subscriptionID, itemID, int64(len(ids)), map[string]string{
		domain.MetaProfileIDs: domain.FormatProfileIDs(ids),
	}); err != nil {
		return false, err
	}
	return s.recordSynced(ctx, subscriptionID, len(ids), version)
}

func (s *subscriptionService) recordSynced(ctx context.Context, subscriptionID string, seats int, version int64) (bool, error) {
	n, err := s.store.UpdateQuantitySynced(ctx, repository.UpdateQuantitySyncedParams{
		SubscriptionID: subscriptionID,
		QuantitySynced: int32(seats),
		Version:        version,
	})
	if err != nil {
		return false, fmt.Errorf("update quantity synced: %w", err)
	}
	return n > 0, nil
}

// =============================================================================
// Reconciliation
// =============================================================================

func (s *subscriptionService) ReconcileRoster(ctx context.Context, subscriptionID string) error {
	const op = "SubscriptionService.ReconcileRoster"

	for attempt := 1; attempt <= rosterCASAttempts; attempt++ {
		multi, ids, err := s.rosterSnapshot(ctx, subscriptionID)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "family subscription", subscriptionID)
		}
		if err != nil {
			return domain.Internal(err, op, "failed to load family subscription")
		}
		if multi.Canceled {
			return nil
		}

		sub, err := s.billing.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return domain.Upstream(err, op, "failed to fetch subscription")
		}
		if domain.SubscriptionStatusFromStripe(sub.Status) == domain.SubscriptionStatusCanceled {
			if err := s.store.MarkMultiSubscriptionCanceled(ctx, subscriptionID); err != nil {
				return domain.Internal(err, op, "failed to mark canceled")
			}
			return nil
		}

		itemID := sub.ItemID
		if itemID == "" {
			itemID = multi.StripeItemID
		}

		var recorded bool
		if len(ids) > 0 && sub.Quantity == int64(len(ids)) {
			recorded, err = s.recordSynced(ctx, subscriptionID, len(ids), multi.Version)
			if err != nil {
				return domain.Internal(err, op, "failed to record synced quantity")
			}
		} else {
			recorded, err = s.pushQuantity(ctx, subscriptionID, itemID, ids, multi.Version)
			if err != nil {
				metrics.RosterSyncsTotal.WithLabelValues("failed").Inc()
				return domain.Upstream(err, op, "failed to sync roster with Stripe")
			}
			if recorded {
				metrics.RosterSyncsTotal.WithLabelValues("reconciled").Inc()
				s.logger.Info("Roster reconciled",
					"subscription_id", subscriptionID,
					"stripe_quantity", sub.Quantity,
					"seats", len(ids),
				)
			}
		}
		if recorded {
			return nil
		}
		s.logger.Info("Roster changed during reconciliation, retrying", "subscription_id", subscriptionID, "attempt", attempt)
	}
	return domain.Conflict(op, "the roster kept changing during reconciliation")
}

func (s *subscriptionService) ReconcileAll(ctx context.Context) (int, error) {
	const op = "SubscriptionService.ReconcileAll"

	drifted, err := s.store.ListUnsyncedMultiSubscriptions(ctx)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to list unsynced rosters")
	}

	var errs []error
	for _, m := range drifted {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.ReconcileRoster(ctx, m.SubscriptionID); err != nil {
			errs = append(errs, err)
		}
	}
	return len(drifted), errors.Join(errs...)
}

func toDomainRoster(m repository.MultiSubscription, ids []uuid.UUID) *domain.Roster {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return &domain.Roster{
		SubscriptionID:  m.SubscriptionID,
		ParentProfileID: m.ParentProfileID,
		StripeItemID:    m.StripeItemID,
		ProfileIDs:      ids,
		QuantitySynced:  int(m.QuantitySynced),
		Version:         m.Version,
		SyncedVersion:   m.SyncedVersion,
		Canceled:        m.Canceled,
	}
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
