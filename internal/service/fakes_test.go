package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/besttutor/internal/billing"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// In-memory billing store
// =============================================================================

type fakeBillingState struct {
	profiles      map[uuid.UUID]repository.Profile
	subscriptions map[uuid.UUID]repository.Subscription
	multis        map[string]repository.MultiSubscription
	roster        map[string][]uuid.UUID
	webhooks      map[string]bool
	jobs          []repository.EnqueueJobParams
}

func (st *fakeBillingState) clone() *fakeBillingState {
	c := &fakeBillingState{
		profiles:      make(map[uuid.UUID]repository.Profile, len(st.profiles)),
		subscriptions: make(map[uuid.UUID]repository.Subscription, len(st.subscriptions)),
		multis:        make(map[string]repository.MultiSubscription, len(st.multis)),
		roster:        make(map[string][]uuid.UUID, len(st.roster)),
		webhooks:      make(map[string]bool, len(st.webhooks)),
		jobs:          append([]repository.EnqueueJobParams(nil), st.jobs...),
	}
	for k, v := range st.profiles {
		c.profiles[k] = v
	}
	for k, v := range st.subscriptions {
		c.subscriptions[k] = v
	}
	for k, v := range st.multis {
		c.multis[k] = v
	}
	for k, v := range st.roster {
		c.roster[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range st.webhooks {
		c.webhooks[k] = v
	}
	return c
}

// fakeBillingStore mimics the SQL semantics of the billing queries,
// including the last_event_at guard and the roster version CAS.
type fakeBillingStore struct {
	mu sync.Mutex
	st *fakeBillingState

	// beforeBump runs inside a transaction just before the version CAS,
	// letting tests simulate a concurrent roster writer.
	beforeBump func(outer *fakeBillingStore)
	outer      *fakeBillingStore

	// beforeSynced runs once before the next UpdateQuantitySynced, letting
	// tests interleave another roster change between a Stripe push and its
	// record.
	beforeSynced func()
}

func newFakeBillingStore() *fakeBillingStore {
	return &fakeBillingStore{st: &fakeBillingState{
		profiles:      map[uuid.UUID]repository.Profile{},
		subscriptions: map[uuid.UUID]repository.Subscription{},
		multis:        map[string]repository.MultiSubscription{},
		roster:        map[string][]uuid.UUID{},
		webhooks:      map[string]bool{},
	}}
}

var _ billingStore = (*fakeBillingStore)(nil)

func (f *fakeBillingStore) InTx(ctx context.Context, fn func(q billingQueries) error) error {
	f.mu.Lock()
	tx := &fakeBillingStore{st: f.st.clone(), beforeBump: f.beforeBump, outer: f}
	f.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.st = tx.st
	return nil
}

func (f *fakeBillingStore) addProfile(role string, parent *uuid.UUID, email string) repository.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := repository.Profile{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: email,
		Role:        role,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if parent != nil {
		p.ParentID = uuid.NullUUID{UUID: *parent, Valid: true}
	}
	f.st.profiles[p.ID] = p
	return p
}

func (f *fakeBillingStore) subscription(id uuid.UUID) (repository.Subscription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.st.subscriptions[id]
	return s, ok
}

func (f *fakeBillingStore) multi(id string) repository.MultiSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.multis[id]
}

func (f *fakeBillingStore) rosterOf(id string) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.st.roster[id]...)
}

func (f *fakeBillingStore) jobs() []repository.EnqueueJobParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.EnqueueJobParams(nil), f.st.jobs...)
}

func (f *fakeBillingStore) GetProfileByID(ctx context.Context, id uuid.UUID) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.st.profiles[id]
	if !ok {
		return repository.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeBillingStore) GetProfileByEmail(ctx context.Context, email string) (repository.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.st.profiles {
		if p.Email == email {
			return p, nil
		}
	}
	return repository.Profile{}, sql.ErrNoRows
}

func (f *fakeBillingStore) UpdateProfileStripeCustomer(ctx context.Context, arg repository.UpdateProfileStripeCustomerParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.st.profiles[arg.ID]
	p.StripeCustomerID = arg.StripeCustomerID
	f.st.profiles[arg.ID] = p
	return nil
}

func (f *fakeBillingStore) GetSubscriptionByProfile(ctx context.Context, profileID uuid.UUID) (repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.st.subscriptions[profileID]
	if !ok {
		return repository.Subscription{}, sql.ErrNoRows
	}
	return s, nil
}

func (f *fakeBillingStore) ListSubscriptionsBySubscriptionID(ctx context.Context, subscriptionID string) ([]repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Subscription
	for _, s := range f.st.subscriptions {
		if s.SubscriptionID.Valid && s.SubscriptionID.String == subscriptionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileID.String() < out[j].ProfileID.String() })
	return out, nil
}

func (f *fakeBillingStore) UpsertSubscription(ctx context.Context, arg repository.UpsertSubscriptionParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, exists := f.st.subscriptions[arg.ProfileID]
	if exists && cur.LastEventAt.Valid && arg.LastEventAt.Valid && cur.LastEventAt.Time.After(arg.LastEventAt.Time) {
		return 0, nil
	}
	last := arg.LastEventAt
	if !last.Valid {
		last = cur.LastEventAt
	}
	f.st.subscriptions[arg.ProfileID] = repository.Subscription{
		ProfileID:      arg.ProfileID,
		SubscriptionID: arg.SubscriptionID,
		Status:         arg.Status,
		ExpiresAt:      arg.ExpiresAt,
		LastEventAt:    last,
		UpdatedAt:      time.Now(),
	}
	return 1, nil
}

func (f *fakeBillingStore) GetMultiSubscription(ctx context.Context, subscriptionID string) (repository.MultiSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.st.multis[subscriptionID]
	if !ok {
		return repository.MultiSubscription{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeBillingStore) UpsertMultiSubscription(ctx context.Context, arg repository.UpsertMultiSubscriptionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.st.multis[arg.SubscriptionID]
	if ok {
		m.StripeItemID = arg.StripeItemID
	} else {
		m = repository.MultiSubscription{
			SubscriptionID:  arg.SubscriptionID,
			ParentProfileID: arg.ParentProfileID,
			StripeItemID:    arg.StripeItemID,
			QuantitySynced:  arg.QuantitySynced,
			Version:         1,
			CreatedAt:       time.Now(),
		}
	}
	m.UpdatedAt = time.Now()
	f.st.multis[arg.SubscriptionID] = m
	return nil
}

func (f *fakeBillingStore) ListRosterProfileIDs(ctx context.Context, subscriptionID string) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.st.roster[subscriptionID]...), nil
}

func (f *fakeBillingStore) AddRosterProfile(ctx context.Context, arg repository.RosterProfileParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ids := range f.st.roster {
		for _, id := range ids {
			if id == arg.ProfileID {
				return 0, nil
			}
		}
	}
	f.st.roster[arg.SubscriptionID] = append(f.st.roster[arg.SubscriptionID], arg.ProfileID)
	return 1, nil
}

func (f *fakeBillingStore) RemoveRosterProfile(ctx context.Context, arg repository.RosterProfileParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.st.roster[arg.SubscriptionID]
	for i, id := range ids {
		if id == arg.ProfileID {
			f.st.roster[arg.SubscriptionID] = append(ids[:i:i], ids[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeBillingStore) DeleteRoster(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.st.roster, subscriptionID)
	return nil
}

func (f *fakeBillingStore) BumpRosterVersion(ctx context.Context, arg repository.BumpRosterVersionParams) (int64, error) {
	if f.beforeBump != nil && f.outer != nil {
		f.beforeBump(f.outer)
	}
	if f.outer != nil {
		// The row lock sees the committed version, not the snapshot.
		f.outer.mu.Lock()
		committed := f.outer.st.multis[arg.SubscriptionID]
		f.outer.mu.Unlock()
		if committed.Version != arg.Version {
			return 0, nil
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.st.multis[arg.SubscriptionID]
	if !ok || m.Version != arg.Version {
		return 0, nil
	}
	m.Version++
	f.st.multis[arg.SubscriptionID] = m
	return 1, nil
}

func (f *fakeBillingStore) UpdateQuantitySynced(ctx context.Context, arg repository.UpdateQuantitySyncedParams) (int64, error) {
	f.mu.Lock()
	hook := f.beforeSynced
	f.beforeSynced = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.st.multis[arg.SubscriptionID]
	if !ok || m.Version != arg.Version {
		return 0, nil
	}
	m.QuantitySynced = arg.QuantitySynced
	m.SyncedVersion = arg.Version
	f.st.multis[arg.SubscriptionID] = m
	return 1, nil
}

func (f *fakeBillingStore) MarkMultiSubscriptionCanceled(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.st.multis[subscriptionID]
	m.Canceled = true
	m.QuantitySynced = 0
	m.SyncedVersion = m.Version
	f.st.multis[subscriptionID] = m
	return nil
}

func (f *fakeBillingStore) ListUnsyncedMultiSubscriptions(ctx context.Context) ([]repository.MultiSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.MultiSubscription
	for _, m := range f.st.multis {
		if !m.Canceled && m.SyncedVersion != m.Version {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriptionID < out[j].SubscriptionID })
	return out, nil
}

func (f *fakeBillingStore) RecordWebhookEvent(ctx context.Context, arg repository.RecordWebhookEventParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.st.webhooks[arg.EventID] {
		return 0, nil
	}
	f.st.webhooks[arg.EventID] = true
	return 1, nil
}

func (f *fakeBillingStore) DeleteWebhookEvent(ctx context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.st.webhooks, eventID)
	return nil
}

func (f *fakeBillingStore) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.jobs = append(f.st.jobs, arg)
	return repository.Job{ID: uuid.New(), JobType: arg.JobType, Payload: arg.Payload}, nil
}

// =============================================================================
// Fake Stripe
// =============================================================================

type quantityUpdate struct {
	SubscriptionID string
	ItemID         string
	Quantity       int64
	Metadata       map[string]string
}

type fakeBilling struct {
	mu sync.Mutex

	subs      map[string]*billing.Subscription
	updates   []quantityUpdate
	canceled  []string
	checkouts []billing.CheckoutSessionParams
	customers int

	updateErr error
	cancelErr error
	getErr    error

	// beforeUpdate runs once before the next quantity update is applied.
	beforeUpdate func()
}

var _ billing.Service = (*fakeBilling)(nil)

func newFakeBilling() *fakeBilling {
	return &fakeBilling{subs: map[string]*billing.Subscription{}}
}

func (f *fakeBilling) put(sub *billing.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.ID] = sub
}

func (f *fakeBilling) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers++
	return "cus_test", nil
}

func (f *fakeBilling) CreateCheckoutSession(ctx context.Context, params billing.CheckoutSessionParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, params)
	return "https://checkout.stripe.test/session", nil
}

func (f *fakeBilling) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	return "https://billing.stripe.test/portal/" + customerID, nil
}

func (f *fakeBilling) GetSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeBilling) UpdateSubscriptionQuantity(ctx context.Context, subscriptionID, itemID string, quantity int64, metadata map[string]string) error {
	f.mu.Lock()
	hook := f.beforeUpdate
	f.beforeUpdate = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, quantityUpdate{subscriptionID, itemID, quantity, metadata})
	if sub, ok := f.subs[subscriptionID]; ok {
		sub.Quantity = quantity
	}
	return nil
}

func (f *fakeBilling) CancelSubscription(ctx context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, subscriptionID)
	if sub, ok := f.subs[subscriptionID]; ok {
		sub.Status = "canceled"
	}
	return nil
}

func (f *fakeBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, errors.New("not used")
}
