package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/google/uuid"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeReconcileRoster = "reconcile_roster"
	JobTypeProgressReport  = "progress_report"
	JobTypePaymentNotice   = "payment_notice"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// Enqueuer is the slice of the query set needed to insert jobs. Both
// *repository.Queries and transaction-bound queries satisfy it.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error)
}

// ReconcileRosterPayload is the payload for roster reconciliation jobs.
// An empty SubscriptionID reconciles every roster whose Stripe quantity
// has drifted from the local count.
type ReconcileRosterPayload struct {
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// ProgressReportPayload is the payload for parent progress report jobs.
type ProgressReportPayload struct {
	ParentID uuid.UUID `json:"parent_id"`
	Days     int       `json:"days"`
}

// PaymentNoticePayload is the payload for payment failure emails.
type PaymentNoticePayload struct {
	ParentID       uuid.UUID `json:"parent_id"`
	SubscriptionID string    `json:"subscription_id"`
	AmountDue      int64     `json:"amount_due"` // minor units
	Currency       string    `json:"currency"`
	HostedURL      string    `json:"hosted_url,omitempty"`
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// EnqueueJob is a generic helper for enqueuing jobs with custom options.
func EnqueueJob(
	ctx context.Context,
	q Enqueuer,
	jobType string,
	payload interface{},
	opts ...EnqueueOption,
) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := q.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// EnqueueReconcileRoster enqueues a Stripe quantity sync for one roster.
// Reconciliation is idempotent so it gets more attempts than other jobs.
func EnqueueReconcileRoster(ctx context.Context, q Enqueuer, subscriptionID string, opts ...EnqueueOption) (repository.Job, error) {
	opts = append([]EnqueueOption{WithPriority(PriorityHigh), WithMaxAttempts(8)}, opts...)
	return EnqueueJob(ctx, q, JobTypeReconcileRoster, ReconcileRosterPayload{SubscriptionID: subscriptionID}, opts...)
}

// EnqueueProgressReport enqueues a PDF progress report covering the last days.
func EnqueueProgressReport(ctx context.Context, q Enqueuer, parentID uuid.UUID, days int, opts ...EnqueueOption) (repository.Job, error) {
	return EnqueueJob(ctx, q, JobTypeProgressReport, ProgressReportPayload{ParentID: parentID, Days: days}, opts...)
}

// EnqueuePaymentNotice enqueues the payment failed email for a parent.
func EnqueuePaymentNotice(ctx context.Context, q Enqueuer, payload PaymentNoticePayload, opts ...EnqueueOption) (repository.Job, error) {
	return EnqueueJob(ctx, q, JobTypePaymentNotice, payload, opts...)
}
