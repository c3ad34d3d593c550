// Package service contains the business logic layer.
//
// This file implements the monthly AI allowance for free profiles.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/google/uuid"
)

// DefaultFreeAIRequestsPerMonth applies when FREE_AI_REQUESTS_PER_MONTH is unset.
const DefaultFreeAIRequestsPerMonth = 30

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking quota limits.
type QuotaService interface {
	// GetUsage returns the current month's AI usage for a profile.
	GetUsage(ctx context.Context, profileID uuid.UUID, sub *domain.Subscription) (*domain.QuotaUsage, error)

	// CheckAIQuota returns nil if the profile may make another AI request,
	// or an EUPGRADE error once a free profile has used its allowance.
	CheckAIQuota(ctx context.Context, profileID uuid.UUID, sub *domain.Subscription) error
}

// sessionCounter is the query the quota service needs.
type sessionCounter interface {
	CountAISessionsSince(ctx context.Context, arg repository.CountAISessionsSinceParams) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	queries sessionCounter
	limit   int64
	now     func() time.Time
	logger  *slog.Logger
}

// NewQuotaService creates a new QuotaService allowing limit AI requests per
// calendar month (UTC) to free profiles.
func NewQuotaService(queries sessionCounter, limit int, logger *slog.Logger) QuotaService {
	if limit <= 0 {
		limit = DefaultFreeAIRequestsPerMonth
	}
	return &quotaService{
		queries: queries,
		limit:   int64(limit),
		now:     time.Now,
		logger:  logger,
	}
}

// GetUsage returns the current quota usage for a profile.
func (s *quotaService) GetUsage(ctx context.Context, profileID uuid.UUID, sub *domain.Subscription) (*domain.QuotaUsage, error) {
	const op = "quota.get_usage"

	if sub.IsPremium() {
		return &domain.QuotaUsage{IsUnlimited: true}, nil
	}

	used, err := s.countThisMonth(ctx, profileID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to count AI sessions")
	}
	return &domain.QuotaUsage{Used: used, Limit: s.limit}, nil
}

// CheckAIQuota checks if the profile has AI requests left this month.
func (s *quotaService) CheckAIQuota(ctx context.Context, profileID uuid.UUID, sub *domain.Subscription) error {
	const op = "quota.check_ai"

	usage, err := s.GetUsage(ctx, profileID, sub)
	if err != nil {
		return err
	}
	if usage.Exceeded() {
		s.logger.Info("AI quota exceeded",
			"profile_id", profileID,
			"used", usage.Used,
			"limit", usage.Limit,
		)
		return domain.QuotaExceeded(op, usage.Limit)
	}
	return nil
}

func (s *quotaService) countThisMonth(ctx context.Context, profileID uuid.UUID) (int64, error) {
	start, _ := monthBoundaries(s.now())
	return s.queries.CountAISessionsSince(ctx, repository.CountAISessionsSinceParams{
		ProfileID: uuid.NullUUID{UUID: profileID, Valid: true},
		Since:     start,
	})
}

// monthBoundaries returns the start and end times of t's month in UTC.
func monthBoundaries(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
