package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/DukeRupert/besttutor/internal/batch"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/flows"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/DukeRupert/besttutor/internal/worker"
	"github.com/google/uuid"
)

const (
	// recentQuizLimit is how many attempts each student contributes.
	recentQuizLimit = 5

	// statsConcurrency bounds parallel per-student stat queries.
	statsConcurrency = 4

	// DefaultReportDays is the progress report window when none is given.
	DefaultReportDays = 30

	// MaxReportDays caps the progress report window.
	MaxReportDays = 365
)

// =============================================================================
// Interface Definition
// =============================================================================

// DashboardService computes parent-facing analytics over their students.
type DashboardService interface {
	// Overview returns stats for every student of the parent. A student
	// whose stats fail to load is logged and left out.
	Overview(ctx context.Context, parentID uuid.UUID) ([]domain.StudentStats, error)

	// Progress returns stats and recent quizzes for every student.
	Progress(ctx context.Context, parentID uuid.UUID) ([]domain.StudentProgress, error)

	// Coaching asks the tutor for parenting tips about one student.
	Coaching(ctx context.Context, parentID, studentID uuid.UUID, concern string) (*flows.CoachingTips, error)

	// RequestReport queues a PDF progress report covering the last days.
	RequestReport(ctx context.Context, parentID uuid.UUID, days int) error
}

type dashboardQueries interface {
	GetProfileByID(ctx context.Context, id uuid.UUID) (repository.Profile, error)
	ListStudentsByParent(ctx context.Context, parentID uuid.UUID) ([]repository.Profile, error)
	CountNotesByProfile(ctx context.Context, profileID uuid.UUID) (int64, error)
	CountConversationsByProfile(ctx context.Context, profileID uuid.UUID) (int64, error)
	GetQuizStatsByProfile(ctx context.Context, profileID uuid.UUID) (repository.GetQuizStatsByProfileRow, error)
	GetAISessionStatsByProfile(ctx context.Context, profileID uuid.NullUUID) (repository.GetAISessionStatsByProfileRow, error)
	ListRecentQuizResults(ctx context.Context, arg repository.ListRecentQuizResultsParams) ([]repository.ListRecentQuizResultsRow, error)
	EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error)
}

// =============================================================================
// Implementation
// =============================================================================

type dashboardService struct {
	queries dashboardQueries
	status  statusReader
	flows   *flows.Flows
	logger  *slog.Logger
}

var _ DashboardService = (*dashboardService)(nil)

// NewDashboardService creates a dashboard service.
func NewDashboardService(queries dashboardQueries, status statusReader, f *flows.Flows, logger *slog.Logger) DashboardService {
	return &dashboardService{
		queries: queries,
		status:  status,
		flows:   f,
		logger:  logger.With("component", "dashboard_service"),
	}
}

func (s *dashboardService) Overview(ctx context.Context, parentID uuid.UUID) ([]domain.StudentStats, error) {
	progress, err := s.collect(ctx, "DashboardService.Overview", parentID, false)
	if err != nil {
		return nil, err
	}
	stats := make([]domain.StudentStats, len(progress))
	for i, p := range progress {
		stats[i] = p.Stats
	}
	return stats, nil
}

func (s *dashboardService) Progress(ctx context.Context, parentID uuid.UUID) ([]domain.StudentProgress, error) {
	return s.collect(ctx, "DashboardService.Progress", parentID, true)
}

// collect runs the per-student queries through the batch processor so a
// large family does not serialize dozens of round trips.
func (s *dashboardService) collect(ctx context.Context, op string, parentID uuid.UUID, withQuizzes bool) ([]domain.StudentProgress, error) {
	rows, err := s.queries.ListStudentsByParent(ctx, parentID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list students")
	}
	if len(rows) == 0 {
		return []domain.StudentProgress{}, nil
	}
	students := make([]*domain.Profile, len(rows))
	for i, row := range rows {
		students[i] = toDomainProfile(row)
	}

	results, err := batch.Process(ctx, students, func(ctx context.Context, p *domain.Profile) (domain.StudentProgress, error) {
		return s.progressFor(ctx, p, withQuizzes)
	}, batch.Options{
		Concurrency: statsConcurrency,
		ChunkDelay:  -1,
		OnError: func(index int, err error) {
			s.logger.WarnContext(ctx, "failed to load student stats", "parent_id", parentID, "profile_id", students[index].ID, "error", err)
		},
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load stats")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return batch.Values(results), nil
}

func (s *dashboardService) progressFor(ctx context.Context, p *domain.Profile, withQuizzes bool) (domain.StudentProgress, error) {
	stats := domain.StudentStats{
		ProfileID:  p.ID,
		Name:       p.Name(),
		GradeLevel: p.GradeLevel,
	}

	var err error
	if stats.NoteCount, err = s.queries.CountNotesByProfile(ctx, p.ID); err != nil {
		return domain.StudentProgress{}, err
	}
	if stats.ConversationCount, err = s.queries.CountConversationsByProfile(ctx, p.ID); err != nil {
		return domain.StudentProgress{}, err
	}
	quiz, err := s.queries.GetQuizStatsByProfile(ctx, p.ID)
	if err != nil {
		return domain.StudentProgress{}, err
	}
	stats.QuizCount = quiz.ResultCount
	stats.AverageScore = quiz.AveragePercent

	ai, err := s.queries.GetAISessionStatsByProfile(ctx, uuid.NullUUID{UUID: p.ID, Valid: true})
	if err != nil {
		return domain.StudentProgress{}, err
	}
	stats.AISessionCount = ai.SessionCount
	stats.LastActiveAt = domain.NullTimeValue(ai.LastSessionAt)

	sub, err := s.status.GetStatus(ctx, p.ID)
	if err != nil {
		return domain.StudentProgress{}, err
	}
	stats.Status = sub.Status

	progress := domain.StudentProgress{Stats: stats}
	if withQuizzes {
		if progress.RecentQuizzes, err = s.recentQuizzes(ctx, p.ID); err != nil {
			return domain.StudentProgress{}, err
		}
	}
	return progress, nil
}

func (s *dashboardService) recentQuizzes(ctx context.Context, profileID uuid.UUID) ([]domain.RecentQuiz, error) {
	rows, err := s.queries.ListRecentQuizResults(ctx, repository.ListRecentQuizResultsParams{
		ProfileID: profileID,
		Limit:     recentQuizLimit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RecentQuiz, len(rows))
	for i, row := range rows {
		out[i] = domain.RecentQuiz{
			Subject:   row.Subject,
			Topic:     row.Topic,
			Score:     int(row.Score),
			Total:     int(row.Total),
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}

func (s *dashboardService) Coaching(ctx context.Context, parentID, studentID uuid.UUID, concern string) (*flows.CoachingTips, error) {
	const op = "DashboardService.Coaching"

	row, err := s.queries.GetProfileByID(ctx, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "profile", studentID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load profile")
	}
	student := toDomainProfile(row)
	if student.ID == parentID || !student.ManagedBy(parentID) {
		return nil, domain.Forbidden(op, "That student does not belong to you")
	}

	progress, err := s.progressFor(ctx, student, true)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load student stats")
	}

	topics := make([]string, 0, len(progress.RecentQuizzes))
	seen := make(map[string]bool)
	for _, q := range progress.RecentQuizzes {
		if !seen[q.Topic] {
			seen[q.Topic] = true
			topics = append(topics, q.Topic)
		}
	}

	return s.flows.Coaching(ctx, flows.CoachingInput{
		ParentID:     parentID,
		Student:      progress.Stats,
		RecentTopics: topics,
		Concern:      truncateRunes(concern, MaxMessageLength),
	})
}

func (s *dashboardService) RequestReport(ctx context.Context, parentID uuid.UUID, days int) error {
	const op = "DashboardService.RequestReport"

	if days <= 0 {
		days = DefaultReportDays
	}
	if days > MaxReportDays {
		return domain.NewValidationError(op, "days", "Reports cover at most one year")
	}

	job, err := worker.EnqueueProgressReport(ctx, s.queries, parentID, days)
	if err != nil {
		return domain.Internal(err, op, "failed to queue report")
	}
	s.logger.InfoContext(ctx, "queued progress report", "parent_id", parentID, "job_id", job.ID, "days", days)
	return nil
}
