package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/flows"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Unanswered marks a skipped question in submitted answers.
const Unanswered = -1

// QuizService generates, stores and grades quizzes.
type QuizService interface {
	// Generate asks the tutor for questions and persists the quiz.
	Generate(ctx context.Context, profile *domain.Profile, params domain.QuizParams) (*domain.Quiz, error)

	// Get returns a quiz owned by the profile.
	Get(ctx context.Context, profileID, quizID uuid.UUID) (*domain.Quiz, error)

	// Submit grades one attempt and records it.
	Submit(ctx context.Context, profileID, quizID uuid.UUID, answers []int) (*domain.QuizResult, error)
}

type quizQueries interface {
	CreateQuiz(ctx context.Context, arg repository.CreateQuizParams) (repository.Quiz, error)
	GetQuiz(ctx context.Context, arg repository.GetQuizParams) (repository.Quiz, error)
	CreateQuizResult(ctx context.Context, arg repository.CreateQuizResultParams) (repository.QuizResult, error)
}

type quizService struct {
	queries  quizQueries
	flows    *flows.Flows
	validate *validator.Validate
	logger   *slog.Logger
}

var _ QuizService = (*quizService)(nil)

// NewQuizService creates a quiz service.
func NewQuizService(queries quizQueries, f *flows.Flows, validate *validator.Validate, logger *slog.Logger) QuizService {
	return &quizService{
		queries:  queries,
		flows:    f,
		validate: validate,
		logger:   logger.With("component", "quiz_service"),
	}
}

func (s *quizService) Generate(ctx context.Context, profile *domain.Profile, params domain.QuizParams) (*domain.Quiz, error) {
	const op = "QuizService.Generate"

	if err := validateStruct(s.validate, op, params); err != nil {
		return nil, err
	}
	if params.Difficulty == "" {
		params.Difficulty = domain.DifficultyMedium
	}

	questions, err := s.flows.Quiz(ctx, flows.QuizInput{
		ProfileID:  profile.ID,
		Subject:    params.Subject,
		Topic:      params.Topic,
		Difficulty: params.Difficulty,
		Count:      params.Count,
		GradeLevel: profile.GradeLevel,
	})
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(questions)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode questions")
	}

	row, err := s.queries.CreateQuiz(ctx, repository.CreateQuizParams{
		ProfileID:  profile.ID,
		Subject:    domain.NormalizeSubject(params.Subject),
		Topic:      params.Topic,
		Difficulty: string(params.Difficulty),
		Questions:  raw,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to save quiz")
	}

	quiz, err := toDomainQuiz(row)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to decode quiz")
	}
	s.logger.InfoContext(ctx, "generated quiz", "quiz_id", quiz.ID, "questions", len(quiz.Questions))
	return quiz, nil
}

func (s *quizService) Get(ctx context.Context, profileID, quizID uuid.UUID) (*domain.Quiz, error) {
	const op = "QuizService.Get"

	row, err := s.queries.GetQuiz(ctx, repository.GetQuizParams{ID: quizID, ProfileID: profileID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "quiz", quizID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load quiz")
	}
	quiz, err := toDomainQuiz(row)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to decode quiz")
	}
	return quiz, nil
}

func (s *quizService) Submit(ctx context.Context, profileID, quizID uuid.UUID, answers []int) (*domain.QuizResult, error) {
	const op = "QuizService.Submit"

	quiz, err := s.Get(ctx, profileID, quizID)
	if err != nil {
		return nil, err
	}

	if len(answers) > len(quiz.Questions) {
		return nil, domain.NewValidationError(op, "answers", "More answers than questions")
	}
	verr := &domain.ValidationError{Op: op}
	for i, a := range answers {
		if a != Unanswered && (a < 0 || a >= len(quiz.Questions[i].Options)) {
			verr.Add("answers", "Each answer must pick one of the question's options")
			break
		}
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to encode answers")
	}

	row, err := s.queries.CreateQuizResult(ctx, repository.CreateQuizResultParams{
		QuizID:    quiz.ID,
		ProfileID: profileID,
		Score:     int32(quiz.Score(answers)),
		Total:     int32(len(quiz.Questions)),
		Answers:   pqtype.NullRawMessage{RawMessage: raw, Valid: true},
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to save result")
	}
	return toDomainQuizResult(row), nil
}
