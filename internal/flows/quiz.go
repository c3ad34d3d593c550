package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/google/uuid"
)

// Question count bounds for generated quizzes.
const (
	DefaultQuizQuestions = 5
	MaxQuizQuestions     = 20
)

// QuizInput describes the quiz to generate.
type QuizInput struct {
	ProfileID  uuid.UUID
	Subject    string
	Topic      string
	Difficulty domain.Difficulty
	Count      int
	GradeLevel *int
}

type quizOutput struct {
	Questions []domain.QuizQuestion `json:"questions" validate:"min=1,dive"`
}

// Quiz generates multiple choice questions. Questions whose correct index
// falls outside their options are dropped; an empty result is an error.
func (f *Flows) Quiz(ctx context.Context, in QuizInput) ([]domain.QuizQuestion, error) {
	const op = "Flows.Quiz"

	if strings.TrimSpace(in.Topic) == "" {
		return nil, domain.Invalid(op, "Topic is required")
	}
	if in.Difficulty == "" {
		in.Difficulty = domain.DifficultyMedium
	}
	if !in.Difficulty.IsValid() {
		return nil, domain.Invalid(op, "Difficulty must be easy, medium or hard")
	}
	count := clamp(in.Count, DefaultQuizQuestions, 1, MaxQuizQuestions)

	prompt := fmt.Sprintf("Write %d %s multiple choice questions about %q in %s. "+
		"Each question has 4 options and exactly one correct answer. Explain each answer in one sentence.",
		count, in.Difficulty, in.Topic, SubjectTitle(in.Subject))

	profileID := in.ProfileID
	out, err := generate[quizOutput](ctx, f, op, ai.Request{
		Flow: "quiz",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: systemPrompt(readingLevel(in.GradeLevel))},
			{Role: ai.RoleUser, Content: prompt},
		},
		Schema:      quizSchema,
		MaxTokens:   400 * count,
		Temperature: 0.4,
		ProfileID:   &profileID,
	})
	if err != nil {
		return nil, err
	}

	questions := make([]domain.QuizQuestion, 0, len(out.Questions))
	for _, q := range out.Questions {
		if q.CorrectIndex >= len(q.Options) {
			f.logger.WarnContext(ctx, "dropping quiz question with out of range answer", "correct_index", q.CorrectIndex, "options", len(q.Options))
			continue
		}
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, f.mapError(ctx, op, "quiz", &ai.SchemaValidationError{Schema: SchemaQuiz, Fields: []string{"questions.correct_index"}})
	}
	if len(questions) > count {
		questions = questions[:count]
	}
	return questions, nil
}
