package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/google/uuid"
)

// JokeTTL is how long a joke is reused for the same subject and grade.
const JokeTTL = time.Hour

// Joke is a short subject-themed joke.
type Joke struct {
	Setup     string `json:"setup" validate:"required"`
	Punchline string `json:"punchline" validate:"required"`
}

// Joke tells a clean joke about the subject. The prompt depends only on the
// subject and grade, so the response cache shares it across students.
func (f *Flows) Joke(ctx context.Context, profileID uuid.UUID, subject string, grade *int) (*Joke, error) {
	const op = "Flows.Joke"

	prompt := fmt.Sprintf("Tell one short, clean, kid-friendly joke about %s.", SubjectTitle(subject))
	if label := gradeLabel(grade); label != "" {
		prompt += fmt.Sprintf(" It should make sense to a student in %s.", label)
	}

	joke, err := generate[Joke](ctx, f, op, ai.Request{
		Flow: "joke",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: systemPrompt()},
			{Role: ai.RoleUser, Content: prompt},
		},
		Schema:      jokeSchema,
		MaxTokens:   150,
		Temperature: 0.9,
		ProfileID:   &profileID,
		CacheTTL:    JokeTTL,
	})
	if err != nil {
		return nil, err
	}
	return &joke, nil
}
