package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
	"github.com/google/uuid"
)

// LearningPathInput describes the student's goal.
type LearningPathInput struct {
	ProfileID      uuid.UUID
	Subject        string
	Goal           string
	GradeLevel     *int
	WeeksAvailable int
}

// Milestone is one ordered step of a learning path.
type Milestone struct {
	Title            string   `json:"title" validate:"required"`
	Description      string   `json:"description" validate:"required"`
	Activities       []string `json:"activities" validate:"min=1,dive,required"`
	EstimatedMinutes int      `json:"estimated_minutes" validate:"gte=0"`
}

// LearningPath is an ordered plan towards a goal.
type LearningPath struct {
	Title      string      `json:"title" validate:"required"`
	Milestones []Milestone `json:"milestones" validate:"min=2,max=12,dive"`
}

// TotalMinutes sums the milestone estimates.
func (p *LearningPath) TotalMinutes() int {
	total := 0
	for _, m := range p.Milestones {
		total += m.EstimatedMinutes
	}
	return total
}

// LearningPath plans milestones toward a goal. It runs under the expensive
// limiter profile.
func (f *Flows) LearningPath(ctx context.Context, in LearningPathInput) (*LearningPath, error) {
	const op = "Flows.LearningPath"

	if strings.TrimSpace(in.Goal) == "" {
		return nil, domain.Invalid(op, "Goal is required")
	}
	weeks := clamp(in.WeeksAvailable, 4, 1, 52)

	prompt := fmt.Sprintf("Plan a learning path in %s for this goal: %q. The student has about %d weeks. "+
		"Order milestones from foundations to mastery, with concrete activities for each.",
		SubjectTitle(in.Subject), in.Goal, weeks)

	profileID := in.ProfileID
	path, err := generate[LearningPath](ctx, f, op, ai.Request{
		Flow: "learning_path",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: systemPrompt(readingLevel(in.GradeLevel))},
			{Role: ai.RoleUser, Content: prompt},
		},
		Schema:      learningPathSchema,
		MaxTokens:   2500,
		Temperature: 0.5,
		ProfileID:   &profileID,
		Limit:       ratelimit.ProfileExpensive,
	})
	if err != nil {
		return nil, err
	}
	return &path, nil
}
