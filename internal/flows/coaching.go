package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/google/uuid"
)

// CoachingInput summarizes a child's recent activity for the parent.
type CoachingInput struct {
	ParentID     uuid.UUID
	Student      domain.StudentStats
	RecentTopics []string
	Concern      string
}

// Tip is one coaching suggestion.
type Tip struct {
	Title  string `json:"title" validate:"required"`
	Detail string `json:"detail" validate:"required"`
}

// CoachingTips is advice for a parent.
type CoachingTips struct {
	Summary string `json:"summary" validate:"required"`
	Tips    []Tip  `json:"tips" validate:"min=1,max=8,dive"`
}

// Coaching suggests how a parent can support their child's learning.
func (f *Flows) Coaching(ctx context.Context, in CoachingInput) (*CoachingTips, error) {
	const op = "Flows.Coaching"

	s := in.Student
	var b strings.Builder
	fmt.Fprintf(&b, "Student: %s", s.Name)
	if label := gradeLabel(s.GradeLevel); label != "" {
		fmt.Fprintf(&b, " (%s)", label)
	}
	fmt.Fprintf(&b, ".\nNotes written: %d. Quizzes taken: %d. Average quiz score: %.0f%%. Tutoring sessions: %d.",
		s.NoteCount, s.QuizCount, s.AverageScore, s.AISessionCount)
	if len(in.RecentTopics) > 0 {
		fmt.Fprintf(&b, "\nRecent topics: %s.", strings.Join(in.RecentTopics, ", "))
	}
	if c := strings.TrimSpace(in.Concern); c != "" {
		fmt.Fprintf(&b, "\nThe parent asks: %s", c)
	}

	parentID := in.ParentID
	tips, err := generate[CoachingTips](ctx, f, op, ai.Request{
		Flow: "coaching",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: "You coach parents on supporting their child's learning at home. " +
				"Be warm and practical. Base every tip on the activity data and never diagnose."},
			{Role: ai.RoleUser, Content: b.String()},
		},
		Schema:      coachingSchema,
		MaxTokens:   900,
		Temperature: 0.6,
		ProfileID:   &parentID,
	})
	if err != nil {
		return nil, err
	}
	return &tips, nil
}
