package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/domain"
)

// NoteSummary is the Cornell summary and cue column for a note.
type NoteSummary struct {
	Summary string   `json:"summary" validate:"required"`
	Cues    []string `json:"cues" validate:"min=1,max=15,dive,required"`
}

// SummarizeNote writes the summary section and cue questions for a note.
func (f *Flows) SummarizeNote(ctx context.Context, note *domain.Note) (*NoteSummary, error) {
	const op = "Flows.SummarizeNote"

	if note == nil || strings.TrimSpace(note.Body) == "" {
		return nil, domain.Invalid(op, "Note body is empty")
	}

	prompt := fmt.Sprintf("Here are a student's %s notes titled %q:\n\n%s\n\n"+
		"Write a Cornell-style summary of three to five sentences in the student's voice, "+
		"and cue questions that test the key ideas.",
		SubjectTitle(note.Subject), note.Title, note.Body)

	profileID := note.ProfileID
	summary, err := generate[NoteSummary](ctx, f, op, ai.Request{
		Flow: "note_summary",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: systemPrompt("You help students review their own notes.")},
			{Role: ai.RoleUser, Content: prompt},
		},
		Schema:      noteSummarySchema,
		MaxTokens:   700,
		Temperature: 0.3,
		ProfileID:   &profileID,
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}
