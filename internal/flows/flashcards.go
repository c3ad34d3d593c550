package flows

import (
	"context"
	"fmt"
	"strings"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/batch"
	"github.com/DukeRupert/besttutor/internal/domain"
)

// Card count bounds per note.
const (
	DefaultFlashcards = 8
	MaxFlashcards     = 30
)

type flashcardsOutput struct {
	Cards []domain.Flashcard `json:"cards" validate:"min=1,dive"`
}

// Flashcards builds study cards from one note.
func (f *Flows) Flashcards(ctx context.Context, note *domain.Note, count int) ([]domain.Flashcard, error) {
	const op = "Flows.Flashcards"

	if note == nil || (strings.TrimSpace(note.Body) == "" && len(note.Cues) == 0) {
		return nil, domain.Invalid(op, "Note has no content to study")
	}
	count = clamp(count, DefaultFlashcards, 1, MaxFlashcards)

	var b strings.Builder
	fmt.Fprintf(&b, "Create up to %d flashcards from this %s note titled %q.\n", count, SubjectTitle(note.Subject), note.Title)
	if len(note.Cues) > 0 {
		b.WriteString("Cue questions:\n")
		for _, c := range note.Cues {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	b.WriteString("Notes:\n")
	b.WriteString(note.Body)
	if note.Summary != "" {
		b.WriteString("\nSummary:\n")
		b.WriteString(note.Summary)
	}

	profileID := note.ProfileID
	out, err := generate[flashcardsOutput](ctx, f, op, ai.Request{
		Flow: "flashcards",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: systemPrompt("Write one fact or concept per card. Fronts are short prompts, backs are concise answers.")},
			{Role: ai.RoleUser, Content: b.String()},
		},
		Schema:      flashcardsSchema,
		MaxTokens:   120 * count,
		Temperature: 0.3,
		ProfileID:   &profileID,
	})
	if err != nil {
		return nil, err
	}
	if len(out.Cards) > count {
		out.Cards = out.Cards[:count]
	}
	return out.Cards, nil
}

// NoteFlashcards is the outcome for one note of a bulk run.
type NoteFlashcards = batch.Result[*domain.Note, []domain.Flashcard]

// FlashcardsForNotes runs Flashcards over several notes with bounded
// concurrency. A failing note does not stop the others.
func (f *Flows) FlashcardsForNotes(ctx context.Context, notes []*domain.Note, count int) ([]NoteFlashcards, error) {
	return batch.Process(ctx, notes, func(ctx context.Context, n *domain.Note) ([]domain.Flashcard, error) {
		return f.Flashcards(ctx, n, count)
	}, batch.Options{
		Concurrency: 3,
		OnError: func(index int, err error) {
			f.logger.WarnContext(ctx, "flashcards failed for note", "index", index, "error", err)
		},
	})
}
