package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/flows"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// DefaultNotePageSize is used when a list request gives no limit.
	DefaultNotePageSize = 20

	// MaxNotePageSize caps list requests.
	MaxNotePageSize = 100

	// MaxFlashcardNotes bounds one bulk flashcard request.
	MaxFlashcardNotes = 10
)

// =============================================================================
// Interface Definition
// =============================================================================

// NoteService manages Cornell notes and the AI features built on them.
type NoteService interface {
	List(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]*domain.Note, error)
	Get(ctx context.Context, profileID, noteID uuid.UUID) (*domain.Note, error)
	Create(ctx context.Context, profileID uuid.UUID, params domain.NoteParams) (*domain.Note, error)
	Update(ctx context.Context, profileID, noteID uuid.UUID, params domain.NoteParams) (*domain.Note, error)
	Delete(ctx context.Context, profileID, noteID uuid.UUID) error

	// Summarize writes the AI summary and cue column back onto the note.
	Summarize(ctx context.Context, profileID, noteID uuid.UUID) (*domain.Note, error)

	// Flashcards builds cards for each note. A note that fails carries its
	// error message; the others still return cards.
	Flashcards(ctx context.Context, profileID uuid.UUID, noteIDs []uuid.UUID, count int) ([]NoteCards, error)
}

// NoteCards is the flashcard outcome for one note.
type NoteCards struct {
	NoteID uuid.UUID
	Title  string
	Cards  []domain.Flashcard
	Err    error
}

type noteQueries interface {
	CreateNote(ctx context.Context, arg repository.CreateNoteParams) (repository.Note, error)
	GetNote(ctx context.Context, arg repository.GetNoteParams) (repository.Note, error)
	ListNotesByProfile(ctx context.Context, arg repository.ListNotesByProfileParams) ([]repository.Note, error)
	UpdateNote(ctx context.Context, arg repository.UpdateNoteParams) (repository.Note, error)
	UpdateNoteSummary(ctx context.Context, arg repository.UpdateNoteSummaryParams) (repository.Note, error)
	DeleteNote(ctx context.Context, arg repository.DeleteNoteParams) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type noteService struct {
	queries  noteQueries
	flows    *flows.Flows
	validate *validator.Validate
	logger   *slog.Logger
}

var _ NoteService = (*noteService)(nil)

// NewNoteService creates a note service.
func NewNoteService(queries noteQueries, f *flows.Flows, validate *validator.Validate, logger *slog.Logger) NoteService {
	return &noteService{
		queries:  queries,
		flows:    f,
		validate: validate,
		logger:   logger.With("component", "note_service"),
	}
}

func (s *noteService) List(ctx context.Context, profileID uuid.UUID, limit, offset int) ([]*domain.Note, error) {
	const op = "NoteService.List"

	if limit <= 0 {
		limit = DefaultNotePageSize
	}
	if limit > MaxNotePageSize {
		limit = MaxNotePageSize
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.queries.ListNotesByProfile(ctx, repository.ListNotesByProfileParams{
		ProfileID: profileID,
		Limit:     int32(limit),
		Offset:    int32(offset),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list notes")
	}
	notes := make([]*domain.Note, len(rows))
	for i, row := range rows {
		notes[i] = toDomainNote(row)
	}
	return notes, nil
}

func (s *noteService) Get(ctx context.Context, profileID, noteID uuid.UUID) (*domain.Note, error) {
	const op = "NoteService.Get"

	row, err := s.queries.GetNote(ctx, repository.GetNoteParams{ID: noteID, ProfileID: profileID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "note", noteID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load note")
	}
	return toDomainNote(row), nil
}

func (s *noteService) Create(ctx context.Context, profileID uuid.UUID, params domain.NoteParams) (*domain.Note, error) {
	const op = "NoteService.Create"

	if err := validateStruct(s.validate, op, params); err != nil {
		return nil, err
	}

	row, err := s.queries.CreateNote(ctx, repository.CreateNoteParams{
		ProfileID: profileID,
		Subject:   domain.NormalizeSubject(params.Subject),
		Title:     params.Title,
		Cues:      nonNilStrings(params.Cues),
		Body:      params.Body,
		Summary:   domain.ToNullString(params.Summary),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create note")
	}
	return toDomainNote(row), nil
}

func (s *noteService) Update(ctx context.Context, profileID, noteID uuid.UUID, params domain.NoteParams) (*domain.Note, error) {
	const op = "NoteService.Update"

	if err := validateStruct(s.validate, op, params); err != nil {
		return nil, err
	}

	row, err := s.queries.UpdateNote(ctx, repository.UpdateNoteParams{
		ID:        noteID,
		ProfileID: profileID,
		Subject:   domain.NormalizeSubject(params.Subject),
		Title:     params.Title,
		Cues:      nonNilStrings(params.Cues),
		Body:      params.Body,
		Summary:   domain.ToNullString(params.Summary),
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "note", noteID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to update note")
	}
	return toDomainNote(row), nil
}

func (s *noteService) Delete(ctx context.Context, profileID, noteID uuid.UUID) error {
	const op = "NoteService.Delete"

	n, err := s.queries.DeleteNote(ctx, repository.DeleteNoteParams{ID: noteID, ProfileID: profileID})
	if err != nil {
		return domain.Internal(err, op, "failed to delete note")
	}
	if n == 0 {
		return domain.NotFound(op, "note", noteID.String())
	}
	return nil
}

func (s *noteService) Summarize(ctx context.Context, profileID, noteID uuid.UUID) (*domain.Note, error) {
	const op = "NoteService.Summarize"

	note, err := s.Get(ctx, profileID, noteID)
	if err != nil {
		return nil, err
	}

	summary, err := s.flows.SummarizeNote(ctx, note)
	if err != nil {
		return nil, err
	}

	row, err := s.queries.UpdateNoteSummary(ctx, repository.UpdateNoteSummaryParams{
		ID:        noteID,
		ProfileID: profileID,
		Summary:   domain.ToNullString(summary.Summary),
		Cues:      mergeCues(note.Cues, summary.Cues),
	})
	if errors.Is(err, sql.ErrNoRows) {
		// Deleted while the summary was generated.
		return nil, domain.NotFound(op, "note", noteID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to save summary")
	}
	return toDomainNote(row), nil
}

func (s *noteService) Flashcards(ctx context.Context, profileID uuid.UUID, noteIDs []uuid.UUID, count int) ([]NoteCards, error) {
	const op = "NoteService.Flashcards"

	noteIDs = uniqueIDs(noteIDs)
	if len(noteIDs) == 0 {
		return nil, domain.Invalid(op, "Choose at least one note")
	}
	if len(noteIDs) > MaxFlashcardNotes {
		return nil, domain.Invalid(op, "Too many notes in one request")
	}

	notes := make([]*domain.Note, 0, len(noteIDs))
	for _, id := range noteIDs {
		note, err := s.Get(ctx, profileID, id)
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}

	results, err := s.flows.FlashcardsForNotes(ctx, notes, count)
	if err != nil {
		return nil, err
	}

	out := make([]NoteCards, len(results))
	failed := 0
	for i, r := range results {
		out[i] = NoteCards{NoteID: r.Item.ID, Title: r.Item.Title, Cards: r.Value, Err: r.Err}
		if r.Err != nil {
			failed++
		}
	}
	if failed == len(out) {
		// Nothing to show; surface the first failure.
		return nil, results[0].Err
	}
	return out, nil
}

// mergeCues keeps the student's own cues first and appends generated ones
// that are not already present.
func mergeCues(existing, generated []string) []string {
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(generated))
	for _, c := range existing {
		seen[c] = true
		out = append(out, c)
	}
	for _, c := range generated {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
