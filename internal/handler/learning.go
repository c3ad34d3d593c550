// Package handler contains the HTTP handlers of the BestTutorEver API.
//
// This file implements note, flashcard and quiz handlers.
//
// Routes handled:
//   - GET    /api/notes                  -> ListNotes
//   - POST   /api/notes                  -> CreateNote
//   - GET    /api/notes/{id}             -> GetNote
//   - PUT    /api/notes/{id}             -> UpdateNote
//   - DELETE /api/notes/{id}             -> DeleteNote
//   - POST   /api/notes/{id}/summary     -> SummarizeNote
//   - POST   /api/flashcards             -> Flashcards
//   - POST   /api/quizzes                -> GenerateQuiz
//   - GET    /api/quizzes/{id}           -> GetQuiz
//   - POST   /api/quizzes/{id}/results   -> SubmitQuiz
package handler

import (
	"net/http"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/service"
	"github.com/google/uuid"
)

// LearningHandler serves notes, flashcards and quizzes.
type LearningHandler struct {
	profiles service.ProfileService
	notes    service.NoteService
	quizzes  service.QuizService
	*Responder
}

// NewLearningHandler creates a new LearningHandler.
func NewLearningHandler(profiles service.ProfileService, notes service.NoteService, quizzes service.QuizService, rs *Responder) *LearningHandler {
	return &LearningHandler{
		profiles:  profiles,
		notes:     notes,
		quizzes:   quizzes,
		Responder: rs,
	}
}

// RegisterRoutes registers note and quiz routes. Routes that call the
// tutor also pass through withQuota.
func (h *LearningHandler) RegisterRoutes(mux *http.ServeMux, requireAuth, withQuota func(http.Handler) http.Handler) {
	ai := func(fn http.HandlerFunc) http.Handler { return requireAuth(withQuota(fn)) }

	mux.Handle("GET /api/notes", requireAuth(http.HandlerFunc(h.ListNotes)))
	mux.Handle("POST /api/notes", requireAuth(http.HandlerFunc(h.CreateNote)))
	mux.Handle("GET /api/notes/{id}", requireAuth(http.HandlerFunc(h.GetNote)))
	mux.Handle("PUT /api/notes/{id}", requireAuth(http.HandlerFunc(h.UpdateNote)))
	mux.Handle("DELETE /api/notes/{id}", requireAuth(http.HandlerFunc(h.DeleteNote)))
	mux.Handle("POST /api/notes/{id}/summary", ai(h.SummarizeNote))
	mux.Handle("POST /api/flashcards", ai(h.Flashcards))
	mux.Handle("POST /api/quizzes", ai(h.GenerateQuiz))
	mux.Handle("GET /api/quizzes/{id}", requireAuth(http.HandlerFunc(h.GetQuiz)))
	mux.Handle("POST /api/quizzes/{id}/results", requireAuth(http.HandlerFunc(h.SubmitQuiz)))
}

// =============================================================================
// Notes
// =============================================================================

// ListNotes returns a page of the actor's notes, newest first.
func (h *LearningHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	const op = "LearningHandler.ListNotes"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	limit, err := queryInt(r, op, "limit", 20)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	offset, err := queryInt(r, op, "offset", 0)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	notes, err := h.notes.List(r.Context(), p.ID, limit, offset)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	out := make([]noteResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, toNoteResponse(n))
	}
	h.JSON(w, http.StatusOK, map[string]any{"notes": out})
}

// CreateNote stores a new Cornell note.
func (h *LearningHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	const op = "LearningHandler.CreateNote"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req domain.NoteParams
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	note, err := h.notes.Create(r.Context(), p.ID, req)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, toNoteResponse(note))
}

// GetNote returns one note.
func (h *LearningHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.actorAndID(w, r, "LearningHandler.GetNote")
	if !ok {
		return
	}
	note, err := h.notes.Get(r.Context(), p.ID, id)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toNoteResponse(note))
}

// UpdateNote replaces the editable fields of a note.
func (h *LearningHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	const op = "LearningHandler.UpdateNote"

	p, id, ok := h.actorAndID(w, r, op)
	if !ok {
		return
	}
	var req domain.NoteParams
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	note, err := h.notes.Update(r.Context(), p.ID, id, req)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toNoteResponse(note))
}

// DeleteNote removes a note.
func (h *LearningHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.actorAndID(w, r, "LearningHandler.DeleteNote")
	if !ok {
		return
	}
	if err := h.notes.Delete(r.Context(), p.ID, id); err != nil {
		h.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SummarizeNote fills the summary and cue column with the tutor's help.
func (h *LearningHandler) SummarizeNote(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.actorAndID(w, r, "LearningHandler.SummarizeNote")
	if !ok {
		return
	}
	note, err := h.notes.Summarize(r.Context(), p.ID, id)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toNoteResponse(note))
}

type flashcardsRequest struct {
	NoteIDs []uuid.UUID `json:"note_ids"`
	Count   int         `json:"count"`
}

type noteCardsResponse struct {
	NoteID uuid.UUID          `json:"note_id"`
	Title  string             `json:"title,omitempty"`
	Cards  []domain.Flashcard `json:"cards"`
	Error  string             `json:"error,omitempty"`
}

// Flashcards builds cards for several notes. Notes that fail report their
// error next to the ones that succeeded.
func (h *LearningHandler) Flashcards(w http.ResponseWriter, r *http.Request) {
	const op = "LearningHandler.Flashcards"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req flashcardsRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	results, err := h.notes.Flashcards(r.Context(), p.ID, req.NoteIDs, req.Count)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	out := make([]noteCardsResponse, 0, len(results))
	for _, res := range results {
		item := noteCardsResponse{NoteID: res.NoteID, Title: res.Title, Cards: res.Cards}
		if item.Cards == nil {
			item.Cards = []domain.Flashcard{}
		}
		if res.Err != nil {
			item.Error = domain.ErrorMessage(res.Err)
		}
		out = append(out, item)
	}
	h.JSON(w, http.StatusOK, map[string]any{"results": out})
}

// =============================================================================
// Quizzes
// =============================================================================

// GenerateQuiz asks the tutor for a quiz and stores it.
func (h *LearningHandler) GenerateQuiz(w http.ResponseWriter, r *http.Request) {
	const op = "LearningHandler.GenerateQuiz"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req domain.QuizParams
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	quiz, err := h.quizzes.Generate(r.Context(), p, req)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, toQuizResponse(quiz))
}

// GetQuiz returns a quiz without its answers.
func (h *LearningHandler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.actorAndID(w, r, "LearningHandler.GetQuiz")
	if !ok {
		return
	}
	quiz, err := h.quizzes.Get(r.Context(), p.ID, id)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, toQuizResponse(quiz))
}

type submitQuizRequest struct {
	Answers []int `json:"answers"`
}

// SubmitQuiz grades an attempt.
func (h *LearningHandler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	const op = "LearningHandler.SubmitQuiz"

	p, id, ok := h.actorAndID(w, r, op)
	if !ok {
		return
	}
	var req submitQuizRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	result, err := h.quizzes.Submit(r.Context(), p.ID, id, req.Answers)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, toQuizResultResponse(result))
}

// actorAndID resolves the acting profile and the {id} path value, writing
// the error response itself when either fails.
func (h *LearningHandler) actorAndID(w http.ResponseWriter, r *http.Request, op string) (*domain.Profile, uuid.UUID, bool) {
	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return nil, uuid.Nil, false
	}
	id, err := pathUUID(r, op, "id")
	if err != nil {
		h.Error(w, r, err)
		return nil, uuid.Nil, false
	}
	return p, id, true
}
