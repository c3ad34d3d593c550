package handler

import (
	"context"
	"net/http"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/flows"
	"github.com/DukeRupert/besttutor/internal/service"
	"github.com/google/uuid"
)

// tutorFlows are the stateless tutor calls served without a service.
type tutorFlows interface {
	LearningPath(ctx context.Context, in flows.LearningPathInput) (*flows.LearningPath, error)
	Joke(ctx context.Context, profileID uuid.UUID, subject string, grade *int) (*flows.Joke, error)
}

// TutorHandler serves tutoring conversations, speech, learning paths and
// jokes.
type TutorHandler struct {
	profiles      service.ProfileService
	conversations service.ConversationService
	speech        service.SpeechService
	flows         tutorFlows
	*Responder
}

// NewTutorHandler creates a new TutorHandler.
func NewTutorHandler(
	profiles service.ProfileService,
	conversations service.ConversationService,
	speech service.SpeechService,
	f tutorFlows,
	rs *Responder,
) *TutorHandler {
	return &TutorHandler{
		profiles:      profiles,
		conversations: conversations,
		speech:        speech,
		flows:         f,
		Responder:     rs,
	}
}

// RegisterRoutes registers tutor routes. withQuota guards every AI call and
// requirePremium the premium-only ones.
func (h *TutorHandler) RegisterRoutes(mux *http.ServeMux, requireAuth, withQuota, requirePremium func(http.Handler) http.Handler) {
	mux.Handle("GET /api/conversations", requireAuth(http.HandlerFunc(h.ListConversations)))
	mux.Handle("POST /api/conversations", requireAuth(http.HandlerFunc(h.StartConversation)))
	mux.Handle("GET /api/conversations/{id}", requireAuth(http.HandlerFunc(h.GetConversation)))
	mux.Handle("POST /api/conversations/{id}/messages", requireAuth(withQuota(http.HandlerFunc(h.SendMessage))))
	mux.Handle("POST /api/tutor/speech", requireAuth(requirePremium(http.HandlerFunc(h.Speech))))
	mux.Handle("POST /api/learning-path", requireAuth(requirePremium(http.HandlerFunc(h.LearningPath))))
	mux.Handle("GET /api/joke", requireAuth(withQuota(http.HandlerFunc(h.Joke))))
}

// =============================================================================
// Conversations
// =============================================================================

// ListConversations returns the actor's most recently active conversations.
func (h *TutorHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	const op = "TutorHandler.ListConversations"

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

	convs, err := h.conversations.List(r.Context(), p.ID, limit)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c))
	}
	h.JSON(w, http.StatusOK, map[string]any{"conversations": out})
}

type startConversationRequest struct {
	Subject string `json:"subject"`
	Title   string `json:"title"`
}

// StartConversation opens a new conversation on a subject.
func (h *TutorHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	const op = "TutorHandler.StartConversation"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req startConversationRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	conv, err := h.conversations.Start(r.Context(), p.ID, req.Subject, req.Title)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, toConversationResponse(conv))
}

// GetConversation returns a conversation with its recent messages.
func (h *TutorHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	const op = "TutorHandler.GetConversation"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	id, err := pathUUID(r, op, "id")
	if err != nil {
		h.Error(w, r, err)
		return
	}

	conv, msgs, err := h.conversations.Get(r.Context(), p.ID, id)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"conversation": toConversationResponse(conv),
		"messages":     out,
	})
}

type sendMessageRequest struct {
	Message        string                `json:"message"`
	GradeLevel     *int                  `json:"grade_level"`
	Confidence     domain.Confidence     `json:"confidence"`
	ResponseLength domain.ResponseLength `json:"response_length"`
}

// SendMessage asks the tutor to answer the student's message.
func (h *TutorHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	const op = "TutorHandler.SendMessage"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	id, err := pathUUID(r, op, "id")
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	turn, err := h.conversations.Reply(r.Context(), p, id, req.Message, domain.TutorOptions{
		GradeLevel:     req.GradeLevel,
		Confidence:     req.Confidence,
		ResponseLength: req.ResponseLength,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}

	followUps := turn.FollowUpQuestions
	if followUps == nil {
		followUps = []string{}
	}
	h.JSON(w, http.StatusCreated, map[string]any{
		"student":             toMessageResponse(turn.Student),
		"tutor":               toMessageResponse(turn.Tutor),
		"follow_up_questions": followUps,
	})
}

// =============================================================================
// Speech, learning paths, jokes
// =============================================================================

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// Speech reads text aloud and returns a link to the stored audio.
func (h *TutorHandler) Speech(w http.ResponseWriter, r *http.Request) {
	const op = "TutorHandler.Speech"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req speechRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}

	clip, err := h.speech.Speak(r.Context(), p.ID, req.Text, req.Voice)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"url":          clip.URL,
		"content_type": clip.ContentType,
		"bytes":        clip.Bytes,
	})
}

type learningPathRequest struct {
	Subject        string `json:"subject"`
	Goal           string `json:"goal"`
	GradeLevel     *int   `json:"grade_level"`
	WeeksAvailable int    `json:"weeks_available"`
}

// LearningPath plans milestones toward the student's goal.
func (h *TutorHandler) LearningPath(w http.ResponseWriter, r *http.Request) {
	const op = "TutorHandler.LearningPath"

	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	var req learningPathRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.Error(w, r, err)
		return
	}
	if req.WeeksAvailable < 0 {
		h.Error(w, r, domain.NewValidationError(op, "weeks_available", "Must be a non-negative number"))
		return
	}
	grade := req.GradeLevel
	if grade == nil {
		grade = p.GradeLevel
	}

	path, err := h.flows.LearningPath(r.Context(), flows.LearningPathInput{
		ProfileID:      p.ID,
		Subject:        domain.NormalizeSubject(req.Subject),
		Goal:           req.Goal,
		GradeLevel:     grade,
		WeeksAvailable: req.WeeksAvailable,
	})
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{
		"title":         path.Title,
		"milestones":    path.Milestones,
		"total_minutes": path.TotalMinutes(),
	})
}

// Joke tells a short joke about ?subject=.
func (h *TutorHandler) Joke(w http.ResponseWriter, r *http.Request) {
	p, err := actor(r, h.profiles)
	if err != nil {
		h.Error(w, r, err)
		return
	}

	joke, err := h.flows.Joke(r.Context(), p.ID, domain.NormalizeSubject(r.URL.Query().Get("subject")), p.GradeLevel)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, joke)
}
