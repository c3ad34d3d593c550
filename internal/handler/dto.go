package handler

import (
	"time"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Profiles and subscriptions
// =============================================================================

type profileResponse struct {
	ID          uuid.UUID   `json:"id"`
	Role        domain.Role `json:"role"`
	Email       string      `json:"email,omitempty"`
	DisplayName string      `json:"display_name"`
	GradeLevel  *int        `json:"grade_level,omitempty"`
	ParentID    *uuid.UUID  `json:"parent_id,omitempty"`
	AvatarURL   string      `json:"avatar_url,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func toProfileResponse(p *domain.Profile, avatarURL string) profileResponse {
	return profileResponse{
		ID:          p.ID,
		Role:        p.Role,
		Email:       p.Email,
		DisplayName: p.Name(),
		GradeLevel:  p.GradeLevel,
		ParentID:    p.ParentID,
		AvatarURL:   avatarURL,
		CreatedAt:   p.CreatedAt,
	}
}

type subscriptionResponse struct {
	Status         domain.SubscriptionStatus `json:"status"`
	Premium        bool                      `json:"premium"`
	SubscriptionID string                    `json:"subscription_id,omitempty"`
	ExpiresAt      *time.Time                `json:"expires_at,omitempty"`
}

func toSubscriptionResponse(s *domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		Status:         s.Status,
		Premium:        s.IsPremium(),
		SubscriptionID: s.SubscriptionID,
		ExpiresAt:      s.ExpiresAt,
	}
}

type quotaResponse struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
	Unlimited bool  `json:"unlimited"`
}

func toQuotaResponse(u *domain.QuotaUsage) *quotaResponse {
	if u == nil {
		return nil
	}
	return &quotaResponse{
		Used:      u.Used,
		Limit:     u.Limit,
		Remaining: u.Remaining(),
		Unlimited: u.IsUnlimited,
	}
}

type rosterResponse struct {
	SubscriptionID string      `json:"subscription_id"`
	ProfileIDs     []uuid.UUID `json:"profile_ids"`
	Seats          int         `json:"seats"`
	InSync         bool        `json:"in_sync"`
	Canceled       bool        `json:"canceled"`
}

func toRosterResponse(r *domain.Roster) rosterResponse {
	ids := r.ProfileIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return rosterResponse{
		SubscriptionID: r.SubscriptionID,
		ProfileIDs:     ids,
		Seats:          r.Size(),
		InSync:         r.InSync(),
		Canceled:       r.Canceled,
	}
}

// =============================================================================
// Notes and quizzes
// =============================================================================

type noteResponse struct {
	ID        uuid.UUID `json:"id"`
	ProfileID uuid.UUID `json:"profile_id"`
	Subject   string    `json:"subject"`
	Title     string    `json:"title"`
	Cues      []string  `json:"cues"`
	Body      string    `json:"body"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toNoteResponse(n *domain.Note) noteResponse {
	cues := n.Cues
	if cues == nil {
		cues = []string{}
	}
	return noteResponse{
		ID:        n.ID,
		ProfileID: n.ProfileID,
		Subject:   n.Subject,
		Title:     n.Title,
		Cues:      cues,
		Body:      n.Body,
		Summary:   n.Summary,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// questionResponse hides the answer until the quiz is submitted.
type questionResponse struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type quizResponse struct {
	ID         uuid.UUID          `json:"id"`
	Subject    string             `json:"subject"`
	Topic      string             `json:"topic"`
	Difficulty domain.Difficulty  `json:"difficulty"`
	Questions  []questionResponse `json:"questions"`
	CreatedAt  time.Time          `json:"created_at"`
}

func toQuizResponse(q *domain.Quiz) quizResponse {
	questions := make([]questionResponse, len(q.Questions))
	for i, qq := range q.Questions {
		questions[i] = questionResponse{Question: qq.Question, Options: qq.Options}
	}
	return quizResponse{
		ID:         q.ID,
		Subject:    q.Subject,
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
		Questions:  questions,
		CreatedAt:  q.CreatedAt,
	}
}

type quizResultResponse struct {
	ID        uuid.UUID `json:"id"`
	QuizID    uuid.UUID `json:"quiz_id"`
	Score     int       `json:"score"`
	Total     int       `json:"total"`
	Percent   float64   `json:"percent"`
	Answers   []int     `json:"answers"`
	CreatedAt time.Time `json:"created_at"`
}

func toQuizResultResponse(r *domain.QuizResult) quizResultResponse {
	return quizResultResponse{
		ID:        r.ID,
		QuizID:    r.QuizID,
		Score:     r.Score,
		Total:     r.Total,
		Percent:   r.Percent(),
		Answers:   r.Answers,
		CreatedAt: r.CreatedAt,
	}
}

// =============================================================================
// Conversations
// =============================================================================

type conversationResponse struct {
	ID        uuid.UUID `json:"id"`
	Subject   string    `json:"subject"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toConversationResponse(c *domain.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID,
		Subject:   c.Subject,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type messageResponse struct {
	ID        uuid.UUID          `json:"id"`
	Role      domain.MessageRole `json:"role"`
	Content   string             `json:"content"`
	CreatedAt time.Time          `json:"created_at"`
}

func toMessageResponse(m domain.ConversationMessage) messageResponse {
	return messageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// =============================================================================
// Dashboard
// =============================================================================

type studentStatsResponse struct {
	ProfileID         uuid.UUID                 `json:"profile_id"`
	Name              string                    `json:"name"`
	GradeLevel        *int                      `json:"grade_level,omitempty"`
	Status            domain.SubscriptionStatus `json:"status"`
	NoteCount         int64                     `json:"note_count"`
	QuizCount         int64                     `json:"quiz_count"`
	AverageScore      float64                   `json:"average_score"`
	AISessionCount    int64                     `json:"ai_session_count"`
	ConversationCount int64                     `json:"conversation_count"`
	LastActiveAt      *time.Time                `json:"last_active_at,omitempty"`
}

func toStudentStatsResponse(s domain.StudentStats) studentStatsResponse {
	return studentStatsResponse{
		ProfileID:         s.ProfileID,
		Name:              s.Name,
		GradeLevel:        s.GradeLevel,
		Status:            s.Status,
		NoteCount:         s.NoteCount,
		QuizCount:         s.QuizCount,
		AverageScore:      s.AverageScore,
		AISessionCount:    s.AISessionCount,
		ConversationCount: s.ConversationCount,
		LastActiveAt:      s.LastActiveAt,
	}
}
