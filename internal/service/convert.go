package service

import (
	"encoding/json"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/repository"
)

// =============================================================================
// Repository -> domain conversions
// =============================================================================

func toDomainProfile(p repository.Profile) *domain.Profile {
	return &domain.Profile{
		ID:               p.ID,
		AuthUserID:       domain.NullStringValue(p.AuthUserID),
		ParentID:         domain.NullUUIDValue(p.ParentID),
		Email:            p.Email,
		DisplayName:      p.DisplayName,
		Role:             domain.Role(p.Role),
		GradeLevel:       domain.NullInt32Value(p.GradeLevel),
		StripeCustomerID: domain.NullStringValue(p.StripeCustomerID),
		AvatarKey:        domain.NullStringValue(p.AvatarKey),
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toDomainSubscription(s repository.Subscription) *domain.Subscription {
	return &domain.Subscription{
		ProfileID:      s.ProfileID,
		SubscriptionID: domain.NullStringValue(s.SubscriptionID),
		Status:         domain.SubscriptionStatus(s.Status),
		ExpiresAt:      domain.NullTimeValue(s.ExpiresAt),
		UpdatedAt:      s.UpdatedAt,
	}
}

func toDomainNote(n repository.Note) *domain.Note {
	cues := n.Cues
	if cues == nil {
		cues = []string{}
	}
	return &domain.Note{
		ID:        n.ID,
		ProfileID: n.ProfileID,
		Subject:   n.Subject,
		Title:     n.Title,
		Cues:      cues,
		Body:      n.Body,
		Summary:   domain.NullStringValue(n.Summary),
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func toDomainQuiz(q repository.Quiz) (*domain.Quiz, error) {
	var questions []domain.QuizQuestion
	if err := json.Unmarshal(q.Questions, &questions); err != nil {
		return nil, err
	}
	return &domain.Quiz{
		ID:         q.ID,
		ProfileID:  q.ProfileID,
		Subject:    q.Subject,
		Topic:      q.Topic,
		Difficulty: domain.Difficulty(q.Difficulty),
		Questions:  questions,
		CreatedAt:  q.CreatedAt,
	}, nil
}

func toDomainQuizResult(r repository.QuizResult) *domain.QuizResult {
	var answers []int
	if r.Answers.Valid {
		_ = json.Unmarshal(r.Answers.RawMessage, &answers)
	}
	return &domain.QuizResult{
		ID:        r.ID,
		QuizID:    r.QuizID,
		ProfileID: r.ProfileID,
		Score:     int(r.Score),
		Total:     int(r.Total),
		Answers:   answers,
		CreatedAt: r.CreatedAt,
	}
}

func toDomainConversation(c repository.Conversation) *domain.Conversation {
	return &domain.Conversation{
		ID:        c.ID,
		ProfileID: c.ProfileID,
		Subject:   c.Subject,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func toDomainMessage(m repository.ConversationMessage) domain.ConversationMessage {
	return domain.ConversationMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           domain.MessageRole(m.Role),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}
