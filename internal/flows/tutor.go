package flows

import (
	"context"
	"strings"

	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/google/uuid"
)

// maxHistory bounds how many previous messages are replayed to the model.
const maxHistory = 20

// TutorInput is one student turn in a conversation.
type TutorInput struct {
	ProfileID uuid.UUID
	Subject   string
	History   []domain.ConversationMessage // oldest first
	Message   string
	Options   domain.TutorOptions
}

// TutorReply is the tutor's answer.
type TutorReply struct {
	Reply             string   `json:"reply" validate:"required"`
	FollowUpQuestions []string `json:"follow_up_questions" validate:"max=5"`
}

// Tutor answers the student's message in the context of the conversation.
func (f *Flows) Tutor(ctx context.Context, in TutorInput) (*TutorReply, error) {
	const op = "Flows.Tutor"

	if strings.TrimSpace(in.Message) == "" {
		return nil, domain.Invalid(op, "Message is required")
	}

	history := in.History
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}

	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{
		Role:    ai.RoleSystem,
		Content: systemPrompt(contextFlags(in.Subject, in.Options)),
	})
	for _, m := range history {
		if m.Role == domain.MessageRoleSystem {
			continue
		}
		messages = append(messages, ai.Message{Role: ai.Role(m.Role), Content: m.Content})
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: in.Message})

	maxTokens := 600
	switch in.Options.ResponseLength {
	case domain.ResponseLengthBrief:
		maxTokens = 250
	case domain.ResponseLengthDetailed:
		maxTokens = 1500
	}

	profileID := in.ProfileID
	reply, err := generate[TutorReply](ctx, f, op, ai.Request{
		Flow:        "tutor",
		Messages:    messages,
		Schema:      tutorReplySchema,
		MaxTokens:   maxTokens,
		Temperature: 0.7,
		ProfileID:   &profileID,
	})
	if err != nil {
		return nil, err
	}
	return &reply, nil
}
