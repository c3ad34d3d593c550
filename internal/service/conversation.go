package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/DukeRupert/besttutor/internal/domain"
	"github.com/DukeRupert/besttutor/internal/flows"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/google/uuid"
)

const (
	// MaxMessageLength bounds one student message in characters.
	MaxMessageLength = 4000

	// historyWindow is how many stored messages are loaded as tutor context.
	historyWindow = 40

	// DefaultConversationPage is used when a list request gives no limit.
	DefaultConversationPage = 20

	maxTitleLength = 120
)

// ConversationService persists tutoring chats and produces tutor replies.
type ConversationService interface {
	List(ctx context.Context, profileID uuid.UUID, limit int) ([]*domain.Conversation, error)
	Start(ctx context.Context, profileID uuid.UUID, subject, title string) (*domain.Conversation, error)

	// Get returns the conversation and its most recent messages, oldest first.
	Get(ctx context.Context, profileID, conversationID uuid.UUID) (*domain.Conversation, []domain.ConversationMessage, error)

	// Reply sends the student's message to the tutor. Both turns are stored
	// together once the tutor has answered.
	Reply(ctx context.Context, profile *domain.Profile, conversationID uuid.UUID, message string, opts domain.TutorOptions) (*TutorTurn, error)
}

// TutorTurn is one exchange in a conversation.
type TutorTurn struct {
	Student           domain.ConversationMessage
	Tutor             domain.ConversationMessage
	FollowUpQuestions []string
}

type conversationQueries interface {
	CreateConversation(ctx context.Context, arg repository.CreateConversationParams) (repository.Conversation, error)
	GetConversation(ctx context.Context, arg repository.GetConversationParams) (repository.Conversation, error)
	ListConversationsByProfile(ctx context.Context, arg repository.ListConversationsByProfileParams) ([]repository.Conversation, error)
	TouchConversation(ctx context.Context, id uuid.UUID) error
	CreateConversationMessage(ctx context.Context, arg repository.CreateConversationMessageParams) (repository.ConversationMessage, error)
	ListConversationMessages(ctx context.Context, arg repository.ListConversationMessagesParams) ([]repository.ConversationMessage, error)
}

type conversationStore interface {
	conversationQueries
	InTx(ctx context.Context, fn func(q conversationQueries) error) error
}

type repoConversationStore struct {
	*repository.Store
}

func (s repoConversationStore) InTx(ctx context.Context, fn func(q conversationQueries) error) error {
	return s.Store.InTx(ctx, func(q *repository.Queries) error {
		return fn(q)
	})
}

type conversationService struct {
	store  conversationStore
	flows  *flows.Flows
	logger *slog.Logger
}

var _ ConversationService = (*conversationService)(nil)

// NewConversationService creates a conversation service.
func NewConversationService(store *repository.Store, f *flows.Flows, logger *slog.Logger) ConversationService {
	return newConversationService(repoConversationStore{store}, f, logger)
}

func newConversationService(store conversationStore, f *flows.Flows, logger *slog.Logger) *conversationService {
	return &conversationService{
		store:  store,
		flows:  f,
		logger: logger.With("component", "conversation_service"),
	}
}

func (s *conversationService) List(ctx context.Context, profileID uuid.UUID, limit int) ([]*domain.Conversation, error) {
	const op = "ConversationService.List"

	if limit <= 0 || limit > MaxNotePageSize {
		limit = DefaultConversationPage
	}
	rows, err := s.store.ListConversationsByProfile(ctx, repository.ListConversationsByProfileParams{
		ProfileID: profileID,
		Limit:     int32(limit),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list conversations")
	}
	out := make([]*domain.Conversation, len(rows))
	for i, row := range rows {
		out[i] = toDomainConversation(row)
	}
	return out, nil
}

func (s *conversationService) Start(ctx context.Context, profileID uuid.UUID, subject, title string) (*domain.Conversation, error) {
	const op = "ConversationService.Start"

	subject = domain.NormalizeSubject(subject)
	if subject == "" {
		return nil, domain.NewValidationError(op, "subject", "This field is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = flows.SubjectTitle(subject) + " session"
	}
	title = truncateRunes(title, maxTitleLength)

	row, err := s.store.CreateConversation(ctx, repository.CreateConversationParams{
		ProfileID: profileID,
		Subject:   subject,
		Title:     title,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to start conversation")
	}
	return toDomainConversation(row), nil
}

func (s *conversationService) Get(ctx context.Context, profileID, conversationID uuid.UUID) (*domain.Conversation, []domain.ConversationMessage, error) {
	const op = "ConversationService.Get"

	conv, err := s.load(ctx, op, profileID, conversationID)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.history(ctx, conversationID)
	if err != nil {
		return nil, nil, domain.Internal(err, op, "failed to load messages")
	}
	return conv, messages, nil
}

func (s *conversationService) Reply(ctx context.Context, profile *domain.Profile, conversationID uuid.UUID, message string, opts domain.TutorOptions) (*TutorTurn, error) {
	const op = "ConversationService.Reply"

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, domain.NewValidationError(op, "message", "This field is required")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, domain.NewValidationError(op, "message", "Message is too long")
	}
	if opts.Confidence != "" && !opts.Confidence.IsValid() {
		return nil, domain.NewValidationError(op, "confidence", "Must be one of: low medium high")
	}
	if opts.ResponseLength != "" && !opts.ResponseLength.IsValid() {
		return nil, domain.NewValidationError(op, "response_length", "Must be one of: brief standard detailed")
	}
	if opts.GradeLevel == nil {
		opts.GradeLevel = profile.GradeLevel
	}

	conv, err := s.load(ctx, op, profile.ID, conversationID)
	if err != nil {
		return nil, err
	}
	history, err := s.history(ctx, conv.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load messages")
	}

	reply, err := s.flows.Tutor(ctx, flows.TutorInput{
		ProfileID: profile.ID,
		Subject:   conv.Subject,
		History:   history,
		Message:   message,
		Options:   opts,
	})
	if err != nil {
		return nil, err
	}

	turn := &TutorTurn{FollowUpQuestions: reply.FollowUpQuestions}
	err = s.store.InTx(ctx, func(q conversationQueries) error {
		student, err := q.CreateConversationMessage(ctx, repository.CreateConversationMessageParams{
			ConversationID: conv.ID,
			Role:           string(domain.MessageRoleUser),
			Content:        message,
		})
		if err != nil {
			return err
		}
		tutor, err := q.CreateConversationMessage(ctx, repository.CreateConversationMessageParams{
			ConversationID: conv.ID,
			Role:           string(domain.MessageRoleAssistant),
			Content:        reply.Reply,
		})
		if err != nil {
			return err
		}
		turn.Student = toDomainMessage(student)
		turn.Tutor = toDomainMessage(tutor)
		return q.TouchConversation(ctx, conv.ID)
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to save messages")
	}
	return turn, nil
}

func (s *conversationService) load(ctx context.Context, op string, profileID, conversationID uuid.UUID) (*domain.Conversation, error) {
	row, err := s.store.GetConversation(ctx, repository.GetConversationParams{ID: conversationID, ProfileID: profileID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "conversation", conversationID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load conversation")
	}
	return toDomainConversation(row), nil
}

func (s *conversationService) history(ctx context.Context, conversationID uuid.UUID) ([]domain.ConversationMessage, error) {
	rows, err := s.store.ListConversationMessages(ctx, repository.ListConversationMessagesParams{
		ConversationID: conversationID,
		Limit:          historyWindow,
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConversationMessage, len(rows))
	for i, row := range rows {
		out[i] = toDomainMessage(row)
	}
	return out, nil
}
