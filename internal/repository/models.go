package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type AiSession struct {
	ID           uuid.UUID      `json:"id"`
	ProfileID    uuid.NullUUID  `json:"profile_id"`
	Flow         string         `json:"flow"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	InputTokens  int32          `json:"input_tokens"`
	OutputTokens int32          `json:"output_tokens"`
	DurationMs   int32          `json:"duration_ms"`
	CacheHit     bool           `json:"cache_hit"`
	Success      bool           `json:"success"`
	ErrorCode    sql.NullString `json:"error_code"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	ProfileID uuid.UUID `json:"profile_id"`
	Subject   string    `json:"subject"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConversationMessage struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type Job struct {
	ID           uuid.UUID       `json:"id"`
	JobType      string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	Priority     int32           `json:"priority"`
	Attempts     int32           `json:"attempts"`
	MaxAttempts  int32           `json:"max_attempts"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	StartedAt    sql.NullTime    `json:"started_at"`
	CompletedAt  sql.NullTime    `json:"completed_at"`
	ErrorMessage sql.NullString  `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
}

type MultiSubscription struct {
	SubscriptionID  string    `json:"subscription_id"`
	ParentProfileID uuid.UUID `json:"parent_profile_id"`
	StripeItemID    string    `json:"stripe_item_id"`
	QuantitySynced  int32     `json:"quantity_synced"`
	Version         int64     `json:"version"`
	SyncedVersion   int64     `json:"synced_version"`
	Canceled        bool      `json:"canceled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Note struct {
	ID        uuid.UUID      `json:"id"`
	ProfileID uuid.UUID      `json:"profile_id"`
	Subject   string         `json:"subject"`
	Title     string         `json:"title"`
	Cues      []string       `json:"cues"`
	Body      string         `json:"body"`
	Summary   sql.NullString `json:"summary"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type Profile struct {
	ID               uuid.UUID      `json:"id"`
	AuthUserID       sql.NullString `json:"auth_user_id"`
	ParentID         uuid.NullUUID  `json:"parent_id"`
	Email            string         `json:"email"`
	DisplayName      string         `json:"display_name"`
	Role             string         `json:"role"`
	GradeLevel       sql.NullInt32  `json:"grade_level"`
	StripeCustomerID sql.NullString `json:"stripe_customer_id"`
	AvatarKey        sql.NullString `json:"avatar_key"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type Quiz struct {
	ID         uuid.UUID       `json:"id"`
	ProfileID  uuid.UUID       `json:"profile_id"`
	Subject    string          `json:"subject"`
	Topic      string          `json:"topic"`
	Difficulty string          `json:"difficulty"`
	Questions  json.RawMessage `json:"questions"`
	CreatedAt  time.Time       `json:"created_at"`
}

type QuizResult struct {
	ID        uuid.UUID             `json:"id"`
	QuizID    uuid.UUID             `json:"quiz_id"`
	ProfileID uuid.UUID             `json:"profile_id"`
	Score     int32                 `json:"score"`
	Total     int32                 `json:"total"`
	Answers   pqtype.NullRawMessage `json:"answers"`
	CreatedAt time.Time             `json:"created_at"`
}

type Subscription struct {
	ProfileID      uuid.UUID      `json:"profile_id"`
	SubscriptionID sql.NullString `json:"subscription_id"`
	Status         string         `json:"status"`
	ExpiresAt      sql.NullTime   `json:"expires_at"`
	LastEventAt    sql.NullTime   `json:"last_event_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type SubscriptionRoster struct {
	SubscriptionID string    `json:"subscription_id"`
	ProfileID      uuid.UUID `json:"profile_id"`
	AddedAt        time.Time `json:"added_at"`
}

type WebhookEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}
