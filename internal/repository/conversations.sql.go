package repository

import (
	"context"

	"github.com/google/uuid"
)

const createConversation = `-- name: CreateConversation :one
INSERT INTO conversations (profile_id, subject, title)
VALUES ($1, $2, $3)
RETURNING id, profile_id, subject, title, created_at, updated_at`

type CreateConversationParams struct {
	ProfileID uuid.UUID `json:"profile_id"`
	Subject   string    `json:"subject"`
	Title     string    `json:"title"`
}

func (q *Queries) CreateConversation(ctx context.Context, arg CreateConversationParams) (Conversation, error) {
	row := q.db.QueryRowContext(ctx, createConversation, arg.ProfileID, arg.Subject, arg.Title)
	var i Conversation
	err := row.Scan(
		&i.ID,
		&i.ProfileID,
		&i.Subject,
		&i.Title,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getConversation = `-- name: GetConversation :one
SELECT id, profile_id, subject, title, created_at, updated_at
FROM conversations WHERE id = $1 AND profile_id = $2`

type GetConversationParams struct {
	ID        uuid.UUID `json:"id"`
	ProfileID uuid.UUID `json:"profile_id"`
}

func (q *Queries) GetConversation(ctx context.Context, arg GetConversationParams) (Conversation, error) {
	row := q.db.QueryRowContext(ctx, getConversation, arg.ID, arg.ProfileID)
	var i Conversation
	err := row.Scan(
		&i.ID,
		&i.ProfileID,
		&i.Subject,
		&i.Title,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listConversationsByProfile = `-- name: ListConversationsByProfile :many
SELECT id, profile_id, subject, title, created_at, updated_at
FROM conversations
WHERE profile_id = $1
ORDER BY updated_at DESC
LIMIT $2`

type ListConversationsByProfileParams struct {
	ProfileID uuid.UUID `json:"profile_id"`
	Limit     int32     `json:"limit"`
}

func (q *Queries) ListConversationsByProfile(ctx context.Context, arg ListConversationsByProfileParams) ([]Conversation, error) {
	rows, err := q.db.QueryContext(ctx, listConversationsByProfile, arg.ProfileID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Conversation
	for rows.Next() {
		var i Conversation
		if err := rows.Scan(
			&i.ID,
			&i.ProfileID,
			&i.Subject,
			&i.Title,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const touchConversation = `-- name: TouchConversation :exec
UPDATE conversations SET updated_at = NOW() WHERE id = $1`

func (q *Queries) TouchConversation(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, touchConversation, id)
	return err
}

const countConversationsByProfile = `-- name: CountConversationsByProfile :one
SELECT COUNT(*) FROM conversations WHERE profile_id = $1`

func (q *Queries) CountConversationsByProfile(ctx context.Context, profileID uuid.UUID) (int64, error) {
	row := q.db.QueryRowContext(ctx, countConversationsByProfile, profileID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const createConversationMessage = `-- name: CreateConversationMessage :one
INSERT INTO conversation_messages (conversation_id, role, content)
VALUES ($1, $2, $3)
RETURNING id, conversation_id, role, content, created_at`

type CreateConversationMessageParams struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
}

func (q *Queries) CreateConversationMessage(ctx context.Context, arg CreateConversationMessageParams) (ConversationMessage, error) {
	row := q.db.QueryRowContext(ctx, createConversationMessage, arg.ConversationID, arg.Role, arg.Content)
	var i ConversationMessage
	err := row.Scan(
		&i.ID,
		&i.ConversationID,
		&i.Role,
		&i.Content,
		&i.CreatedAt,
	)
	return i, err
}

// Returns the most recent messages, oldest first.
const listConversationMessages = `-- name: ListConversationMessages :many
SELECT id, conversation_id, role, content, created_at FROM (
    SELECT id, conversation_id, role, content, created_at
    FROM conversation_messages
    WHERE conversation_id = $1
    ORDER BY created_at DESC
    LIMIT $2
) recent
ORDER BY created_at ASC`

type ListConversationMessagesParams struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Limit          int32     `json:"limit"`
}

func (q *Queries) ListConversationMessages(ctx context.Context, arg ListConversationMessagesParams) ([]ConversationMessage, error) {
	rows, err := q.db.QueryContext(ctx, listConversationMessages, arg.ConversationID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConversationMessage
	for rows.Next() {
		var i ConversationMessage
		if err := rows.Scan(
			&i.ID,
			&i.ConversationID,
			&i.Role,
			&i.Content,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
