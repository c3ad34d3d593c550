package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const noteColumns = `id, profile_id, subject, title, cues, body, summary, created_at, updated_at`

func scanNote(row interface{ Scan(...interface{}) error }) (Note, error) {
	var i Note
	err := row.Scan(
		&i.ID,
		&i.ProfileID,
		&i.Subject,
		&i.Title,
		pq.Array(&i.Cues),
		&i.Body,
		&i.Summary,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createNote = `-- name: CreateNote :one
INSERT INTO notes (profile_id, subject, title, cues, body, summary)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + noteColumns

type CreateNoteParams struct {
	ProfileID uuid.UUID      `json:"profile_id"`
	Subject   string         `json:"subject"`
	Title     string         `json:"title"`
	Cues      []string       `json:"cues"`
	Body      string         `json:"body"`
	Summary   sql.NullString `json:"summary"`
}

func (q *Queries) CreateNote(ctx context.Context, arg CreateNoteParams) (Note, error) {
	row := q.db.QueryRowContext(ctx, createNote,
		arg.ProfileID,
		arg.Subject,
		arg.Title,
		pq.Array(arg.Cues),
		arg.Body,
		arg.Summary,
	)
	return scanNote(row)
}

const getNote = `-- name: GetNote :one
SELECT ` + noteColumns + ` FROM notes WHERE id = $1 AND profile_id = $2`

type GetNoteParams struct {
	ID        uuid.UUID `json:"id"`
	ProfileID uuid.UUID `json:"profile_id"`
}

func (q *Queries) GetNote(ctx context.Context, arg GetNoteParams) (Note, error) {
	return scanNote(q.db.QueryRowContext(ctx, getNote, arg.ID, arg.ProfileID))
}

const listNotesByProfile = `-- name: ListNotesByProfile :many
SELECT ` + noteColumns + ` FROM notes
WHERE profile_id = $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3`

type ListNotesByProfileParams struct {
	ProfileID uuid.UUID `json:"profile_id"`
	Limit     int32     `json:"limit"`
	Offset    int32     `json:"offset"`
}

func (q *Queries) ListNotesByProfile(ctx context.Context, arg ListNotesByProfileParams) ([]Note, error) {
	rows, err := q.db.QueryContext(ctx, listNotesByProfile, arg.ProfileID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Note
	for rows.Next() {
		i, err := scanNote(rows)
		if err != nil {
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

const updateNote = `-- name: UpdateNote :one
UPDATE notes
SET subject = $3, title = $4, cues = $5, body = $6, summary = $7, updated_at = NOW()
WHERE id = $1 AND profile_id = $2
RETURNING ` + noteColumns

type UpdateNoteParams struct {
	ID        uuid.UUID      `json:"id"`
	ProfileID uuid.UUID      `json:"profile_id"`
	Subject   string         `json:"subject"`
	Title     string         `json:"title"`
	Cues      []string       `json:"cues"`
	Body      string         `json:"body"`
	Summary   sql.NullString `json:"summary"`
}

func (q *Queries) UpdateNote(ctx context.Context, arg UpdateNoteParams) (Note, error) {
	row := q.db.QueryRowContext(ctx, updateNote,
		arg.ID,
		arg.ProfileID,
		arg.Subject,
		arg.Title,
		pq.Array(arg.Cues),
		arg.Body,
		arg.Summary,
	)
	return scanNote(row)
}

const updateNoteSummary = `-- name: UpdateNoteSummary :one
UPDATE notes
SET summary = $3, cues = $4, updated_at = NOW()
WHERE id = $1 AND profile_id = $2
RETURNING ` + noteColumns

type UpdateNoteSummaryParams struct {
	ID        uuid.UUID      `json:"id"`
	ProfileID uuid.UUID      `json:"profile_id"`
	Summary   sql.NullString `json:"summary"`
	Cues      []string       `json:"cues"`
}

func (q *Queries) UpdateNoteSummary(ctx context.Context, arg UpdateNoteSummaryParams) (Note, error) {
	row := q.db.QueryRowContext(ctx, updateNoteSummary, arg.ID, arg.ProfileID, arg.Summary, pq.Array(arg.Cues))
	return scanNote(row)
}

const deleteNote = `-- name: DeleteNote :execrows
DELETE FROM notes WHERE id = $1 AND profile_id = $2`

type DeleteNoteParams struct {
	ID        uuid.UUID `json:"id"`
	ProfileID uuid.UUID `json:"profile_id"`
}

func (q *Queries) DeleteNote(ctx context.Context, arg DeleteNoteParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteNote, arg.ID, arg.ProfileID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const countNotesByProfile = `-- name: CountNotesByProfile :one
SELECT COUNT(*) FROM notes WHERE profile_id = $1`

func (q *Queries) CountNotesByProfile(ctx context.Context, profileID uuid.UUID) (int64, error) {
	row := q.db.QueryRowContext(ctx, countNotesByProfile, profileID)
	var count int64
	err := row.Scan(&count)
	return count, err
}
