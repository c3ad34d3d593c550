package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const createAISession = `-- name: CreateAISession :exec
INSERT INTO ai_sessions (profile_id, flow, provider, model, input_tokens, output_tokens, duration_ms, cache_hit, success, error_code)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

type CreateAISessionParams struct {
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
}

func (q *Queries) CreateAISession(ctx context.Context, arg CreateAISessionParams) error {
	_, err := q.db.ExecContext(ctx, createAISession,
		arg.ProfileID,
		arg.Flow,
		arg.Provider,
		arg.Model,
		arg.InputTokens,
		arg.OutputTokens,
		arg.DurationMs,
		arg.CacheHit,
		arg.Success,
		arg.ErrorCode,
	)
	return err
}

const countAISessionsSince = `-- name: CountAISessionsSince :one
SELECT COUNT(*) FROM ai_sessions
WHERE profile_id = $1 AND created_at >= $2 AND cache_hit = FALSE AND success = TRUE`

type CountAISessionsSinceParams struct {
	ProfileID uuid.NullUUID `json:"profile_id"`
	Since     time.Time     `json:"since"`
}

func (q *Queries) CountAISessionsSince(ctx context.Context, arg CountAISessionsSinceParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, countAISessionsSince, arg.ProfileID, arg.Since)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const getAISessionStatsByProfile = `-- name: GetAISessionStatsByProfile :one
SELECT COUNT(*)::bigint AS session_count, MAX(created_at) AS last_session_at
FROM ai_sessions WHERE profile_id = $1`

type GetAISessionStatsByProfileRow struct {
	SessionCount  int64        `json:"session_count"`
	LastSessionAt sql.NullTime `json:"last_session_at"`
}

func (q *Queries) GetAISessionStatsByProfile(ctx context.Context, profileID uuid.NullUUID) (GetAISessionStatsByProfileRow, error) {
	row := q.db.QueryRowContext(ctx, getAISessionStatsByProfile, profileID)
	var i GetAISessionStatsByProfileRow
	err := row.Scan(&i.SessionCount, &i.LastSessionAt)
	return i, err
}
