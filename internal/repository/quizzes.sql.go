package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const createQuiz = `-- name: CreateQuiz :one
INSERT INTO quizzes (profile_id, subject, topic, difficulty, questions)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, profile_id, subject, topic, difficulty, questions, created_at`

type CreateQuizParams struct {
	ProfileID  uuid.UUID       `json:"profile_id"`
	Subject    string          `json:"subject"`
	Topic      string          `json:"topic"`
	Difficulty string          `json:"difficulty"`
	Questions  json.RawMessage `json:"questions"`
}

func (q *Queries) CreateQuiz(ctx context.Context, arg CreateQuizParams) (Quiz, error) {
	row := q.db.QueryRowContext(ctx, createQuiz,
		arg.ProfileID,
		arg.Subject,
		arg.Topic,
		arg.Difficulty,
		arg.Questions,
	)
	var i Quiz
	err := row.Scan(
		&i.ID,
		&i.ProfileID,
		&i.Subject,
		&i.Topic,
		&i.Difficulty,
		&i.Questions,
		&i.CreatedAt,
	)
	return i, err
}

const getQuiz = `-- name: GetQuiz :one
SELECT id, profile_id, subject, topic, difficulty, questions, created_at
FROM quizzes WHERE id = $1 AND profile_id = $2`

type GetQuizParams struct {
	ID        uuid.UUID `json:"id"`
	ProfileID uuid.UUID `json:"profile_id"`
}

func (q *Queries) GetQuiz(ctx context.Context, arg GetQuizParams) (Quiz, error) {
	row := q.db.QueryRowContext(ctx, getQuiz, arg.ID, arg.ProfileID)
	var i Quiz
	err := row.Scan(
		&i.ID,
		&i.ProfileID,
		&i.Subject,
		&i.Topic,
		&i.Difficulty,
		&i.Questions,
		&i.CreatedAt,
	)
	return i, err
}

const createQuizResult = `-- name: CreateQuizResult :one
INSERT INTO quiz_results (quiz_id, profile_id, score, total, answers)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, quiz_id, profile_id, score, total, answers, created_at`

type CreateQuizResultParams struct {
	QuizID    uuid.UUID             `json:"quiz_id"`
	ProfileID uuid.UUID             `json:"profile_id"`
	Score     int32                 `json:"score"`
	Total     int32                 `json:"total"`
	Answers   pqtype.NullRawMessage `json:"answers"`
}

func (q *Queries) CreateQuizResult(ctx context.Context, arg CreateQuizResultParams) (QuizResult, error) {
	row := q.db.QueryRowContext(ctx, createQuizResult,
		arg.QuizID,
		arg.ProfileID,
		arg.Score,
		arg.Total,
		arg.Answers,
	)
	var i QuizResult
	err := row.Scan(
		&i.ID,
		&i.QuizID,
		&i.ProfileID,
		&i.Score,
		&i.Total,
		&i.Answers,
		&i.CreatedAt,
	)
	return i, err
}

const getQuizStatsByProfile = `-- name: GetQuizStatsByProfile :one
SELECT COUNT(*)::bigint AS result_count,
       COALESCE(AVG(CASE WHEN total > 0 THEN score::float8 * 100 / total END), 0)::float8 AS average_percent
FROM quiz_results WHERE profile_id = $1`

type GetQuizStatsByProfileRow struct {
	ResultCount    int64   `json:"result_count"`
	AveragePercent float64 `json:"average_percent"`
}

func (q *Queries) GetQuizStatsByProfile(ctx context.Context, profileID uuid.UUID) (GetQuizStatsByProfileRow, error) {
	row := q.db.QueryRowContext(ctx, getQuizStatsByProfile, profileID)
	var i GetQuizStatsByProfileRow
	err := row.Scan(&i.ResultCount, &i.AveragePercent)
	return i, err
}

const listRecentQuizResults = `-- name: ListRecentQuizResults :many
SELECT r.id, r.quiz_id, r.profile_id, r.score, r.total, r.answers, r.created_at, q.subject, q.topic
FROM quiz_results r
JOIN quizzes q ON q.id = r.quiz_id
WHERE r.profile_id = $1
ORDER BY r.created_at DESC
LIMIT $2`

type ListRecentQuizResultsParams struct {
	ProfileID uuid.UUID `json:"profile_id"`
	Limit     int32     `json:"limit"`
}

type ListRecentQuizResultsRow struct {
	QuizResult
	Subject string `json:"subject"`
	Topic   string `json:"topic"`
}

func (q *Queries) ListRecentQuizResults(ctx context.Context, arg ListRecentQuizResultsParams) ([]ListRecentQuizResultsRow, error) {
	rows, err := q.db.QueryContext(ctx, listRecentQuizResults, arg.ProfileID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListRecentQuizResultsRow
	for rows.Next() {
		var i ListRecentQuizResultsRow
		if err := rows.Scan(
			&i.ID,
			&i.QuizID,
			&i.ProfileID,
			&i.Score,
			&i.Total,
			&i.Answers,
			&i.CreatedAt,
			&i.Subject,
			&i.Topic,
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
