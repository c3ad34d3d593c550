package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const profileColumns = `id, auth_user_id, parent_id, email, display_name, role, grade_level, stripe_customer_id, avatar_key, created_at, updated_at`

func scanProfile(row interface{ Scan(...interface{}) error }) (Profile, error) {
	var i Profile
	err := row.Scan(
		&i.ID,
		&i.AuthUserID,
		&i.ParentID,
		&i.Email,
		&i.DisplayName,
		&i.Role,
		&i.GradeLevel,
		&i.StripeCustomerID,
		&i.AvatarKey,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createProfile = `-- name: CreateProfile :one
INSERT INTO profiles (auth_user_id, parent_id, email, display_name, role, grade_level)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + profileColumns

type CreateProfileParams struct {
	AuthUserID  sql.NullString `json:"auth_user_id"`
	ParentID    uuid.NullUUID  `json:"parent_id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name"`
	Role        string         `json:"role"`
	GradeLevel  sql.NullInt32  `json:"grade_level"`
}

func (q *Queries) CreateProfile(ctx context.Context, arg CreateProfileParams) (Profile, error) {
	row := q.db.QueryRowContext(ctx, createProfile,
		arg.AuthUserID,
		arg.ParentID,
		arg.Email,
		arg.DisplayName,
		arg.Role,
		arg.GradeLevel,
	)
	return scanProfile(row)
}

const getProfileByID = `-- name: GetProfileByID :one
SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

func (q *Queries) GetProfileByID(ctx context.Context, id uuid.UUID) (Profile, error) {
	return scanProfile(q.db.QueryRowContext(ctx, getProfileByID, id))
}

const getProfileByAuthUserID = `-- name: GetProfileByAuthUserID :one
SELECT ` + profileColumns + ` FROM profiles WHERE auth_user_id = $1`

func (q *Queries) GetProfileByAuthUserID(ctx context.Context, authUserID string) (Profile, error) {
	return scanProfile(q.db.QueryRowContext(ctx, getProfileByAuthUserID, authUserID))
}

const getProfileByEmail = `-- name: GetProfileByEmail :one
SELECT ` + profileColumns + ` FROM profiles
WHERE LOWER(email) = LOWER($1)
ORDER BY (role = 'parent') DESC, created_at ASC
LIMIT 1`

func (q *Queries) GetProfileByEmail(ctx context.Context, email string) (Profile, error) {
	return scanProfile(q.db.QueryRowContext(ctx, getProfileByEmail, email))
}

const getProfileByStripeCustomerID = `-- name: GetProfileByStripeCustomerID :one
SELECT ` + profileColumns + ` FROM profiles WHERE stripe_customer_id = $1`

func (q *Queries) GetProfileByStripeCustomerID(ctx context.Context, stripeCustomerID string) (Profile, error) {
	return scanProfile(q.db.QueryRowContext(ctx, getProfileByStripeCustomerID, stripeCustomerID))
}

const listStudentsByParent = `-- name: ListStudentsByParent :many
SELECT ` + profileColumns + ` FROM profiles
WHERE parent_id = $1
ORDER BY created_at ASC`

func (q *Queries) ListStudentsByParent(ctx context.Context, parentID uuid.UUID) ([]Profile, error) {
	rows, err := q.db.QueryContext(ctx, listStudentsByParent, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Profile
	for rows.Next() {
		i, err := scanProfile(rows)
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

const updateProfileStripeCustomer = `-- name: UpdateProfileStripeCustomer :exec
UPDATE profiles SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`

type UpdateProfileStripeCustomerParams struct {
	ID               uuid.UUID      `json:"id"`
	StripeCustomerID sql.NullString `json:"stripe_customer_id"`
}

func (q *Queries) UpdateProfileStripeCustomer(ctx context.Context, arg UpdateProfileStripeCustomerParams) error {
	_, err := q.db.ExecContext(ctx, updateProfileStripeCustomer, arg.ID, arg.StripeCustomerID)
	return err
}

const updateProfileAvatar = `-- name: UpdateProfileAvatar :exec
UPDATE profiles SET avatar_key = $2, updated_at = NOW() WHERE id = $1`

type UpdateProfileAvatarParams struct {
	ID        uuid.UUID      `json:"id"`
	AvatarKey sql.NullString `json:"avatar_key"`
}

func (q *Queries) UpdateProfileAvatar(ctx context.Context, arg UpdateProfileAvatarParams) error {
	_, err := q.db.ExecContext(ctx, updateProfileAvatar, arg.ID, arg.AvatarKey)
	return err
}

const updateProfileDetails = `-- name: UpdateProfileDetails :one
UPDATE profiles SET display_name = $2, grade_level = $3, updated_at = NOW()
WHERE id = $1
RETURNING ` + profileColumns

type UpdateProfileDetailsParams struct {
	ID          uuid.UUID     `json:"id"`
	DisplayName string        `json:"display_name"`
	GradeLevel  sql.NullInt32 `json:"grade_level"`
}

func (q *Queries) UpdateProfileDetails(ctx context.Context, arg UpdateProfileDetailsParams) (Profile, error) {
	return scanProfile(q.db.QueryRowContext(ctx, updateProfileDetails, arg.ID, arg.DisplayName, arg.GradeLevel))
}

const linkProfileAuthUser = `-- name: LinkProfileAuthUser :one
UPDATE profiles SET auth_user_id = $2, updated_at = NOW()
WHERE id = $1 AND auth_user_id IS NULL
RETURNING ` + profileColumns

type LinkProfileAuthUserParams struct {
	ID         uuid.UUID      `json:"id"`
	AuthUserID sql.NullString `json:"auth_user_id"`
}

// Claims an unlinked profile, typically a student the parent created,
// for an identity provider subject.
func (q *Queries) LinkProfileAuthUser(ctx context.Context, arg LinkProfileAuthUserParams) (Profile, error) {
	return scanProfile(q.db.QueryRowContext(ctx, linkProfileAuthUser, arg.ID, arg.AuthUserID))
}
