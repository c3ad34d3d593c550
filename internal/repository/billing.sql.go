package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const getSubscriptionByProfile = `-- name: GetSubscriptionByProfile :one
SELECT profile_id, subscription_id, status, expires_at, last_event_at, updated_at
FROM subscriptions WHERE profile_id = $1`

func (q *Queries) GetSubscriptionByProfile(ctx context.Context, profileID uuid.UUID) (Subscription, error) {
	row := q.db.QueryRowContext(ctx, getSubscriptionByProfile, profileID)
	var i Subscription
	err := row.Scan(
		&i.ProfileID,
		&i.SubscriptionID,
		&i.Status,
		&i.ExpiresAt,
		&i.LastEventAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listSubscriptionsBySubscriptionID = `-- name: ListSubscriptionsBySubscriptionID :many
SELECT profile_id, subscription_id, status, expires_at, last_event_at, updated_at
FROM subscriptions WHERE subscription_id = $1
ORDER BY profile_id`

func (q *Queries) ListSubscriptionsBySubscriptionID(ctx context.Context, subscriptionID string) ([]Subscription, error) {
	rows, err := q.db.QueryContext(ctx, listSubscriptionsBySubscriptionID, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Subscription
	for rows.Next() {
		var i Subscription
		if err := rows.Scan(
			&i.ProfileID,
			&i.SubscriptionID,
			&i.Status,
			&i.ExpiresAt,
			&i.LastEventAt,
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

// The WHERE clause on the conflict branch drops writes carrying an older
// Stripe event time than the one already applied.
const upsertSubscription = `-- name: UpsertSubscription :execrows
INSERT INTO subscriptions (profile_id, subscription_id, status, expires_at, last_event_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (profile_id) DO UPDATE SET
    subscription_id = EXCLUDED.subscription_id,
    status = EXCLUDED.status,
    expires_at = EXCLUDED.expires_at,
    last_event_at = COALESCE(EXCLUDED.last_event_at, subscriptions.last_event_at),
    updated_at = NOW()
WHERE subscriptions.last_event_at IS NULL
   OR EXCLUDED.last_event_at IS NULL
   OR subscriptions.last_event_at <= EXCLUDED.last_event_at`

type UpsertSubscriptionParams struct {
	ProfileID      uuid.UUID      `json:"profile_id"`
	SubscriptionID sql.NullString `json:"subscription_id"`
	Status         string         `json:"status"`
	ExpiresAt      sql.NullTime   `json:"expires_at"`
	LastEventAt    sql.NullTime   `json:"last_event_at"`
}

func (q *Queries) UpsertSubscription(ctx context.Context, arg UpsertSubscriptionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, upsertSubscription,
		arg.ProfileID,
		arg.SubscriptionID,
		arg.Status,
		arg.ExpiresAt,
		arg.LastEventAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const getMultiSubscription = `-- name: GetMultiSubscription :one
SELECT subscription_id, parent_profile_id, stripe_item_id, quantity_synced, version, synced_version, canceled, created_at, updated_at
FROM multi_subscriptions WHERE subscription_id = $1`

func (q *Queries) GetMultiSubscription(ctx context.Context, subscriptionID string) (MultiSubscription, error) {
	row := q.db.QueryRowContext(ctx, getMultiSubscription, subscriptionID)
	var i MultiSubscription
	err := row.Scan(
		&i.SubscriptionID,
		&i.ParentProfileID,
		&i.StripeItemID,
		&i.QuantitySynced,
		&i.Version,
		&i.SyncedVersion,
		&i.Canceled,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertMultiSubscription = `-- name: UpsertMultiSubscription :exec
INSERT INTO multi_subscriptions (subscription_id, parent_profile_id, stripe_item_id, quantity_synced)
VALUES ($1, $2, $3, $4)
ON CONFLICT (subscription_id) DO UPDATE SET
    stripe_item_id = EXCLUDED.stripe_item_id,
    updated_at = NOW()`

type UpsertMultiSubscriptionParams struct {
	SubscriptionID  string    `json:"subscription_id"`
	ParentProfileID uuid.UUID `json:"parent_profile_id"`
	StripeItemID    string    `json:"stripe_item_id"`
	QuantitySynced  int32     `json:"quantity_synced"`
}

func (q *Queries) UpsertMultiSubscription(ctx context.Context, arg UpsertMultiSubscriptionParams) error {
	_, err := q.db.ExecContext(ctx, upsertMultiSubscription,
		arg.SubscriptionID,
		arg.ParentProfileID,
		arg.StripeItemID,
		arg.QuantitySynced,
	)
	return err
}

const listRosterProfileIDs = `-- name: ListRosterProfileIDs :many
SELECT profile_id FROM subscription_roster
WHERE subscription_id = $1
ORDER BY added_at ASC, profile_id ASC`

func (q *Queries) ListRosterProfileIDs(ctx context.Context, subscriptionID string) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listRosterProfileIDs, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []uuid.UUID
	for rows.Next() {
		var profileID uuid.UUID
		if err := rows.Scan(&profileID); err != nil {
			return nil, err
		}
		items = append(items, profileID)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const addRosterProfile = `-- name: AddRosterProfile :execrows
INSERT INTO subscription_roster (subscription_id, profile_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`

type RosterProfileParams struct {
	SubscriptionID string    `json:"subscription_id"`
	ProfileID      uuid.UUID `json:"profile_id"`
}

func (q *Queries) AddRosterProfile(ctx context.Context, arg RosterProfileParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, addRosterProfile, arg.SubscriptionID, arg.ProfileID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const removeRosterProfile = `-- name: RemoveRosterProfile :execrows
DELETE FROM subscription_roster WHERE subscription_id = $1 AND profile_id = $2`

func (q *Queries) RemoveRosterProfile(ctx context.Context, arg RosterProfileParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, removeRosterProfile, arg.SubscriptionID, arg.ProfileID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteRoster = `-- name: DeleteRoster :exec
DELETE FROM subscription_roster WHERE subscription_id = $1`

func (q *Queries) DeleteRoster(ctx context.Context, subscriptionID string) error {
	_, err := q.db.ExecContext(ctx, deleteRoster, subscriptionID)
	return err
}

const bumpRosterVersion = `-- name: BumpRosterVersion :execrows
UPDATE multi_subscriptions
SET version = version + 1, updated_at = NOW()
WHERE subscription_id = $1 AND version = $2`

type BumpRosterVersionParams struct {
	SubscriptionID string `json:"subscription_id"`
	Version        int64  `json:"version"`
}

func (q *Queries) BumpRosterVersion(ctx context.Context, arg BumpRosterVersionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, bumpRosterVersion, arg.SubscriptionID, arg.Version)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const updateQuantitySynced = `-- name: UpdateQuantitySynced :execrows
UPDATE multi_subscriptions
SET quantity_synced = $2, synced_version = $3, updated_at = NOW()
WHERE subscription_id = $1 AND version = $3`

type UpdateQuantitySyncedParams struct {
	SubscriptionID string `json:"subscription_id"`
	QuantitySynced int32  `json:"quantity_synced"`
	Version        int64  `json:"version"`
}

func (q *Queries) UpdateQuantitySynced(ctx context.Context, arg UpdateQuantitySyncedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateQuantitySynced, arg.SubscriptionID, arg.QuantitySynced, arg.Version)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const markMultiSubscriptionCanceled = `-- name: MarkMultiSubscriptionCanceled :exec
UPDATE multi_subscriptions SET canceled = TRUE, quantity_synced = 0, synced_version = version, updated_at = NOW()
WHERE subscription_id = $1`

func (q *Queries) MarkMultiSubscriptionCanceled(ctx context.Context, subscriptionID string) error {
	_, err := q.db.ExecContext(ctx, markMultiSubscriptionCanceled, subscriptionID)
	return err
}

const listUnsyncedMultiSubscriptions = `-- name: ListUnsyncedMultiSubscriptions :many
SELECT m.subscription_id, m.parent_profile_id, m.stripe_item_id, m.quantity_synced, m.version, m.synced_version, m.canceled, m.created_at, m.updated_at
FROM multi_subscriptions m
WHERE m.canceled = FALSE
  AND m.synced_version <> m.version
ORDER BY m.updated_at ASC`

func (q *Queries) ListUnsyncedMultiSubscriptions(ctx context.Context) ([]MultiSubscription, error) {
	rows, err := q.db.QueryContext(ctx, listUnsyncedMultiSubscriptions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MultiSubscription
	for rows.Next() {
		var i MultiSubscription
		if err := rows.Scan(
			&i.SubscriptionID,
			&i.ParentProfileID,
			&i.StripeItemID,
			&i.QuantitySynced,
			&i.Version,
			&i.SyncedVersion,
			&i.Canceled,
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

const recordWebhookEvent = `-- name: RecordWebhookEvent :execrows
INSERT INTO webhook_events (event_id, event_type)
VALUES ($1, $2)
ON CONFLICT (event_id) DO NOTHING`

type RecordWebhookEventParams struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

func (q *Queries) RecordWebhookEvent(ctx context.Context, arg RecordWebhookEventParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, recordWebhookEvent, arg.EventID, arg.EventType)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteWebhookEvent = `-- name: DeleteWebhookEvent :exec
DELETE FROM webhook_events WHERE event_id = $1`

func (q *Queries) DeleteWebhookEvent(ctx context.Context, eventID string) error {
	_, err := q.db.ExecContext(ctx, deleteWebhookEvent, eventID)
	return err
}
