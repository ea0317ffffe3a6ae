package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGWebhookStore is the Postgres WebhookStore.
type PGWebhookStore struct {
	pool *pgxpool.Pool
}

var _ WebhookStore = (*PGWebhookStore)(nil)

const webhookColumns = `id, user_id, resource_id, channel_id, token,
	coalesce(resource_uri, ''), expires_at, active, created_at`

func scanWebhook(row pgx.Row) (*WebhookSubscription, error) {
	var w WebhookSubscription
	err := row.Scan(&w.ID, &w.UserID, &w.ResourceID, &w.ChannelID, &w.Token,
		&w.ResourceURI, &w.ExpiresAt, &w.Active, &w.CreatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &w, nil
}

func (s *PGWebhookStore) Create(ctx context.Context, w *WebhookSubscription) error {
	return translateErr(s.pool.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions
			(user_id, resource_id, channel_id, token, resource_uri, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		RETURNING id, created_at`,
		w.UserID, w.ResourceID, w.ChannelID, w.Token, w.ResourceURI, w.ExpiresAt).
		Scan(&w.ID, &w.CreatedAt))
}

func (s *PGWebhookStore) Resolve(ctx context.Context, token, resourceID string) (*WebhookSubscription, error) {
	return scanWebhook(s.pool.QueryRow(ctx, `
		SELECT `+webhookColumns+` FROM webhook_subscriptions
		WHERE token = $1 AND resource_id = $2 AND active = true
		  AND expires_at > now()`, token, resourceID))
}

func (s *PGWebhookStore) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]WebhookSubscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+` FROM webhook_subscriptions
		WHERE user_id = $1 AND active = true
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var subs []WebhookSubscription
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *w)
	}
	return subs, translateErr(rows.Err())
}

func (s *PGWebhookStore) Deactivate(ctx context.Context, channelID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_subscriptions SET active = false
		WHERE channel_id = $1`, channelID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGWebhookStore) DeactivateExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_subscriptions SET active = false
		WHERE active = true AND expires_at <= now()`)
	if err != nil {
		return 0, translateErr(err)
	}
	return int(tag.RowsAffected()), nil
}
