package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSyncCursorStore is the Postgres SyncCursorStore.
type PGSyncCursorStore struct {
	pool *pgxpool.Pool
}

var _ SyncCursorStore = (*PGSyncCursorStore)(nil)

const cursorColumns = `user_id, coalesce(next_sync_token, ''),
	coalesce(last_sync_at, 'epoch'::timestamptz), full_sync_completed,
	sync_in_progress, coalesce(last_error, ''), error_count, updated_at`

func scanCursor(row pgx.Row) (*SyncCursor, error) {
	var c SyncCursor
	err := row.Scan(&c.UserID, &c.NextSyncToken, &c.LastSyncAt, &c.FullSyncCompleted,
		&c.SyncInProgress, &c.LastError, &c.ErrorCount, &c.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &c, nil
}

func (s *PGSyncCursorStore) Get(ctx context.Context, userID uuid.UUID) (*SyncCursor, error) {
	return scanCursor(s.pool.QueryRow(ctx,
		`SELECT `+cursorColumns+` FROM sync_cursors WHERE user_id = $1`, userID))
}

// TryStart claims the per-user sync slot in a single statement. The WHERE
// guard on the conflict arm makes the false→true transition atomic: a
// concurrent claimer gets zero rows back.
func (s *PGSyncCursorStore) TryStart(ctx context.Context, userID uuid.UUID) (bool, error) {
	var claimed uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_cursors (user_id, sync_in_progress)
		VALUES ($1, true)
		ON CONFLICT (user_id) DO UPDATE SET
			sync_in_progress = true,
			updated_at       = now()
		WHERE sync_cursors.sync_in_progress = false
		RETURNING user_id`, userID).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, translateErr(err)
	}
	return true, nil
}

func (s *PGSyncCursorStore) FinishSuccess(ctx context.Context, userID uuid.UUID, nextToken string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_cursors SET
			next_sync_token     = $2,
			last_sync_at        = now(),
			full_sync_completed = true,
			sync_in_progress    = false,
			last_error          = '',
			error_count         = 0,
			updated_at          = now()
		WHERE user_id = $1`, userID, nextToken)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGSyncCursorStore) FinishFailure(ctx context.Context, userID uuid.UUID, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_cursors SET
			sync_in_progress = false,
			last_error       = $2,
			error_count      = error_count + 1,
			updated_at       = now()
		WHERE user_id = $1`, userID, message)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGSyncCursorStore) ResetStale(ctx context.Context, maxAge time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_cursors SET
			sync_in_progress = false,
			last_error       = 'sync reset by sweeper: exceeded max runtime',
			error_count      = error_count + 1,
			updated_at       = now()
		WHERE sync_in_progress = true AND updated_at < now() - $1::interval`,
		maxAge.String())
	if err != nil {
		return 0, translateErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGSyncCursorStore) ListEligible(ctx context.Context, maxErrors int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM sync_cursors
		WHERE full_sync_completed = true
		  AND sync_in_progress = false
		  AND error_count < $1
		ORDER BY last_sync_at ASC NULLS FIRST`, maxErrors)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, translateErr(err)
		}
		ids = append(ids, id)
	}
	return ids, translateErr(rows.Err())
}
