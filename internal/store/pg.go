package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG bundles the Postgres-backed implementations of every store interface
// over one shared pool.
type PG struct {
	Users    *PGUserStore
	Events   *PGEventStore
	Cursors  *PGSyncCursorStore
	States   *PGOAuthStateStore
	Webhooks *PGWebhookStore
}

// NewPG wires all Postgres stores onto the given pool.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{
		Users:    &PGUserStore{pool: pool},
		Events:   &PGEventStore{pool: pool},
		Cursors:  &PGSyncCursorStore{pool: pool},
		States:   &PGOAuthStateStore{pool: pool},
		Webhooks: &PGWebhookStore{pool: pool},
	}
}

// translateErr maps pgx errors onto the store sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
