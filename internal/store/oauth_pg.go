package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGOAuthStateStore is the Postgres OAuthStateStore.
type PGOAuthStateStore struct {
	pool *pgxpool.Pool
}

var _ OAuthStateStore = (*PGOAuthStateStore)(nil)

func (s *PGOAuthStateStore) Create(ctx context.Context, st *OAuthState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_states (state, user_id, expires_at)
		VALUES ($1, $2, $3)`,
		st.State, st.UserID, st.ExpiresAt)
	return translateErr(err)
}

// Consume deletes and returns the state in one statement so a replayed
// callback cannot reuse it. Expired rows are treated as absent.
func (s *PGOAuthStateStore) Consume(ctx context.Context, state string) (*OAuthState, error) {
	var st OAuthState
	err := s.pool.QueryRow(ctx, `
		DELETE FROM oauth_states
		WHERE state = $1 AND expires_at > now()
		RETURNING state, user_id, expires_at`, state).
		Scan(&st.State, &st.UserID, &st.ExpiresAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &st, nil
}

func (s *PGOAuthStateStore) DeleteExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at <= now()`)
	if err != nil {
		return 0, translateErr(err)
	}
	return int(tag.RowsAffected()), nil
}
