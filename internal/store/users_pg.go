package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGUserStore is the Postgres UserStore.
type PGUserStore struct {
	pool *pgxpool.Pool
}

var _ UserStore = (*PGUserStore)(nil)

const userColumns = `id, google_id, email, name, picture_url,
	coalesce(access_token, ''), coalesce(refresh_token, ''),
	coalesce(token_expiry, 'epoch'::timestamptz), created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.GoogleID, &u.Email, &u.Name, &u.PictureURL,
		&u.AccessToken, &u.RefreshToken, &u.TokenExpiry, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &u, nil
}

func (s *PGUserStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PGUserStore) GetByGoogleID(ctx context.Context, googleID string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID))
}

// Upsert creates or refreshes a user keyed on google_id. Profile fields are
// always taken from the incoming row; credentials are left untouched here
// (SaveTokens owns those columns).
func (s *PGUserStore) Upsert(ctx context.Context, u *User) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (google_id, email, name, picture_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (google_id) DO UPDATE SET
			email       = EXCLUDED.email,
			name        = EXCLUDED.name,
			picture_url = EXCLUDED.picture_url,
			updated_at  = now()
		RETURNING `+userColumns,
		u.GoogleID, u.Email, u.Name, u.PictureURL))
}

// SaveTokens persists wrapped credentials. Placeholders are bound one
// column each, in order; an empty refresh token keeps the stored one.
func (s *PGUserStore) SaveTokens(ctx context.Context, id uuid.UUID, access, refresh string, expiry time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			access_token  = $2,
			refresh_token = CASE WHEN $3 = '' THEN refresh_token ELSE $3 END,
			token_expiry  = $4,
			updated_at    = now()
		WHERE id = $1`,
		id, access, refresh, expiry)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGUserStore) ClearTokens(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			access_token  = NULL,
			refresh_token = NULL,
			token_expiry  = NULL,
			updated_at    = now()
		WHERE id = $1`, id)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
