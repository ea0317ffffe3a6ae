// Package token owns the per-user OAuth2 credential lifecycle: storage
// through the vault, proactive refresh, and the validity guarantee every
// outbound upstream call relies on.
package token

import (
	"context"
	"errors"
	"time"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/calendarapp/server/internal/store"
	"github.com/calendarapp/server/internal/upstream"
	"github.com/calendarapp/server/internal/vault"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ExpiryBuffer is how close to expiry a token may get before EnsureValid
// refreshes it. A token returned by EnsureValid is usable for at least this
// long.
const ExpiryBuffer = 5 * time.Minute

// Manager mediates between stored (wrapped) credentials and live tokens.
type Manager struct {
	vault  *vault.Vault
	users  store.UserStore
	client upstream.Client
	exec   *upstream.Executor

	// refreshGroup collapses concurrent refreshes for the same user into a
	// single upstream call.
	refreshGroup singleflight.Group
}

// NewManager wires the token manager.
func NewManager(v *vault.Vault, users store.UserStore, client upstream.Client, exec *upstream.Executor) *Manager {
	return &Manager{vault: v, users: users, client: client, exec: exec}
}

// Store wraps and persists a token set for the user. A token without a
// refresh token keeps whatever refresh token is already stored.
func (m *Manager) Store(ctx context.Context, userID uuid.UUID, tok *oauth2.Token) error {
	wrappedAccess, err := m.vault.Wrap(tok.AccessToken)
	if err != nil {
		return err
	}

	wrappedRefresh := ""
	if tok.RefreshToken != "" {
		if wrappedRefresh, err = m.vault.Wrap(tok.RefreshToken); err != nil {
			return err
		}
	}

	if err := m.users.SaveTokens(ctx, userID, wrappedAccess, wrappedRefresh, tok.Expiry); err != nil {
		return apperr.Wrap(apperr.KindInternal, "persist tokens", err)
	}
	return nil
}

// Load reads and unwraps the stored token set. The second return is false
// when the user has no stored access token.
func (m *Manager) Load(ctx context.Context, userID uuid.UUID) (*oauth2.Token, bool, error) {
	u, err := m.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, apperr.Wrap(apperr.KindUnauthenticated, "unknown user", err)
		}
		return nil, false, apperr.Wrap(apperr.KindInternal, "load user", err)
	}
	if u.AccessToken == "" {
		return nil, false, nil
	}

	access, err := m.vault.Unwrap(u.AccessToken)
	if err != nil {
		return nil, false, err
	}

	tok := &oauth2.Token{AccessToken: access, Expiry: u.TokenExpiry, TokenType: "Bearer"}
	if u.RefreshToken != "" {
		if tok.RefreshToken, err = m.vault.Unwrap(u.RefreshToken); err != nil {
			return nil, false, err
		}
	}
	return tok, true, nil
}

// Refresh exchanges the stored refresh token for a fresh access token and
// persists the result. Concurrent refreshes for one user share a single
// upstream call; a refresh that raced a newer persisted token discards its
// own result.
func (m *Manager) Refresh(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	v, err, _ := m.refreshGroup.Do(userID.String(), func() (any, error) {
		return m.refresh(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

func (m *Manager) refresh(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	stored, ok, err := m.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok || stored.RefreshToken == "" {
		return nil, apperr.New(apperr.KindNoRefreshToken, "no refresh token on file")
	}

	var fresh *oauth2.Token
	err = m.exec.Do(ctx, "oauth.refresh", func(ctx context.Context) error {
		var rerr error
		fresh, rerr = m.client.Refresh(ctx, stored.RefreshToken)
		return rerr
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindUpstreamAuth) {
			log.Ctx(ctx).Warn().Str("userId", userID.String()).Msg("refresh token rejected upstream")
		}
		return nil, err
	}

	// Another writer may have landed a newer token while we were on the
	// wire (re-auth through the OAuth flow, for instance). Keep the newer
	// of the two.
	current, ok, err := m.Load(ctx, userID)
	if err == nil && ok && current.Expiry.After(fresh.Expiry) {
		log.Ctx(ctx).Debug().Str("userId", userID.String()).Msg("discarding stale refresh result")
		return current, nil
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = stored.RefreshToken
	}
	if err := m.Store(ctx, userID, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// EnsureValid returns an access token guaranteed usable for at least
// ExpiryBuffer from now, refreshing when necessary. This is the canonical
// pre-flight for every outbound upstream call.
func (m *Manager) EnsureValid(ctx context.Context, userID uuid.UUID) (string, error) {
	tok, ok, err := m.Load(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.KindUnauthenticated, "no stored credentials")
	}

	if time.Until(tok.Expiry) > ExpiryBuffer {
		return tok.AccessToken, nil
	}

	fresh, err := m.Refresh(ctx, userID)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// WithValid runs fn with a live access token. If the upstream still
// rejects the token (expiry raced the call), it forces one refresh and
// retries once; a second auth failure surfaces to the caller.
func (m *Manager) WithValid(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, accessToken string) error) error {
	access, err := m.EnsureValid(ctx, userID)
	if err != nil {
		return err
	}

	err = fn(ctx, access)
	if err == nil || !apperr.IsKind(err, apperr.KindUpstreamAuth) {
		return err
	}

	fresh, rerr := m.Refresh(ctx, userID)
	if rerr != nil {
		return err
	}
	return fn(ctx, fresh.AccessToken)
}

// Revoke best-effort revokes the grant upstream and unconditionally clears
// stored credentials.
func (m *Manager) Revoke(ctx context.Context, userID uuid.UUID) error {
	tok, ok, err := m.Load(ctx, userID)
	if err == nil && ok {
		revokeWith := tok.RefreshToken
		if revokeWith == "" {
			revokeWith = tok.AccessToken
		}
		if rerr := m.client.Revoke(ctx, revokeWith); rerr != nil {
			log.Ctx(ctx).Warn().Err(rerr).Str("userId", userID.String()).
				Msg("upstream token revocation failed; clearing local credentials anyway")
		}
	}

	if err := m.users.ClearTokens(ctx, userID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.KindInternal, "clear tokens", err)
	}
	return nil
}
