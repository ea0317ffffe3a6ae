// Package auth issues and verifies the session tokens that tie browser
// sessions to users, and provides the middleware guarding authenticated
// routes.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const ctxUserID ctxKey = "uid"

const (
	// CookieName is the session cookie carrying the JWT.
	CookieName = "auth_token"

	issuer   = "calendar-app"
	audience = "calendar-users"
)

// Claims is the session token payload.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Sessions mints and verifies session JWTs.
type Sessions struct {
	secret   []byte
	lifetime time.Duration
	secure   bool
}

// NewSessions builds a session issuer. secure controls the cookie's Secure
// attribute and should be true in production.
func NewSessions(secret string, lifetime time.Duration, secure bool) *Sessions {
	if lifetime <= 0 {
		lifetime = 7 * 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), lifetime: lifetime, secure: secure}
}

// Issue signs a session token for the user.
func (s *Sessions) Issue(userID uuid.UUID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID.String(),
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and validates a session token, returning the user id.
func (s *Sessions) Verify(tok string) (uuid.UUID, *Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return uuid.Nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !t.Valid {
		return uuid.Nil, nil, jwt.ErrTokenUnverifiable
	}

	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, nil, jwt.ErrTokenInvalidClaims
	}
	return uid, claims, nil
}

// SetCookie writes the session cookie on the response.
func (s *Sessions) SetCookie(w http.ResponseWriter, tok string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(s.lifetime.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware guards a route subtree. The token comes from the session
// cookie, or from a Bearer header for non-browser clients.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := ""
		if c, err := r.Cookie(CookieName); err == nil {
			tok = c.Value
		}
		if tok == "" {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				tok = strings.TrimPrefix(h, "Bearer ")
			}
		}
		if tok == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		uid, _, err := s.Verify(tok)
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("session token rejected")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID extracts the authenticated user id from a request context. The
// second return is false outside the middleware.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	uid, ok := ctx.Value(ctxUserID).(uuid.UUID)
	return uid, ok
}

// WithUserID stamps a user id onto a context. Used by the webhook path,
// where identity comes from the channel binding rather than a session.
func WithUserID(ctx context.Context, uid uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxUserID, uid)
}
