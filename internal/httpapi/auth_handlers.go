package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/calendarapp/server/internal/auth"
	"github.com/calendarapp/server/internal/store"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// stateLifetime bounds how long an authorization-code round trip may take.
const stateLifetime = 10 * time.Minute

// stateCookieName carries the CSRF state in the initiating browser so the
// callback can prove it belongs to the same session as the redirect.
const stateCookieName = "oauth_state"

type userView struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	PictureURL string `json:"pictureUrl,omitempty"`
}

func viewOf(u *store.User) userView {
	return userView{
		ID:         u.ID.String(),
		Email:      u.Email,
		Name:       u.Name,
		PictureURL: u.PictureURL,
	}
}

// handleAuthInitiate starts the authorization-code flow: mint a one-shot
// CSRF state, persist it, redirect to the consent screen.
func (s *Server) handleAuthInitiate(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to generate state")
		return
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	if err := s.States.Create(r.Context(), &store.OAuthState{
		State:     state,
		ExpiresAt: time.Now().Add(stateLifetime),
	}); err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to persist state")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/v1/auth/google/callback",
		MaxAge:   int(stateLifetime.Seconds()),
		HttpOnly: true,
		Secure:   s.Cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, s.Client.AuthCodeURL(state), http.StatusFound)
}

func clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/api/v1/auth/google/callback",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// handleAuthCallback consumes the authorization code: state check, code
// exchange, profile fetch, user upsert, credential storage, session cookie.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		log.Ctx(ctx).Warn().Str("error", errCode).Msg("consent denied")
		http.Redirect(w, r, s.Cfg.FrontendURL+"/?auth_error="+errCode, http.StatusFound)
		return
	}

	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		writeError(w, r, http.StatusBadRequest, "missing state or code")
		return
	}

	// The state must match the cookie set at initiation: a valid row minted
	// by a different browser does not get to bind this session.
	if c, err := r.Cookie(stateCookieName); err != nil || c.Value != state {
		log.Ctx(ctx).Warn().Msg("oauth state does not match initiating session")
		writeError(w, r, http.StatusBadRequest, "invalid oauth state")
		return
	}
	clearStateCookie(w)

	// Consume is one-shot: a replayed or expired state fails here.
	if _, err := s.States.Consume(ctx, state); err != nil {
		log.Ctx(ctx).Warn().Msg("unknown or expired oauth state")
		writeError(w, r, http.StatusBadRequest, "invalid oauth state")
		return
	}

	var tok *oauth2.Token
	err := s.Exec.Do(ctx, "oauth.exchange", func(ctx context.Context) error {
		var xerr error
		tok, xerr = s.Client.Exchange(ctx, code)
		return xerr
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	profile, err := s.Client.Profile(ctx, tok)
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	u, err := s.Users.Upsert(ctx, &store.User{
		GoogleID:   profile.GoogleID,
		Email:      profile.Email,
		Name:       profile.Name,
		PictureURL: profile.PictureURL,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to persist user")
		return
	}

	if err := s.Tokens.Store(ctx, u.ID, tok); err != nil {
		writeProblem(w, r, err)
		return
	}

	session, err := s.Sessions.Issue(u.ID, u.Email)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to issue session")
		return
	}
	s.Sessions.SetCookie(w, session)

	log.Ctx(ctx).Info().Str("userId", u.ID.String()).Msg("user authenticated")
	http.Redirect(w, r, s.Cfg.FrontendURL+"/?auth=success", http.StatusFound)
}

// handleAuthRefresh forces an upstream token refresh and rotates the
// session cookie.
func (s *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	if _, err := s.Tokens.Refresh(r.Context(), uid); err != nil {
		writeProblem(w, r, err)
		return
	}

	u, err := s.Users.GetByID(r.Context(), uid)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to load user")
		return
	}

	session, err := s.Sessions.Issue(u.ID, u.Email)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to issue session")
		return
	}
	s.Sessions.SetCookie(w, session)

	writeMessage(w, http.StatusOK, "tokens refreshed")
}

// handleLogout revokes upstream credentials best-effort and clears the
// session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	if err := s.Tokens.Revoke(r.Context(), uid); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("revoke during logout failed")
	}
	s.Sessions.ClearCookie(w)

	writeMessage(w, http.StatusOK, "logged out")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	u, err := s.Users.GetByID(r.Context(), uid)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	writeData(w, http.StatusOK, viewOf(u))
}

// handleAuthStatus reports session validity without requiring one.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	type statusResp struct {
		Authenticated bool      `json:"authenticated"`
		User          *userView `json:"user,omitempty"`
	}

	tok := ""
	if c, err := r.Cookie(auth.CookieName); err == nil {
		tok = c.Value
	}
	if tok == "" {
		writeData(w, http.StatusOK, statusResp{})
		return
	}

	uid, _, err := s.Sessions.Verify(tok)
	if err != nil {
		writeData(w, http.StatusOK, statusResp{})
		return
	}

	u, err := s.Users.GetByID(r.Context(), uid)
	if err != nil {
		writeData(w, http.StatusOK, statusResp{})
		return
	}

	v := viewOf(u)
	writeData(w, http.StatusOK, statusResp{Authenticated: true, User: &v})
}
