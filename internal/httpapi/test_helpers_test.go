package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/calendarapp/server/internal/auth"
	"github.com/calendarapp/server/internal/config"
	"github.com/calendarapp/server/internal/mediator"
	"github.com/calendarapp/server/internal/store"
	"github.com/calendarapp/server/internal/syncengine"
	"github.com/calendarapp/server/internal/token"
	"github.com/calendarapp/server/internal/upstream"
	"github.com/calendarapp/server/internal/upstream/upstreamtest"
	"github.com/calendarapp/server/internal/vault"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// testServer wires a full Server against the in-memory store and a fake
// upstream, plus a session cookie for an already-authenticated user.
type testServer struct {
	srv     *Server
	router  http.Handler
	mem     *store.Memory
	fake    *upstreamtest.Fake
	userID  uuid.UUID
	session string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Env:             "dev",
		FrontendURL:     "http://localhost:3000",
		WebhookURL:      "https://api.example.com/api/v1/calendar/webhook",
		CORSOrigins:     []string{"http://localhost:3000"},
		RateLimitWindow: time.Minute,
		RateLimitMax:    1000,
	}

	v, err := vault.New("test-secret")
	require.NoError(t, err)

	mem := store.NewMemory()
	fake := &upstreamtest.Fake{}
	exec := upstream.NewExecutor(upstream.Policy{MaxAttempts: 1})
	tokens := token.NewManager(v, mem.Users, fake, exec)
	sessions := auth.NewSessions("jwt-secret", time.Hour, false)

	u, err := mem.Users.Upsert(context.Background(), &store.User{
		GoogleID: "g-1",
		Email:    "u@example.com",
		Name:     "Test User",
	})
	require.NoError(t, err)
	require.NoError(t, tokens.Store(context.Background(), u.ID, &oauth2.Token{
		AccessToken:  "live",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(time.Hour),
	}))

	session, err := sessions.Issue(u.ID, u.Email)
	require.NoError(t, err)

	srv := &Server{
		Cfg:      cfg,
		Users:    mem.Users,
		Events:   mem.Events,
		Cursors:  mem.Cursors,
		States:   mem.States,
		Webhooks: mem.Webhooks,
		Sessions: sessions,
		Tokens:   tokens,
		Client:   fake,
		Exec:     exec,
		Engine:   syncengine.New(mem.Events, mem.Cursors, tokens, fake, exec),
		Mediator: mediator.New(mem.Events, tokens, fake, exec),
		Metrics:  exec.Metrics(),
	}

	return &testServer{
		srv:     srv,
		router:  srv.Routes(),
		mem:     mem,
		fake:    fake,
		userID:  u.ID,
		session: session,
	}
}

// do performs an authenticated request with an optional JSON body.
func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: ts.session})

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// doAnon performs an unauthenticated request.
func (ts *testServer) doAnon(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// decode unwraps the success envelope's data into dst.
func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success)
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
}
