// Package upstreamtest provides a configurable in-memory Client for tests.
package upstreamtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calendarapp/server/internal/upstream"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// Fake implements upstream.Client. Zero value behaves as a healthy upstream
// with no events; override the hook funcs to script failures.
type Fake struct {
	mu sync.Mutex

	// Hooks; nil hooks fall back to defaults.
	ExchangeFn    func(ctx context.Context, code string) (*oauth2.Token, error)
	RefreshFn     func(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	RevokeFn      func(ctx context.Context, token string) error
	ProfileFn     func(ctx context.Context, tok *oauth2.Token) (*upstream.Profile, error)
	ListFn        func(ctx context.Context, accessToken string, opts upstream.ListOptions) (*upstream.EventsPage, error)
	InsertFn      func(ctx context.Context, accessToken string, ev *calendar.Event) (*calendar.Event, error)
	UpdateFn      func(ctx context.Context, accessToken, id string, ev *calendar.Event) (*calendar.Event, error)
	DeleteFn      func(ctx context.Context, accessToken, id string) error
	WatchFn       func(ctx context.Context, accessToken string, ch *calendar.Channel) (*calendar.Channel, error)
	StopChannelFn func(ctx context.Context, accessToken string, ch *calendar.Channel) error

	// Call counters.
	RefreshCalls atomic.Int64
	ListCalls    atomic.Int64
	InsertCalls  atomic.Int64
	UpdateCalls  atomic.Int64
	DeleteCalls  atomic.Int64

	insertSeq int
}

var _ upstream.Client = (*Fake)(nil)

func (f *Fake) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + state
}

func (f *Fake) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if f.ExchangeFn != nil {
		return f.ExchangeFn(ctx, code)
	}
	return &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (f *Fake) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.RefreshCalls.Add(1)
	if f.RefreshFn != nil {
		return f.RefreshFn(ctx, refreshToken)
	}
	return &oauth2.Token{
		AccessToken: "refreshed-access",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func (f *Fake) Revoke(ctx context.Context, token string) error {
	if f.RevokeFn != nil {
		return f.RevokeFn(ctx, token)
	}
	return nil
}

func (f *Fake) Profile(ctx context.Context, tok *oauth2.Token) (*upstream.Profile, error) {
	if f.ProfileFn != nil {
		return f.ProfileFn(ctx, tok)
	}
	return &upstream.Profile{
		GoogleID:   "google-user-1",
		Email:      "user@example.com",
		Name:       "Example User",
		PictureURL: "https://example.com/pic.png",
	}, nil
}

func (f *Fake) ListEvents(ctx context.Context, accessToken string, opts upstream.ListOptions) (*upstream.EventsPage, error) {
	f.ListCalls.Add(1)
	if f.ListFn != nil {
		return f.ListFn(ctx, accessToken, opts)
	}
	return &upstream.EventsPage{NextSyncToken: "nst-empty"}, nil
}

func (f *Fake) InsertEvent(ctx context.Context, accessToken string, ev *calendar.Event) (*calendar.Event, error) {
	f.InsertCalls.Add(1)
	if f.InsertFn != nil {
		return f.InsertFn(ctx, accessToken, ev)
	}
	f.mu.Lock()
	f.insertSeq++
	id := fmt.Sprintf("goog-ev-%d", f.insertSeq)
	f.mu.Unlock()

	out := *ev
	out.Id = id
	return &out, nil
}

func (f *Fake) UpdateEvent(ctx context.Context, accessToken, id string, ev *calendar.Event) (*calendar.Event, error) {
	f.UpdateCalls.Add(1)
	if f.UpdateFn != nil {
		return f.UpdateFn(ctx, accessToken, id, ev)
	}
	out := *ev
	out.Id = id
	return &out, nil
}

func (f *Fake) DeleteEvent(ctx context.Context, accessToken, id string) error {
	f.DeleteCalls.Add(1)
	if f.DeleteFn != nil {
		return f.DeleteFn(ctx, accessToken, id)
	}
	return nil
}

func (f *Fake) Watch(ctx context.Context, accessToken string, ch *calendar.Channel) (*calendar.Channel, error) {
	if f.WatchFn != nil {
		return f.WatchFn(ctx, accessToken, ch)
	}
	out := *ch
	out.ResourceId = "resource-" + ch.Id
	out.Expiration = time.Now().Add(24*time.Hour).UnixMilli()
	return &out, nil
}

func (f *Fake) StopChannel(ctx context.Context, accessToken string, ch *calendar.Channel) error {
	if f.StopChannelFn != nil {
		return f.StopChannelFn(ctx, accessToken, ch)
	}
	return nil
}

// GoneErr is a 410 response, as returned for a stale sync token.
func GoneErr() *googleapi.Error {
	return &googleapi.Error{Code: 410, Message: "Sync token is no longer valid"}
}
