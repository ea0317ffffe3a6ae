package upstream

import (
	"context"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
)

// Profile is the subset of the Google userinfo payload the service ingests.
type Profile struct {
	GoogleID   string
	Email      string
	Name       string
	PictureURL string
}

// ListOptions parameterizes one events.list page fetch. SyncToken and the
// time window are mutually exclusive on the Google side; callers set one.
type ListOptions struct {
	TimeMin    time.Time
	TimeMax    time.Time
	SyncToken  string
	PageToken  string
	MaxResults int64
}

// EventsPage is one page of an events.list walk.
type EventsPage struct {
	Items         []*calendar.Event
	NextPageToken string
	NextSyncToken string
}

// Client is the upstream calendar provider surface. The production
// implementation talks to Google; tests substitute a fake.
type Client interface {
	// OAuth flow.
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Revoke(ctx context.Context, token string) error
	Profile(ctx context.Context, tok *oauth2.Token) (*Profile, error)

	// Calendar data plane; accessToken is a live bearer token.
	ListEvents(ctx context.Context, accessToken string, opts ListOptions) (*EventsPage, error)
	InsertEvent(ctx context.Context, accessToken string, ev *calendar.Event) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, accessToken, eventID string, ev *calendar.Event) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, accessToken, eventID string) error

	// Push notification channels.
	Watch(ctx context.Context, accessToken string, ch *calendar.Channel) (*calendar.Channel, error)
	StopChannel(ctx context.Context, accessToken string, ch *calendar.Channel) error
}
