// Package store defines the persistence model and the narrow interfaces the
// rest of the service depends on. Two implementations exist: Postgres (pgx)
// and in-memory (tests, local development without a database).
package store

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by both implementations.
var (
	ErrNotFound    = errors.New("store: not found")
	ErrConflict    = errors.New("store: unique constraint violation")
	ErrInvalidSpan = errors.New("store: event end before start")
)

// EventStatus is the lifecycle state of a calendar event.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// ValidStatus reports whether s is a known event status.
func ValidStatus(s EventStatus) bool {
	switch s {
	case StatusConfirmed, StatusTentative, StatusCancelled:
		return true
	}
	return false
}

// EventSource records where a local event row originated.
type EventSource string

const (
	SourceGoogle   EventSource = "google"
	SourceManual   EventSource = "manual"
	SourceImported EventSource = "imported"
)

// User is a principal with a linked Google account. Token columns hold
// vault-wrapped ciphertext, never plaintext.
type User struct {
	ID           uuid.UUID
	GoogleID     string
	Email        string
	Name         string
	PictureURL   string
	AccessToken  string // wrapped
	RefreshToken string // wrapped
	TokenExpiry  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Attendee is one invitee on an event.
type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"displayName,omitempty"`
	Optional       bool   `json:"optional,omitempty"`
	ResponseStatus string `json:"responseStatus,omitempty"`
}

// Event is a row of the local calendar replica.
type Event struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	GoogleEventID string // empty when the event has never been pushed upstream
	Title         string
	Description   string
	StartTime     time.Time
	EndTime       time.Time
	Location      string
	Attendees     []Attendee
	IsAllDay      bool
	Timezone      string
	Status        EventStatus
	Source        EventSource
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastModified  time.Time
}

// Validate enforces the row invariants shared by every write path.
func (e *Event) Validate() error {
	if e.EndTime.Before(e.StartTime) {
		return ErrInvalidSpan
	}
	if e.Status != "" && !ValidStatus(e.Status) {
		return errors.New("store: invalid event status")
	}
	for _, a := range e.Attendees {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			return errors.New("store: invalid attendee email: " + a.Email)
		}
	}
	return nil
}

// EventPatch is a sparse update; nil fields keep their current value.
type EventPatch struct {
	Title       *string
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
	Location    *string
	Attendees   *[]Attendee
	IsAllDay    *bool
	Timezone    *string
	Status      *EventStatus
}

// EventFilter selects and pages an event listing. Zero values mean
// "no constraint"; Normalize applies the documented defaults.
type EventFilter struct {
	Page      int
	Limit     int
	StartDate *time.Time
	EndDate   *time.Time
	Status    EventStatus
	Source    EventSource // empty or "all" means every source
	Search    string
}

// Normalize clamps paging to page>=1, limit in [1,100], default 50.
func (f *EventFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 50
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
}

// EventPage is one page of a filtered listing plus the unpaginated total.
type EventPage struct {
	Events  []Event
	Total   int
	Page    int
	Limit   int
	HasNext bool
}

// SyncCursor is the per-user incremental sync state.
type SyncCursor struct {
	UserID            uuid.UUID
	NextSyncToken     string
	LastSyncAt        time.Time
	FullSyncCompleted bool
	SyncInProgress    bool
	LastError         string
	ErrorCount        int
	UpdatedAt         time.Time
}

// OAuthState is a one-shot CSRF nonce for the authorization-code flow.
type OAuthState struct {
	State     string
	UserID    *uuid.UUID
	ExpiresAt time.Time
}

// WebhookSubscription binds a Google push channel to a user.
type WebhookSubscription struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ResourceID string
	ChannelID  string
	Token      string
	ResourceURI string
	ExpiresAt  time.Time
	Active     bool
	CreatedAt  time.Time
}

// UserStore persists principals and their wrapped credentials.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByGoogleID(ctx context.Context, googleID string) (*User, error)
	// Upsert creates the user keyed on GoogleID or refreshes profile fields
	// on conflict, returning the stored row.
	Upsert(ctx context.Context, u *User) (*User, error)
	// SaveTokens stores wrapped credentials. An empty refresh token keeps
	// the existing one (Google omits it on re-consent).
	SaveTokens(ctx context.Context, id uuid.UUID, access, refresh string, expiry time.Time) error
	ClearTokens(ctx context.Context, id uuid.UUID) error
}

// EventStore is the transactional facade over the local event replica.
// Every method scopes by user id; rows owned by other users are invisible.
type EventStore interface {
	List(ctx context.Context, userID uuid.UUID, f EventFilter) (*EventPage, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*Event, error)
	GetByGoogleID(ctx context.Context, userID uuid.UUID, googleID string) (*Event, error)
	Create(ctx context.Context, e *Event) (*Event, error)
	Update(ctx context.Context, userID, id uuid.UUID, p EventPatch) (*Event, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	// DeleteByGoogleID removes the row mirroring an upstream event; it
	// reports whether a row existed.
	DeleteByGoogleID(ctx context.Context, userID uuid.UUID, googleID string) (bool, error)
	// UpsertByGoogleID replaces all mutable fields on conflict against
	// (user_id, google_event_id) and reports whether a row was created.
	UpsertByGoogleID(ctx context.Context, e *Event) (id uuid.UUID, created bool, err error)
}

// SyncCursorStore owns per-user cursor state and the sync mutual exclusion.
type SyncCursorStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*SyncCursor, error)
	// TryStart atomically flips sync_in_progress false→true, creating the
	// row when absent. It reports false when a sync already holds the flag.
	TryStart(ctx context.Context, userID uuid.UUID) (bool, error)
	// FinishSuccess records the new sync token, marks full sync complete,
	// clears errors and releases the flag.
	FinishSuccess(ctx context.Context, userID uuid.UUID, nextToken string) error
	// FinishFailure releases the flag, bumps the consecutive error count
	// and records the message.
	FinishFailure(ctx context.Context, userID uuid.UUID, message string) error
	// ResetStale releases rows stuck in progress longer than maxAge.
	ResetStale(ctx context.Context, maxAge time.Duration) (int, error)
	// ListEligible returns users qualified for scheduled sync: full sync
	// completed, not running, fewer than maxErrors consecutive failures.
	ListEligible(ctx context.Context, maxErrors int) ([]uuid.UUID, error)
}

// OAuthStateStore persists one-shot CSRF nonces.
type OAuthStateStore interface {
	Create(ctx context.Context, s *OAuthState) error
	// Consume looks up and deletes the state in one step. Expired or
	// unknown states return ErrNotFound.
	Consume(ctx context.Context, state string) (*OAuthState, error)
	DeleteExpired(ctx context.Context) (int, error)
}

// WebhookStore persists push-channel bindings.
type WebhookStore interface {
	Create(ctx context.Context, w *WebhookSubscription) error
	// Resolve finds the active subscription matching the channel token and
	// resource id presented by an inbound notification.
	Resolve(ctx context.Context, token, resourceID string) (*WebhookSubscription, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]WebhookSubscription, error)
	Deactivate(ctx context.Context, channelID string) error
	DeactivateExpired(ctx context.Context) (int, error)
}
