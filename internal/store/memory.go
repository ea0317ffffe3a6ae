package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory bundles in-memory implementations of every store interface. It
// mirrors the Postgres semantics closely enough for tests and for running
// the service without a database.
type Memory struct {
	Users    *MemUserStore
	Events   *MemEventStore
	Cursors  *MemSyncCursorStore
	States   *MemOAuthStateStore
	Webhooks *MemWebhookStore
}

// NewMemory builds an empty in-memory store set.
func NewMemory() *Memory {
	return &Memory{
		Users:    &MemUserStore{users: map[uuid.UUID]*User{}},
		Events:   &MemEventStore{events: map[uuid.UUID]*Event{}},
		Cursors:  &MemSyncCursorStore{cursors: map[uuid.UUID]*SyncCursor{}},
		States:   &MemOAuthStateStore{states: map[string]*OAuthState{}},
		Webhooks: &MemWebhookStore{subs: map[string]*WebhookSubscription{}},
	}
}

// MemUserStore is the in-memory UserStore.
type MemUserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

var _ UserStore = (*MemUserStore)(nil)

func copyUser(u *User) *User {
	c := *u
	return &c
}

func (s *MemUserStore) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemUserStore) GetByGoogleID(_ context.Context, googleID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.GoogleID == googleID {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemUserStore) Upsert(_ context.Context, in *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, u := range s.users {
		if u.GoogleID == in.GoogleID {
			u.Email = in.Email
			u.Name = in.Name
			u.PictureURL = in.PictureURL
			u.UpdatedAt = now
			return copyUser(u), nil
		}
	}

	for _, u := range s.users {
		if u.Email == in.Email {
			return nil, ErrConflict
		}
	}

	u := copyUser(in)
	u.ID = uuid.New()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return copyUser(u), nil
}

func (s *MemUserStore) SaveTokens(_ context.Context, id uuid.UUID, access, refresh string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.AccessToken = access
	if refresh != "" {
		u.RefreshToken = refresh
	}
	u.TokenExpiry = expiry
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemUserStore) ClearTokens(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.AccessToken = ""
	u.RefreshToken = ""
	u.TokenExpiry = time.Time{}
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// MemEventStore is the in-memory EventStore.
type MemEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*Event
}

var _ EventStore = (*MemEventStore)(nil)

func copyEvent(e *Event) *Event {
	c := *e
	c.Attendees = append([]Attendee(nil), e.Attendees...)
	return &c
}

func matchesFilter(e *Event, f EventFilter) bool {
	if f.StartDate != nil && e.StartTime.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.StartTime.After(*f.EndDate) {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Source != "" && f.Source != "all" && e.Source != f.Source {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(e.Title), q) &&
			!strings.Contains(strings.ToLower(e.Description), q) {
			return false
		}
	}
	return true
}

func (s *MemEventStore) List(_ context.Context, userID uuid.UUID, f EventFilter) (*EventPage, error) {
	f.Normalize()

	s.mu.RLock()
	var matched []*Event
	for _, e := range s.events {
		if e.UserID == userID && matchesFilter(e, f) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartTime.Before(matched[j].StartTime)
	})

	total := len(matched)
	offset := (f.Page - 1) * f.Limit
	events := make([]Event, 0, f.Limit)
	for i := offset; i < total && i < offset+f.Limit; i++ {
		events = append(events, *copyEvent(matched[i]))
	}

	return &EventPage{
		Events:  events,
		Total:   total,
		Page:    f.Page,
		Limit:   f.Limit,
		HasNext: offset+len(events) < total,
	}, nil
}

func (s *MemEventStore) Get(_ context.Context, userID, id uuid.UUID) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok || e.UserID != userID {
		return nil, ErrNotFound
	}
	return copyEvent(e), nil
}

func (s *MemEventStore) GetByGoogleID(_ context.Context, userID uuid.UUID, googleID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e := s.findByGoogleIDLocked(userID, googleID); e != nil {
		return copyEvent(e), nil
	}
	return nil, ErrNotFound
}

func (s *MemEventStore) findByGoogleIDLocked(userID uuid.UUID, googleID string) *Event {
	if googleID == "" {
		return nil
	}
	for _, e := range s.events {
		if e.UserID == userID && e.GoogleEventID == googleID {
			return e
		}
	}
	return nil
}

func (s *MemEventStore) Create(_ context.Context, in *Event) (*Event, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByGoogleIDLocked(in.UserID, in.GoogleEventID) != nil {
		return nil, ErrConflict
	}

	e := copyEvent(in)
	e.ID = uuid.New()
	if e.Status == "" {
		e.Status = StatusConfirmed
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.LastModified = now
	s.events[e.ID] = e
	return copyEvent(e), nil
}

func (s *MemEventStore) Update(_ context.Context, userID, id uuid.UUID, p EventPatch) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[id]
	if !ok || e.UserID != userID {
		return nil, ErrNotFound
	}

	merged := applyPatch(*e, p)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	merged.UpdatedAt = now
	merged.LastModified = now
	s.events[id] = &merged
	return copyEvent(&merged), nil
}

func (s *MemEventStore) Delete(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.UserID != userID {
		return ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *MemEventStore) DeleteByGoogleID(_ context.Context, userID uuid.UUID, googleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findByGoogleIDLocked(userID, googleID)
	if e == nil {
		return false, nil
	}
	delete(s.events, e.ID)
	return true, nil
}

func (s *MemEventStore) UpsertByGoogleID(_ context.Context, in *Event) (uuid.UUID, bool, error) {
	if err := in.Validate(); err != nil {
		return uuid.Nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	lastMod := in.LastModified
	if lastMod.IsZero() {
		lastMod = now
	}

	if existing := s.findByGoogleIDLocked(in.UserID, in.GoogleEventID); existing != nil {
		e := copyEvent(in)
		e.ID = existing.ID
		e.Source = SourceGoogle
		e.CreatedAt = existing.CreatedAt
		e.UpdatedAt = now
		e.LastModified = lastMod
		s.events[e.ID] = e
		return e.ID, false, nil
	}

	e := copyEvent(in)
	e.ID = uuid.New()
	e.Source = SourceGoogle
	if e.Status == "" {
		e.Status = StatusConfirmed
	}
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	e.LastModified = lastMod
	s.events[e.ID] = e
	return e.ID, true, nil
}

// MemSyncCursorStore is the in-memory SyncCursorStore.
type MemSyncCursorStore struct {
	mu      sync.Mutex
	cursors map[uuid.UUID]*SyncCursor
}

var _ SyncCursorStore = (*MemSyncCursorStore)(nil)

func (s *MemSyncCursorStore) Get(_ context.Context, userID uuid.UUID) (*SyncCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemSyncCursorStore) TryStart(_ context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cursors[userID]
	if !ok {
		s.cursors[userID] = &SyncCursor{
			UserID:         userID,
			SyncInProgress: true,
			UpdatedAt:      time.Now().UTC(),
		}
		return true, nil
	}
	if c.SyncInProgress {
		return false, nil
	}
	c.SyncInProgress = true
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemSyncCursorStore) FinishSuccess(_ context.Context, userID uuid.UUID, nextToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[userID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.NextSyncToken = nextToken
	c.LastSyncAt = now
	c.FullSyncCompleted = true
	c.SyncInProgress = false
	c.LastError = ""
	c.ErrorCount = 0
	c.UpdatedAt = now
	return nil
}

func (s *MemSyncCursorStore) FinishFailure(_ context.Context, userID uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[userID]
	if !ok {
		return ErrNotFound
	}
	c.SyncInProgress = false
	c.LastError = message
	c.ErrorCount++
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemSyncCursorStore) ResetStale(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-maxAge)
	n := 0
	for _, c := range s.cursors {
		if c.SyncInProgress && c.UpdatedAt.Before(cutoff) {
			c.SyncInProgress = false
			c.LastError = "sync reset by sweeper: exceeded max runtime"
			c.ErrorCount++
			c.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// AgeClaim backdates a cursor's UpdatedAt. Test hook for ResetStale.
func (s *MemSyncCursorStore) AgeClaim(userID uuid.UUID, age time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cursors[userID]; ok {
		c.UpdatedAt = time.Now().UTC().Add(-age)
	}
}

func (s *MemSyncCursorStore) ListEligible(_ context.Context, maxErrors int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for id, c := range s.cursors {
		if c.FullSyncCompleted && !c.SyncInProgress && c.ErrorCount < maxErrors {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// MemOAuthStateStore is the in-memory OAuthStateStore.
type MemOAuthStateStore struct {
	mu     sync.Mutex
	states map[string]*OAuthState
}

var _ OAuthStateStore = (*MemOAuthStateStore)(nil)

func (s *MemOAuthStateStore) Create(_ context.Context, st *OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[st.State]; exists {
		return ErrConflict
	}
	cp := *st
	s.states[st.State] = &cp
	return nil
}

func (s *MemOAuthStateStore) Consume(_ context.Context, state string) (*OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.states, state)
	if time.Now().UTC().After(st.ExpiresAt) {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemOAuthStateStore) DeleteExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for k, st := range s.states {
		if now.After(st.ExpiresAt) {
			delete(s.states, k)
			n++
		}
	}
	return n, nil
}

// MemWebhookStore is the in-memory WebhookStore, keyed by channel id.
type MemWebhookStore struct {
	mu   sync.Mutex
	subs map[string]*WebhookSubscription
}

var _ WebhookStore = (*MemWebhookStore)(nil)

func (s *MemWebhookStore) Create(_ context.Context, w *WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[w.ChannelID]; exists {
		return ErrConflict
	}
	w.ID = uuid.New()
	w.Active = true
	w.CreatedAt = time.Now().UTC()
	cp := *w
	s.subs[w.ChannelID] = &cp
	return nil
}

func (s *MemWebhookStore) Resolve(_ context.Context, token, resourceID string) (*WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, w := range s.subs {
		if w.Active && w.Token == token && w.ResourceID == resourceID && w.ExpiresAt.After(now) {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemWebhookStore) ListActiveByUser(_ context.Context, userID uuid.UUID) ([]WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WebhookSubscription
	for _, w := range s.subs {
		if w.Active && w.UserID == userID {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemWebhookStore) Deactivate(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.subs[channelID]
	if !ok {
		return ErrNotFound
	}
	w.Active = false
	return nil
}

func (s *MemWebhookStore) DeactivateExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, w := range s.subs {
		if w.Active && !w.ExpiresAt.After(now) {
			w.Active = false
			n++
		}
	}
	return n, nil
}
