package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, m *Memory) *User {
	t.Helper()
	u, err := m.Users.Upsert(context.Background(), &User{
		GoogleID: "g-" + uuid.NewString(),
		Email:    uuid.NewString() + "@example.com",
		Name:     "Test User",
	})
	require.NoError(t, err)
	return u
}

func TestUserEmailIsUnique(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.Users.Upsert(ctx, &User{GoogleID: "g-1", Email: "same@example.com"})
	require.NoError(t, err)

	// A different upstream identity may not claim an existing email.
	_, err = m.Users.Upsert(ctx, &User{GoogleID: "g-2", Email: "same@example.com"})
	assert.ErrorIs(t, err, ErrConflict)

	// Same identity updating its own profile is fine.
	again, err := m.Users.Upsert(ctx, &User{GoogleID: "g-1", Email: "same@example.com", Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Renamed", again.Name)
}

func mkEvent(userID uuid.UUID, title string, start time.Time) *Event {
	return &Event{
		UserID:    userID,
		Title:     title,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
	}
}

func TestEventListFilteringAndPagination(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	u := seedUser(t, m)
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := m.Events.Create(ctx, mkEvent(u.ID, "standup", base.Add(time.Duration(i)*24*time.Hour)))
		require.NoError(t, err)
	}
	planning := mkEvent(u.ID, "quarterly planning", base.Add(10*24*time.Hour))
	planning.Status = StatusTentative
	_, err := m.Events.Create(ctx, planning)
	require.NoError(t, err)

	t.Run("ascending order and totals", func(t *testing.T) {
		page, err := m.Events.List(ctx, u.ID, EventFilter{Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, 6, page.Total)
		assert.Len(t, page.Events, 3)
		assert.True(t, page.HasNext)
		for i := 1; i < len(page.Events); i++ {
			assert.False(t, page.Events[i].StartTime.Before(page.Events[i-1].StartTime))
		}
	})

	t.Run("page past the end is empty with correct total", func(t *testing.T) {
		page, err := m.Events.List(ctx, u.ID, EventFilter{Page: 4, Limit: 50})
		require.NoError(t, err)
		assert.Empty(t, page.Events)
		assert.Equal(t, 6, page.Total)
		assert.False(t, page.HasNext)
	})

	t.Run("status filter", func(t *testing.T) {
		page, err := m.Events.List(ctx, u.ID, EventFilter{Status: StatusTentative})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("date window", func(t *testing.T) {
		from := base.Add(24 * time.Hour)
		to := base.Add(3 * 24 * time.Hour)
		page, err := m.Events.List(ctx, u.ID, EventFilter{StartDate: &from, EndDate: &to})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
	})

	t.Run("free text search", func(t *testing.T) {
		page, err := m.Events.List(ctx, u.ID, EventFilter{Search: "planning"})
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
		assert.Equal(t, "quarterly planning", page.Events[0].Title)
	})

	t.Run("limit clamped to 100", func(t *testing.T) {
		page, err := m.Events.List(ctx, u.ID, EventFilter{Limit: 5000})
		require.NoError(t, err)
		assert.Equal(t, 100, page.Limit)
	})
}

func TestEventOwnershipScoping(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	owner := seedUser(t, m)
	other := seedUser(t, m)

	e, err := m.Events.Create(ctx, mkEvent(owner.ID, "private", time.Now()))
	require.NoError(t, err)

	_, err = m.Events.Get(ctx, other.ID, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	err = m.Events.Delete(ctx, other.ID, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	page, err := m.Events.List(ctx, other.ID, EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestEventInvariants(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	u := seedUser(t, m)

	t.Run("end before start rejected", func(t *testing.T) {
		e := mkEvent(u.ID, "backwards", time.Now())
		e.EndTime = e.StartTime.Add(-time.Hour)
		_, err := m.Events.Create(ctx, e)
		assert.ErrorIs(t, err, ErrInvalidSpan)
	})

	t.Run("bad attendee email rejected", func(t *testing.T) {
		e := mkEvent(u.ID, "meeting", time.Now())
		e.Attendees = []Attendee{{Email: "not-an-email"}}
		_, err := m.Events.Create(ctx, e)
		assert.Error(t, err)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		e := mkEvent(u.ID, "meeting", time.Now())
		e.Status = "maybe"
		_, err := m.Events.Create(ctx, e)
		assert.Error(t, err)
	})
}

func TestUpsertByGoogleID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	u := seedUser(t, m)
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	ev := mkEvent(u.ID, "v1", start)
	ev.GoogleEventID = "goog-1"
	id1, created, err := m.Events.UpsertByGoogleID(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created)

	ev2 := mkEvent(u.ID, "v2", start.Add(time.Hour))
	ev2.GoogleEventID = "goog-1"
	id2, created, err := m.Events.UpsertByGoogleID(ctx, ev2)
	require.NoError(t, err)
	assert.False(t, created, "second upsert must replace, not create")
	assert.Equal(t, id1, id2)

	got, err := m.Events.GetByGoogleID(ctx, u.ID, "goog-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Title)
	assert.Equal(t, SourceGoogle, got.Source)

	page, err := m.Events.List(ctx, u.ID, EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestUpdateSparsePatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	u := seedUser(t, m)

	e, err := m.Events.Create(ctx, &Event{
		UserID:      u.ID,
		Title:       "original",
		Description: "keep me",
		StartTime:   time.Now(),
		EndTime:     time.Now().Add(time.Hour),
		Location:    "room 1",
	})
	require.NoError(t, err)

	newTitle := "renamed"
	got, err := m.Events.Update(ctx, u.ID, e.ID, EventPatch{Title: &newTitle})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, "keep me", got.Description)
	assert.Equal(t, "room 1", got.Location)
}

func TestSaveTokensBindsEachField(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	u := seedUser(t, m)
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, m.Users.SaveTokens(ctx, u.ID, "wrapped-access", "wrapped-refresh", expiry))

	got, err := m.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "wrapped-access", got.AccessToken)
	assert.Equal(t, "wrapped-refresh", got.RefreshToken)
	assert.Equal(t, expiry, got.TokenExpiry)

	// Empty refresh token keeps the stored one.
	require.NoError(t, m.Users.SaveTokens(ctx, u.ID, "wrapped-access-2", "", expiry))
	got, err = m.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "wrapped-access-2", got.AccessToken)
	assert.Equal(t, "wrapped-refresh", got.RefreshToken)
}

func TestSyncCursorClaim(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	ok, err := m.Cursors.TryStart(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Cursors.TryStart(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok, "second claim while running must fail")

	require.NoError(t, m.Cursors.FinishSuccess(ctx, userID, "nst-1"))

	c, err := m.Cursors.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "nst-1", c.NextSyncToken)
	assert.True(t, c.FullSyncCompleted)
	assert.False(t, c.SyncInProgress)
	assert.Zero(t, c.ErrorCount)

	ok, err = m.Cursors.TryStart(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok, "claim must succeed again after completion")

	require.NoError(t, m.Cursors.FinishFailure(ctx, userID, "upstream exploded"))
	c, err = m.Cursors.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ErrorCount)
	assert.Equal(t, "upstream exploded", c.LastError)
	assert.Equal(t, "nst-1", c.NextSyncToken, "failure must not clobber the cursor")
}

func TestSyncCursorConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Cursors.TryStart(ctx, userID)
			if err == nil && ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent claim may win")
}

func TestOAuthStateOneShot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	st := &OAuthState{State: "abc123", ExpiresAt: time.Now().Add(10 * time.Minute)}
	require.NoError(t, m.States.Create(ctx, st))

	got, err := m.States.Consume(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.State)

	_, err = m.States.Consume(ctx, "abc123")
	assert.ErrorIs(t, err, ErrNotFound, "state is one-shot")

	expired := &OAuthState{State: "old", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, m.States.Create(ctx, expired))
	_, err = m.States.Consume(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWebhookResolve(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	userID := uuid.New()

	sub := &WebhookSubscription{
		UserID:     userID,
		ResourceID: "res-1",
		ChannelID:  "chan-1",
		Token:      "verif-token",
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	require.NoError(t, m.Webhooks.Create(ctx, sub))

	got, err := m.Webhooks.Resolve(ctx, "verif-token", "res-1")
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)

	_, err = m.Webhooks.Resolve(ctx, "wrong-token", "res-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Webhooks.Deactivate(ctx, "chan-1"))
	_, err = m.Webhooks.Resolve(ctx, "verif-token", "res-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecodeAttendeesTolerant(t *testing.T) {
	assert.Nil(t, decodeAttendees(nil))
	assert.Nil(t, decodeAttendees([]byte("not json")))
	assert.Nil(t, decodeAttendees([]byte(`{"wrong":"shape"}`)))

	got := decodeAttendees([]byte(`[{"email":"a@example.com","responseStatus":"accepted"}]`))
	require.Len(t, got, 1)
	assert.Equal(t, "a@example.com", got[0].Email)
}
