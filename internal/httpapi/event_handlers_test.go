package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/calendarapp/server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

func seedEvent(t *testing.T, ts *testServer, title string, start time.Time) *store.Event {
	t.Helper()
	e, err := ts.mem.Events.Create(context.Background(), &store.Event{
		UserID:        ts.userID,
		GoogleEventID: "goog-" + title,
		Title:         title,
		StartTime:     start,
		EndTime:       start.Add(time.Hour),
		Status:        store.StatusConfirmed,
		Source:        store.SourceGoogle,
		Timezone:      "UTC",
	})
	require.NoError(t, err)
	return e
}

func TestListEventsRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.doAnon(t, http.MethodGet, "/api/v1/calendar/events")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListEvents(t *testing.T) {
	ts := newTestServer(t)
	base := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	seedEvent(t, ts, "One", base)
	seedEvent(t, ts, "Two", base.Add(2*time.Hour))

	rec := ts.do(t, http.MethodGet, "/api/v1/calendar/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var page eventPageView
	decode(t, rec, &page)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Events, 2)
}

func TestListEventsRejectsBadStatus(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/calendar/events?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEvent(t *testing.T) {
	ts := newTestServer(t)
	e := seedEvent(t, ts, "Solo", time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodGet, "/api/v1/calendar/events/"+e.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got eventView
	decode(t, rec, &got)
	assert.Equal(t, "Solo", got.Title)

	rec = ts.do(t, http.MethodGet, "/api/v1/calendar/events/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/calendar/events/00000000-0000-0000-0000-000000000001", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEventWriteThrough(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/calendar/events", map[string]any{
		"title":     "Planning",
		"startTime": "2025-07-01T09:00:00Z",
		"endTime":   "2025-07-01T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var got eventView
	decode(t, rec, &got)
	assert.NotEmpty(t, got.GoogleEventID)
	assert.Equal(t, int64(1), ts.fake.InsertCalls.Load())
}

func TestCreateEventValidation(t *testing.T) {
	ts := newTestServer(t)

	// End before start: rejected locally, nothing hits the wire.
	rec := ts.do(t, http.MethodPost, "/api/v1/calendar/events", map[string]any{
		"title":     "Backwards",
		"startTime": "2025-07-01T10:00:00Z",
		"endTime":   "2025-07-01T09:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, ts.fake.InsertCalls.Load())

	rec = ts.do(t, http.MethodPost, "/api/v1/calendar/events", map[string]any{
		"title": "No times",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateEventUpstreamQuota(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.InsertFn = func(context.Context, string, *calendar.Event) (*calendar.Event, error) {
		return nil, &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/calendar/events", map[string]any{
		"title":     "Doomed",
		"startTime": "2025-07-01T09:00:00Z",
		"endTime":   "2025-07-01T10:00:00Z",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestUpdateEventSparse(t *testing.T) {
	ts := newTestServer(t)
	e := seedEvent(t, ts, "Before", time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodPut, "/api/v1/calendar/events/"+e.ID.String(), map[string]any{
		"title": "After",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var got eventView
	decode(t, rec, &got)
	assert.Equal(t, "After", got.Title)
	assert.Equal(t, e.StartTime, got.StartTime, "unpatched fields survive")
	assert.Equal(t, int64(1), ts.fake.UpdateCalls.Load())
}

func TestDeleteEvent(t *testing.T) {
	ts := newTestServer(t)
	e := seedEvent(t, ts, "Gone", time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodDelete, "/api/v1/calendar/events/"+e.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), ts.fake.DeleteCalls.Load())

	_, err := ts.mem.Events.Get(context.Background(), ts.userID, e.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventRanges(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().UTC()
	seedEvent(t, ts, "Today", now)
	seedEvent(t, ts, "Far future", now.AddDate(0, 2, 0))

	rec := ts.do(t, http.MethodGet, "/api/v1/calendar/events/range/today", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page eventPageView
	decode(t, rec, &page)
	assert.Equal(t, 1, page.Total)

	rec = ts.do(t, http.MethodGet, "/api/v1/calendar/events/range/month", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/calendar/events/range/decade", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet,
		"/api/v1/calendar/events/range/custom?start=2020-01-01&end=2030-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	assert.Equal(t, 2, page.Total)

	rec = ts.do(t, http.MethodGet, "/api/v1/calendar/events/range/custom?start=2030-01-01&end=2020-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t)
	seedEvent(t, ts, "Quarterly review", time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))
	seedEvent(t, ts, "Dentist", time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC))

	rec := ts.do(t, http.MethodGet, "/api/v1/calendar/search?q=quarterly", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page eventPageView
	decode(t, rec, &page)
	assert.Equal(t, 1, page.Total)

	rec = ts.do(t, http.MethodGet, "/api/v1/calendar/search?q=q", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "query shorter than 2 chars")
}

func TestOwnershipScoping(t *testing.T) {
	ts := newTestServer(t)

	other, err := ts.mem.Users.Upsert(context.Background(), &store.User{GoogleID: "g-2", Email: "o@example.com"})
	require.NoError(t, err)
	foreign, err := ts.mem.Events.Create(context.Background(), &store.Event{
		UserID:    other.ID,
		Title:     "Not yours",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(time.Hour),
		Status:    store.StatusConfirmed,
		Source:    store.SourceManual,
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/v1/calendar/events/"+foreign.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "foreign rows are invisible, not forbidden")
}
