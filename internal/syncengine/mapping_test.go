package syncengine

import (
	"testing"
	"time"

	"github.com/calendarapp/server/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
)

func TestMapEventTimedEvent(t *testing.T) {
	uid := uuid.New()
	src := &calendar.Event{
		Id:          "ev-1",
		Summary:     "Standup",
		Description: "daily",
		Location:    "Room 4",
		Status:      "confirmed",
		Start:       &calendar.EventDateTime{DateTime: "2025-05-01T10:00:00+02:00", TimeZone: "Europe/Berlin"},
		End:         &calendar.EventDateTime{DateTime: "2025-05-01T10:30:00+02:00", TimeZone: "Europe/Berlin"},
		Updated:     "2025-05-01T09:00:00Z",
		Attendees: []*calendar.EventAttendee{
			{Email: "a@example.com", DisplayName: "A", ResponseStatus: "accepted"},
			{Email: ""}, // no email, dropped
			nil,
		},
	}

	e, err := mapEvent(uid, src)
	require.NoError(t, err)

	assert.Equal(t, uid, e.UserID)
	assert.Equal(t, "ev-1", e.GoogleEventID)
	assert.Equal(t, "Standup", e.Title)
	assert.Equal(t, store.SourceGoogle, e.Source)
	assert.False(t, e.IsAllDay)
	assert.Equal(t, "Europe/Berlin", e.Timezone)
	assert.Equal(t, time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC), e.StartTime, "stored in UTC")
	assert.Equal(t, time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC), e.LastModified)
	require.Len(t, e.Attendees, 1)
	assert.Equal(t, "a@example.com", e.Attendees[0].Email)
}

func TestMapEventAllDay(t *testing.T) {
	src := &calendar.Event{
		Id:     "ev-2",
		Status: "confirmed",
		Start:  &calendar.EventDateTime{Date: "2025-05-01"},
		End:    &calendar.EventDateTime{Date: "2025-05-02"},
	}

	e, err := mapEvent(uuid.New(), src)
	require.NoError(t, err)
	assert.True(t, e.IsAllDay)
	assert.Equal(t, "UTC", e.Timezone)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), e.StartTime)
}

func TestMapEventMissingEndFallsBackToStart(t *testing.T) {
	src := &calendar.Event{
		Id:     "ev-3",
		Status: "confirmed",
		Start:  &calendar.EventDateTime{DateTime: "2025-05-01T10:00:00Z"},
	}

	e, err := mapEvent(uuid.New(), src)
	require.NoError(t, err)
	assert.Equal(t, e.StartTime, e.EndTime)
}

func TestMapEventUnknownStatusDefaultsConfirmed(t *testing.T) {
	src := &calendar.Event{
		Id:     "ev-4",
		Status: "something-new",
		Start:  &calendar.EventDateTime{DateTime: "2025-05-01T10:00:00Z"},
	}

	e, err := mapEvent(uuid.New(), src)
	require.NoError(t, err)
	assert.Equal(t, store.StatusConfirmed, e.Status)
}

func TestMapEventRejectsGarbage(t *testing.T) {
	_, err := mapEvent(uuid.New(), &calendar.Event{Status: "confirmed"})
	assert.Error(t, err, "missing id")

	_, err = mapEvent(uuid.New(), &calendar.Event{
		Id:    "ev-5",
		Start: &calendar.EventDateTime{DateTime: "yesterday-ish"},
	})
	assert.Error(t, err, "unparseable start")
}
