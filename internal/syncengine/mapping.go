package syncengine

import (
	"fmt"
	"time"

	"github.com/calendarapp/server/internal/store"
	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
)

// mapEvent coerces a raw upstream event into the local replica shape. All
// sanitization lives here; the rest of the engine never touches upstream
// fields directly.
func mapEvent(userID uuid.UUID, src *calendar.Event) (*store.Event, error) {
	if src.Id == "" {
		return nil, fmt.Errorf("upstream event without id")
	}

	start, allDay, tz, err := parseEventTime(src.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s: start: %w", src.Id, err)
	}
	end, _, _, err := parseEventTime(src.End)
	if err != nil {
		return nil, fmt.Errorf("event %s: end: %w", src.Id, err)
	}
	if end.IsZero() {
		// Google omits end on some zero-duration entries.
		end = start
	}

	status := store.EventStatus(src.Status)
	if !store.ValidStatus(status) {
		status = store.StatusConfirmed
	}

	e := &store.Event{
		UserID:        userID,
		GoogleEventID: src.Id,
		Title:         src.Summary,
		Description:   src.Description,
		StartTime:     start,
		EndTime:       end,
		Location:      src.Location,
		Attendees:     mapAttendees(src.Attendees),
		IsAllDay:      allDay,
		Timezone:      tz,
		Status:        status,
		Source:        store.SourceGoogle,
	}

	if src.Updated != "" {
		if ts, perr := time.Parse(time.RFC3339, src.Updated); perr == nil {
			e.LastModified = ts.UTC()
		}
	}

	return e, nil
}

// parseEventTime handles the date/dateTime split: an all-day event carries
// only a civil date.
func parseEventTime(edt *calendar.EventDateTime) (t time.Time, allDay bool, tz string, err error) {
	if edt == nil {
		return time.Time{}, false, "UTC", nil
	}

	tz = edt.TimeZone
	if tz == "" {
		tz = "UTC"
	}

	if edt.DateTime != "" {
		t, err = time.Parse(time.RFC3339, edt.DateTime)
		if err != nil {
			return time.Time{}, false, tz, err
		}
		return t.UTC(), false, tz, nil
	}

	if edt.Date != "" {
		t, err = time.Parse("2006-01-02", edt.Date)
		if err != nil {
			return time.Time{}, false, tz, err
		}
		return t.UTC(), true, tz, nil
	}

	return time.Time{}, false, tz, nil
}

func mapAttendees(src []*calendar.EventAttendee) []store.Attendee {
	if len(src) == 0 {
		return nil
	}
	out := make([]store.Attendee, 0, len(src))
	for _, a := range src {
		if a == nil || a.Email == "" {
			continue
		}
		out = append(out, store.Attendee{
			Email:          a.Email,
			DisplayName:    a.DisplayName,
			Optional:       a.Optional,
			ResponseStatus: a.ResponseStatus,
		})
	}
	return out
}
