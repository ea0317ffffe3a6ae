// Package mediator implements write-through event mutations: every local
// create, update and delete is acknowledged by the upstream calendar before
// the replica row changes, so observers never see an unacked write.
package mediator

import (
	"context"
	"errors"
	"time"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/calendarapp/server/internal/store"
	"github.com/calendarapp/server/internal/token"
	"github.com/calendarapp/server/internal/upstream"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

// Mediator fronts the event replica for user-originated writes.
type Mediator struct {
	events store.EventStore
	tokens *token.Manager
	client upstream.Client
	exec   *upstream.Executor
}

// New wires a mediator.
func New(events store.EventStore, tokens *token.Manager, client upstream.Client, exec *upstream.Executor) *Mediator {
	return &Mediator{events: events, tokens: tokens, client: client, exec: exec}
}

// CreateEvent validates, pushes the event upstream, then persists the local
// row carrying the upstream id. Validation failures never reach the wire.
func (m *Mediator) CreateEvent(ctx context.Context, userID uuid.UUID, e *store.Event) (*store.Event, error) {
	e.UserID = userID
	if e.Status == "" {
		e.Status = store.StatusConfirmed
	}
	if e.Source == "" {
		e.Source = store.SourceManual
	}
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}
	if err := e.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid event", err)
	}
	if e.Title == "" {
		return nil, apperr.New(apperr.KindValidation, "title is required")
	}

	var acked *calendar.Event
	err := m.tokens.WithValid(ctx, userID, func(ctx context.Context, accessToken string) error {
		return m.exec.Do(ctx, "calendar.events.insert", func(ctx context.Context) error {
			var ierr error
			acked, ierr = m.client.InsertEvent(ctx, accessToken, toUpstream(e))
			return ierr
		})
	})
	if err != nil {
		return nil, err
	}

	e.GoogleEventID = acked.Id
	e.LastModified = updatedAt(acked)

	created, err := m.events.Create(ctx, e)
	if err != nil {
		// The upstream copy exists but the replica write failed; the next
		// sync run reconciles it.
		log.Ctx(ctx).Error().Err(err).Str("googleEventId", acked.Id).
			Msg("local create failed after upstream ack")
		return nil, apperr.Wrap(apperr.KindInternal, "persist event", err)
	}
	return created, nil
}

// UpdateEvent merges a sparse patch into the current row, pushes the full
// merged payload upstream, then applies the patch locally.
func (m *Mediator) UpdateEvent(ctx context.Context, userID, id uuid.UUID, p store.EventPatch) (*store.Event, error) {
	existing, err := m.events.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "event not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "load event", err)
	}

	merged := mergePatch(existing, p)
	if err := merged.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid event", err)
	}

	// Rows that never went upstream (local-only imports) update in place.
	if existing.GoogleEventID != "" {
		err = m.tokens.WithValid(ctx, userID, func(ctx context.Context, accessToken string) error {
			return m.exec.Do(ctx, "calendar.events.update", func(ctx context.Context) error {
				_, uerr := m.client.UpdateEvent(ctx, accessToken, existing.GoogleEventID, toUpstream(merged))
				return uerr
			})
		})
		if err != nil {
			return nil, err
		}
	}

	updated, err := m.events.Update(ctx, userID, id, p)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "persist update", err)
	}
	return updated, nil
}

// DeleteEvent removes the event upstream and then locally. An upstream copy
// already gone (404/410) is treated as deleted.
func (m *Mediator) DeleteEvent(ctx context.Context, userID, id uuid.UUID) error {
	existing, err := m.events.Get(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "event not found")
		}
		return apperr.Wrap(apperr.KindInternal, "load event", err)
	}

	if existing.GoogleEventID != "" {
		err = m.tokens.WithValid(ctx, userID, func(ctx context.Context, accessToken string) error {
			return m.exec.Do(ctx, "calendar.events.delete", func(ctx context.Context) error {
				derr := m.client.DeleteEvent(ctx, accessToken, existing.GoogleEventID)
				if isAlreadyGone(derr) {
					log.Ctx(ctx).Debug().Str("googleEventId", existing.GoogleEventID).
						Msg("upstream copy already deleted")
					return nil
				}
				return derr
			})
		})
		if err != nil {
			return err
		}
	}

	if err := m.events.Delete(ctx, userID, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.KindInternal, "persist delete", err)
	}
	return nil
}

// isAlreadyGone reports whether a delete failed only because the upstream
// copy no longer exists.
func isAlreadyGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 404 || gerr.Code == 410
	}
	return false
}

// toUpstream renders a replica row as an upstream event payload.
func toUpstream(e *store.Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
		Status:      string(e.Status),
	}

	if e.IsAllDay {
		out.Start = &calendar.EventDateTime{Date: e.StartTime.UTC().Format("2006-01-02")}
		out.End = &calendar.EventDateTime{Date: e.EndTime.UTC().Format("2006-01-02")}
	} else {
		out.Start = &calendar.EventDateTime{DateTime: e.StartTime.UTC().Format(time.RFC3339), TimeZone: e.Timezone}
		out.End = &calendar.EventDateTime{DateTime: e.EndTime.UTC().Format(time.RFC3339), TimeZone: e.Timezone}
	}

	for _, a := range e.Attendees {
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{
			Email:          a.Email,
			DisplayName:    a.DisplayName,
			Optional:       a.Optional,
			ResponseStatus: a.ResponseStatus,
		})
	}
	return out
}

// mergePatch applies a sparse patch to a copy of the row.
func mergePatch(e *store.Event, p store.EventPatch) *store.Event {
	out := *e
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.StartTime != nil {
		out.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		out.EndTime = *p.EndTime
	}
	if p.Location != nil {
		out.Location = *p.Location
	}
	if p.Attendees != nil {
		out.Attendees = *p.Attendees
	}
	if p.IsAllDay != nil {
		out.IsAllDay = *p.IsAllDay
	}
	if p.Timezone != nil {
		out.Timezone = *p.Timezone
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	return &out
}

func updatedAt(ev *calendar.Event) time.Time {
	if ev.Updated != "" {
		if ts, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
