package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGEventStore is the Postgres EventStore.
type PGEventStore struct {
	pool *pgxpool.Pool
}

var _ EventStore = (*PGEventStore)(nil)

const eventColumns = `id, user_id, coalesce(google_event_id, ''), title,
	coalesce(description, ''), start_time, end_time, coalesce(location, ''),
	attendees, is_all_day, coalesce(timezone, 'UTC'), status, source,
	created_at, updated_at, last_modified`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var attendeesRaw []byte
	err := row.Scan(&e.ID, &e.UserID, &e.GoogleEventID, &e.Title, &e.Description,
		&e.StartTime, &e.EndTime, &e.Location, &attendeesRaw, &e.IsAllDay,
		&e.Timezone, &e.Status, &e.Source, &e.CreatedAt, &e.UpdatedAt, &e.LastModified)
	if err != nil {
		return nil, translateErr(err)
	}
	e.Attendees = decodeAttendees(attendeesRaw)
	return &e, nil
}

// decodeAttendees tolerates absent or malformed serializations by treating
// them as an empty list.
func decodeAttendees(raw []byte) []Attendee {
	if len(raw) == 0 {
		return nil
	}
	var out []Attendee
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeAttendees(a []Attendee) []byte {
	if len(a) == 0 {
		return []byte("[]")
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return []byte("[]")
	}
	return raw
}

// buildFilter renders the filter into a WHERE fragment. Argument numbering
// starts after the user-id placeholder ($1).
func buildFilter(f EventFilter) (string, []any) {
	var clauses []string
	var args []any
	n := 2

	add := func(clause string, v any) {
		clauses = append(clauses, fmt.Sprintf(clause, n))
		args = append(args, v)
		n++
	}

	if f.StartDate != nil {
		add("start_time >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("start_time <= $%d", *f.EndDate)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Source != "" && f.Source != "all" {
		add("source = $%d", string(f.Source))
	}
	if f.Search != "" {
		add(`to_tsvector('english', title || ' ' || coalesce(description, '')) @@ plainto_tsquery('english', $%d)`, f.Search)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " AND " + strings.Join(clauses, " AND "), args
}

func (s *PGEventStore) List(ctx context.Context, userID uuid.UUID, f EventFilter) (*EventPage, error) {
	f.Normalize()

	where, args := buildFilter(f)
	args = append([]any{userID}, args...)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM events WHERE user_id = $1`+where, args...).Scan(&total); err != nil {
		return nil, translateErr(err)
	}

	offset := (f.Page - 1) * f.Limit
	query := fmt.Sprintf(
		`SELECT %s FROM events WHERE user_id = $1%s ORDER BY start_time ASC LIMIT %d OFFSET %d`,
		eventColumns, where, f.Limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	events := make([]Event, 0, f.Limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, translateErr(err)
	}

	return &EventPage{
		Events:  events,
		Total:   total,
		Page:    f.Page,
		Limit:   f.Limit,
		HasNext: offset+len(events) < total,
	}, nil
}

func (s *PGEventStore) Get(ctx context.Context, userID, id uuid.UUID) (*Event, error) {
	return scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE user_id = $1 AND id = $2`, userID, id))
}

func (s *PGEventStore) GetByGoogleID(ctx context.Context, userID uuid.UUID, googleID string) (*Event, error) {
	return scanEvent(s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE user_id = $1 AND google_event_id = $2`, userID, googleID))
}

func (s *PGEventStore) Create(ctx context.Context, e *Event) (*Event, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.Status == "" {
		e.Status = StatusConfirmed
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	if e.Timezone == "" {
		e.Timezone = "UTC"
	}

	return scanEvent(s.pool.QueryRow(ctx, `
		INSERT INTO events (user_id, google_event_id, title, description,
			start_time, end_time, location, attendees, is_all_day, timezone,
			status, source, last_modified)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		RETURNING `+eventColumns,
		e.UserID, e.GoogleEventID, e.Title, e.Description, e.StartTime, e.EndTime,
		e.Location, encodeAttendees(e.Attendees), e.IsAllDay, e.Timezone,
		string(e.Status), string(e.Source)))
}

func (s *PGEventStore) Update(ctx context.Context, userID, id uuid.UUID, p EventPatch) (*Event, error) {
	existing, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	merged := applyPatch(*existing, p)
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	return scanEvent(s.pool.QueryRow(ctx, `
		UPDATE events SET
			title = $3, description = $4, start_time = $5, end_time = $6,
			location = $7, attendees = $8, is_all_day = $9, timezone = $10,
			status = $11, updated_at = now(), last_modified = now()
		WHERE user_id = $1 AND id = $2
		RETURNING `+eventColumns,
		userID, id, merged.Title, merged.Description, merged.StartTime, merged.EndTime,
		merged.Location, encodeAttendees(merged.Attendees), merged.IsAllDay,
		merged.Timezone, string(merged.Status)))
}

// applyPatch merges a sparse patch over an existing row.
func applyPatch(e Event, p EventPatch) Event {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = *p.EndTime
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.Attendees != nil {
		e.Attendees = *p.Attendees
	}
	if p.IsAllDay != nil {
		e.IsAllDay = *p.IsAllDay
	}
	if p.Timezone != nil {
		e.Timezone = *p.Timezone
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	return e
}

func (s *PGEventStore) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGEventStore) DeleteByGoogleID(ctx context.Context, userID uuid.UUID, googleID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM events WHERE user_id = $1 AND google_event_id = $2`, userID, googleID)
	if err != nil {
		return false, translateErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PGEventStore) UpsertByGoogleID(ctx context.Context, e *Event) (uuid.UUID, bool, error) {
	if err := e.Validate(); err != nil {
		return uuid.Nil, false, err
	}

	lastMod := e.LastModified
	if lastMod.IsZero() {
		lastMod = time.Now().UTC()
	}

	var id uuid.UUID
	var created bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (user_id, google_event_id, title, description,
			start_time, end_time, location, attendees, is_all_day, timezone,
			status, source, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, google_event_id) DO UPDATE SET
			title         = EXCLUDED.title,
			description   = EXCLUDED.description,
			start_time    = EXCLUDED.start_time,
			end_time      = EXCLUDED.end_time,
			location      = EXCLUDED.location,
			attendees     = EXCLUDED.attendees,
			is_all_day    = EXCLUDED.is_all_day,
			timezone      = EXCLUDED.timezone,
			status        = EXCLUDED.status,
			updated_at    = now(),
			last_modified = EXCLUDED.last_modified
		RETURNING id, (xmax = 0)`,
		e.UserID, e.GoogleEventID, e.Title, e.Description, e.StartTime, e.EndTime,
		e.Location, encodeAttendees(e.Attendees), e.IsAllDay, e.Timezone,
		string(e.Status), string(SourceGoogle), lastMod).Scan(&id, &created)
	if err != nil {
		return uuid.Nil, false, translateErr(err)
	}
	return id, created, nil
}
