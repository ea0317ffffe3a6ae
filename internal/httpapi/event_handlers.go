package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calendarapp/server/internal/auth"
	"github.com/calendarapp/server/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// eventBody is the wire shape for create and update requests. Update
// treats every absent field as "keep".
type eventBody struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	StartTime   *time.Time        `json:"startTime"`
	EndTime     *time.Time        `json:"endTime"`
	Location    *string           `json:"location"`
	Attendees   *[]store.Attendee `json:"attendees"`
	IsAllDay    *bool             `json:"isAllDay"`
	Timezone    *string           `json:"timezone"`
	Status      *string           `json:"status"`
}

type eventView struct {
	ID            string           `json:"id"`
	GoogleEventID string           `json:"googleEventId,omitempty"`
	Title         string           `json:"title"`
	Description   string           `json:"description,omitempty"`
	StartTime     time.Time        `json:"startTime"`
	EndTime       time.Time        `json:"endTime"`
	Location      string           `json:"location,omitempty"`
	Attendees     []store.Attendee `json:"attendees,omitempty"`
	IsAllDay      bool             `json:"isAllDay"`
	Timezone      string           `json:"timezone"`
	Status        string           `json:"status"`
	Source        string           `json:"source"`
	LastModified  time.Time        `json:"lastModified"`
}

func eventViewOf(e *store.Event) eventView {
	return eventView{
		ID:            e.ID.String(),
		GoogleEventID: e.GoogleEventID,
		Title:         e.Title,
		Description:   e.Description,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Location:      e.Location,
		Attendees:     e.Attendees,
		IsAllDay:      e.IsAllDay,
		Timezone:      e.Timezone,
		Status:        string(e.Status),
		Source:        string(e.Source),
		LastModified:  e.LastModified,
	}
}

type eventPageView struct {
	Events  []eventView `json:"events"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	Limit   int         `json:"limit"`
	HasNext bool        `json:"hasNext"`
}

func pageViewOf(p *store.EventPage) eventPageView {
	out := eventPageView{
		Events:  make([]eventView, 0, len(p.Events)),
		Total:   p.Total,
		Page:    p.Page,
		Limit:   p.Limit,
		HasNext: p.HasNext,
	}
	for i := range p.Events {
		out.Events = append(out.Events, eventViewOf(&p.Events[i]))
	}
	return out
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())
	q := r.URL.Query()

	f := store.EventFilter{
		Page:   atoiDefault(q.Get("page"), 0),
		Limit:  atoiDefault(q.Get("limit"), 0),
		Status: store.EventStatus(q.Get("status")),
		Source: store.EventSource(q.Get("source")),
		Search: q.Get("search"),
	}
	if t, ok := parseTimeParam(q.Get("startDate")); ok {
		f.StartDate = &t
	}
	if t, ok := parseTimeParam(q.Get("endDate")); ok {
		f.EndDate = &t
	}
	if f.Status != "" && !store.ValidStatus(f.Status) {
		writeError(w, r, http.StatusBadRequest, "unknown status filter")
		return
	}

	page, err := s.Events.List(r.Context(), uid, f)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeData(w, http.StatusOK, pageViewOf(page))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid event id")
		return
	}

	e, err := s.Events.Get(r.Context(), uid, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to load event")
		return
	}
	writeData(w, http.StatusOK, eventViewOf(e))
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	var body eventBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Title == nil || body.StartTime == nil || body.EndTime == nil {
		writeError(w, r, http.StatusBadRequest, "title, startTime and endTime are required")
		return
	}

	e := &store.Event{
		Title:     *body.Title,
		StartTime: *body.StartTime,
		EndTime:   *body.EndTime,
	}
	if body.Description != nil {
		e.Description = *body.Description
	}
	if body.Location != nil {
		e.Location = *body.Location
	}
	if body.Attendees != nil {
		e.Attendees = *body.Attendees
	}
	if body.IsAllDay != nil {
		e.IsAllDay = *body.IsAllDay
	}
	if body.Timezone != nil {
		e.Timezone = *body.Timezone
	}
	if body.Status != nil {
		e.Status = store.EventStatus(*body.Status)
	}

	created, err := s.Mediator.CreateEvent(r.Context(), uid, e)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, eventViewOf(created))
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid event id")
		return
	}

	var body eventBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := store.EventPatch{
		Title:       body.Title,
		Description: body.Description,
		StartTime:   body.StartTime,
		EndTime:     body.EndTime,
		Location:    body.Location,
		Attendees:   body.Attendees,
		IsAllDay:    body.IsAllDay,
		Timezone:    body.Timezone,
	}
	if body.Status != nil {
		st := store.EventStatus(*body.Status)
		patch.Status = &st
	}

	updated, err := s.Mediator.UpdateEvent(r.Context(), uid, id, patch)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeData(w, http.StatusOK, eventViewOf(updated))
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid event id")
		return
	}

	if err := s.Mediator.DeleteEvent(r.Context(), uid, id); err != nil {
		writeProblem(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "event deleted")
}

// handleEventRange serves canonical time windows: today, week, month or a
// custom start/end pair.
func (s *Server) handleEventRange(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())
	period := chi.URLParam(r, "period")

	now := time.Now().UTC()
	var from, to time.Time

	switch period {
	case "today":
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 0, 1)
	case "week":
		// Week starts Monday.
		offset := (int(now.Weekday()) + 6) % 7
		from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
		to = from.AddDate(0, 0, 7)
	case "month":
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 1, 0)
	case "custom":
		q := r.URL.Query()
		var ok bool
		if from, ok = parseTimeParam(q.Get("start")); !ok {
			writeError(w, r, http.StatusBadRequest, "custom range requires start")
			return
		}
		if to, ok = parseTimeParam(q.Get("end")); !ok {
			writeError(w, r, http.StatusBadRequest, "custom range requires end")
			return
		}
		if !to.After(from) {
			writeError(w, r, http.StatusBadRequest, "end must be after start")
			return
		}
	default:
		writeError(w, r, http.StatusBadRequest, "unknown range period")
		return
	}

	page, err := s.Events.List(r.Context(), uid, store.EventFilter{
		StartDate: &from,
		EndDate:   &to,
		Limit:     100,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeData(w, http.StatusOK, pageViewOf(page))
}

// handleSearch is free-text search over title, description and location.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		writeError(w, r, http.StatusBadRequest, "query must be at least 2 characters")
		return
	}

	page, err := s.Events.List(r.Context(), uid, store.EventFilter{
		Search: q,
		Limit:  atoiDefault(r.URL.Query().Get("limit"), 0),
		Page:   atoiDefault(r.URL.Query().Get("page"), 0),
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "search failed")
		return
	}
	writeData(w, http.StatusOK, pageViewOf(page))
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// parseTimeParam accepts RFC 3339 or a bare date.
func parseTimeParam(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
