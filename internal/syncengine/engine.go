// Package syncengine reconciles the upstream calendar into the local
// replica, in either full (time-window pagination) or incremental
// (sync-token pagination) mode.
package syncengine

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
)

const (
	// maxPageSize is the upstream's hard cap on events.list.
	maxPageSize = 2500

	// MaxConsecutiveErrors disqualifies a user from the automatic sync
	// scheduler.
	MaxConsecutiveErrors = 5
)

// Options tunes one sync run.
type Options struct {
	// FullSync forces a full reconciliation even when a cursor exists.
	FullSync bool
	// TimeMin/TimeMax bound a full sync; defaults are one year back and
	// one year ahead.
	TimeMin *time.Time
	TimeMax *time.Time
	// MaxResults caps the page size; 0 means the upstream maximum.
	MaxResults int64
}

// ItemError records one event that failed to land without aborting the run.
type ItemError struct {
	EventID string      `json:"eventId"`
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// Result summarizes a completed sync.
type Result struct {
	Processed     int         `json:"processed"`
	Created       int         `json:"created"`
	Updated       int         `json:"updated"`
	Deleted       int         `json:"deleted"`
	Errors        []ItemError `json:"errors,omitempty"`
	FullSync      bool        `json:"fullSync"`
	NextSyncToken string      `json:"-"`
}

// Engine orchestrates sync runs. Safe for concurrent use across users; the
// cursor store serializes runs per user.
type Engine struct {
	events  store.EventStore
	cursors store.SyncCursorStore
	tokens  *token.Manager
	client  upstream.Client
	exec    *upstream.Executor
}

// New wires a sync engine.
func New(events store.EventStore, cursors store.SyncCursorStore, tokens *token.Manager, client upstream.Client, exec *upstream.Executor) *Engine {
	return &Engine{events: events, cursors: cursors, tokens: tokens, client: client, exec: exec}
}

// Sync runs one reconciliation for the user. At most one sync per user is
// in flight; a second caller gets sync_already_running.
func (e *Engine) Sync(ctx context.Context, userID uuid.UUID, opts Options) (*Result, error) {
	claimed, err := e.cursors.TryStart(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "claim sync slot", err)
	}
	if !claimed {
		return nil, apperr.New(apperr.KindSyncRunning, "a sync is already running for this user")
	}

	logger := log.Ctx(ctx).With().Str("userId", userID.String()).Logger()

	result, runErr := e.run(ctx, userID, opts)
	if runErr != nil {
		if ferr := e.cursors.FinishFailure(ctx, userID, runErr.Error()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to record sync failure")
		}
		logger.Warn().Err(runErr).Msg("sync failed")
		return nil, runErr
	}

	if err := e.cursors.FinishSuccess(ctx, userID, result.NextSyncToken); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "persist sync cursor", err)
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("deleted", result.Deleted).
		Int("itemErrors", len(result.Errors)).
		Bool("fullSync", result.FullSync).
		Msg("sync completed")

	return result, nil
}

func (e *Engine) run(ctx context.Context, userID uuid.UUID, opts Options) (*Result, error) {
	cursor, err := e.cursors.Get(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, "load sync cursor", err)
	}

	full := opts.FullSync || cursor == nil || cursor.NextSyncToken == "" || !cursor.FullSyncCompleted

	var result *Result
	werr := e.tokens.WithValid(ctx, userID, func(ctx context.Context, accessToken string) error {
		var rerr error
		if full {
			result, rerr = e.fullSync(ctx, userID, accessToken, opts)
			return rerr
		}
		result, rerr = e.incrementalSync(ctx, userID, accessToken, cursor.NextSyncToken, opts)
		return rerr
	})
	if werr != nil {
		return nil, werr
	}
	return result, nil
}

func (e *Engine) fullSync(ctx context.Context, userID uuid.UUID, accessToken string, opts Options) (*Result, error) {
	timeMin := time.Now().AddDate(-1, 0, 0)
	timeMax := time.Now().AddDate(1, 0, 0)
	if opts.TimeMin != nil {
		timeMin = *opts.TimeMin
	}
	if opts.TimeMax != nil {
		timeMax = *opts.TimeMax
	}

	result := &Result{FullSync: true}
	listOpts := upstream.ListOptions{
		TimeMin:    timeMin,
		TimeMax:    timeMax,
		MaxResults: pageSize(opts.MaxResults),
	}

	return result, e.walk(ctx, userID, accessToken, listOpts, result)
}

func (e *Engine) incrementalSync(ctx context.Context, userID uuid.UUID, accessToken, syncToken string, opts Options) (*Result, error) {
	result := &Result{FullSync: false}
	listOpts := upstream.ListOptions{
		SyncToken:  syncToken,
		MaxResults: pageSize(opts.MaxResults),
	}

	err := e.walk(ctx, userID, accessToken, listOpts, result)
	if err != nil && upstream.IsSyncTokenInvalid(err) {
		// The upstream invalidated the cursor. Degrade transparently to a
		// full sync with the same options.
		log.Ctx(ctx).Info().Str("userId", userID.String()).
			Msg("sync token invalidated upstream, falling back to full sync")
		return e.fullSync(ctx, userID, accessToken, opts)
	}
	return result, err
}

// walk drives the page-token chain, processing every item. The sync token
// arrives only on the final page; an empty result set still yields one.
func (e *Engine) walk(ctx context.Context, userID uuid.UUID, accessToken string, listOpts upstream.ListOptions, result *Result) error {
	for {
		var page *upstream.EventsPage
		err := e.exec.Do(ctx, "calendar.events.list", func(ctx context.Context) error {
			var lerr error
			page, lerr = e.client.ListEvents(ctx, accessToken, listOpts)
			return lerr
		})
		if err != nil {
			return err
		}

		for _, item := range page.Items {
			e.processItem(ctx, userID, item, result)
		}

		if page.NextPageToken == "" {
			result.NextSyncToken = page.NextSyncToken
			return nil
		}
		listOpts.PageToken = page.NextPageToken
	}
}

// processItem lands one upstream event. Failures are collected per item so
// one bad event cannot sink the run.
func (e *Engine) processItem(ctx context.Context, userID uuid.UUID, item *calendar.Event, result *Result) {
	result.Processed++

	if item.Status == "cancelled" {
		deleted, err := e.events.DeleteByGoogleID(ctx, userID, item.Id)
		if err != nil {
			result.Errors = append(result.Errors, itemError(item.Id, err))
			return
		}
		if deleted {
			result.Deleted++
		}
		return
	}

	mapped, err := mapEvent(userID, item)
	if err != nil {
		result.Errors = append(result.Errors, itemError(item.Id, err))
		return
	}

	existing, err := e.events.GetByGoogleID(ctx, userID, item.Id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if _, _, cerr := e.events.UpsertByGoogleID(ctx, mapped); cerr != nil {
			result.Errors = append(result.Errors, itemError(item.Id, cerr))
			return
		}
		result.Created++
	case err != nil:
		result.Errors = append(result.Errors, itemError(item.Id, err))
	default:
		// Update only when the upstream copy is strictly newer.
		if !mapped.LastModified.After(existing.LastModified) {
			return
		}
		if _, _, uerr := e.events.UpsertByGoogleID(ctx, mapped); uerr != nil {
			result.Errors = append(result.Errors, itemError(item.Id, uerr))
			return
		}
		result.Updated++
	}
}

func itemError(eventID string, err error) ItemError {
	return ItemError{
		EventID: eventID,
		Kind:    apperr.KindOf(err),
		Message: err.Error(),
	}
}

func pageSize(requested int64) int64 {
	if requested <= 0 || requested > maxPageSize {
		return maxPageSize
	}
	return requested
}
