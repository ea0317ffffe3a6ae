// Package scheduler runs the periodic housekeeping loop: expired state GC,
// webhook channel expiry, stuck sync recovery and automatic background
// sync for healthy users.
package scheduler

import (
	"context"
	"time"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/calendarapp/server/internal/store"
	"github.com/calendarapp/server/internal/syncengine"
	"github.com/rs/zerolog/log"
)

// staleSyncAge is how long a sync may hold its claim before the sweeper
// assumes the process died mid-run and releases it.
const staleSyncAge = time.Hour

// Sweeper is the periodic maintenance worker.
type Sweeper struct {
	states   store.OAuthStateStore
	webhooks store.WebhookStore
	cursors  store.SyncCursorStore
	engine   *syncengine.Engine
	interval time.Duration
}

// New wires a sweeper; interval <= 0 defaults to five minutes.
func New(states store.OAuthStateStore, webhooks store.WebhookStore, cursors store.SyncCursorStore, engine *syncengine.Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		states:   states,
		webhooks: webhooks,
		cursors:  cursors,
		engine:   engine,
		interval: interval,
	}
}

// Run blocks, sweeping every interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Ctx(ctx).Info().Dur("interval", s.interval).Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass. Each step logs and continues on error;
// maintenance is best-effort.
func (s *Sweeper) Sweep(ctx context.Context) {
	logger := log.Ctx(ctx)

	if n, err := s.states.DeleteExpired(ctx); err != nil {
		logger.Error().Err(err).Msg("oauth state gc failed")
	} else if n > 0 {
		logger.Info().Int("deleted", n).Msg("expired oauth states removed")
	}

	if n, err := s.webhooks.DeactivateExpired(ctx); err != nil {
		logger.Error().Err(err).Msg("webhook expiry sweep failed")
	} else if n > 0 {
		logger.Info().Int("deactivated", n).Msg("expired webhook channels deactivated")
	}

	if n, err := s.cursors.ResetStale(ctx, staleSyncAge); err != nil {
		logger.Error().Err(err).Msg("stale sync reset failed")
	} else if n > 0 {
		logger.Warn().Int("reset", n).Msg("stale sync claims released")
	}

	s.autoSync(ctx)
}

// autoSync runs an incremental sync for every eligible user: full sync
// done, not currently syncing, and under the consecutive-error cutoff.
func (s *Sweeper) autoSync(ctx context.Context) {
	users, err := s.cursors.ListEligible(ctx, syncengine.MaxConsecutiveErrors)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("eligible user listing failed")
		return
	}

	for _, uid := range users {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.engine.Sync(ctx, uid, syncengine.Options{}); err != nil {
			// Races with on-demand syncs are expected.
			if apperr.IsKind(err, apperr.KindSyncRunning) {
				continue
			}
			log.Ctx(ctx).Warn().Err(err).Str("userId", uid.String()).
				Msg("background sync failed")
		}
	}
}
