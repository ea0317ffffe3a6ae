package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/calendarapp/server/internal/auth"
	"github.com/calendarapp/server/internal/store"
	"github.com/calendarapp/server/internal/syncengine"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/calendar/v3"
)

// handleSync runs an on-demand sync. ?full=true forces a full pass.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	opts := syncengine.Options{
		FullSync: r.URL.Query().Get("full") == "true",
	}

	res, err := s.Engine.Sync(r.Context(), uid, opts)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// handleBatchSync backfills a two-year history window plus the year ahead.
func (s *Server) handleBatchSync(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	timeMin := time.Now().AddDate(-2, 0, 0)
	timeMax := time.Now().AddDate(1, 0, 0)

	res, err := s.Engine.Sync(r.Context(), uid, syncengine.Options{
		FullSync: true,
		TimeMin:  &timeMin,
		TimeMax:  &timeMax,
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	type statusView struct {
		LastSyncAt        *time.Time `json:"lastSyncAt,omitempty"`
		FullSyncCompleted bool       `json:"fullSyncCompleted"`
		SyncInProgress    bool       `json:"syncInProgress"`
		LastError         string     `json:"lastError,omitempty"`
		ErrorCount        int        `json:"errorCount"`
	}

	cur, err := s.Cursors.Get(r.Context(), uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeData(w, http.StatusOK, statusView{})
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to load sync status")
		return
	}

	view := statusView{
		FullSyncCompleted: cur.FullSyncCompleted,
		SyncInProgress:    cur.SyncInProgress,
		LastError:         cur.LastError,
		ErrorCount:        cur.ErrorCount,
	}
	if !cur.LastSyncAt.IsZero() {
		view.LastSyncAt = &cur.LastSyncAt
	}
	writeData(w, http.StatusOK, view)
}

// handleWatch opens an upstream push channel pointed at the webhook
// receiver and records the binding.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	if s.Cfg.WebhookURL == "" {
		writeError(w, r, http.StatusBadRequest, "webhook receiver url is not configured")
		return
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to generate channel token")
		return
	}
	channelToken := hex.EncodeToString(buf)
	channelID := uuid.New().String()

	var acked *calendar.Channel
	err := s.Tokens.WithValid(r.Context(), uid, func(ctx context.Context, accessToken string) error {
		return s.Exec.Do(ctx, "calendar.events.watch", func(ctx context.Context) error {
			var werr error
			acked, werr = s.Client.Watch(ctx, accessToken, &calendar.Channel{
				Id:      channelID,
				Type:    "web_hook",
				Address: s.Cfg.WebhookURL,
				Token:   channelToken,
			})
			return werr
		})
	})
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	sub := &store.WebhookSubscription{
		UserID:      uid,
		ChannelID:   channelID,
		ResourceID:  acked.ResourceId,
		Token:       channelToken,
		ResourceURI: acked.ResourceUri,
		ExpiresAt:   time.UnixMilli(acked.Expiration),
		Active:      true,
	}
	if err := s.Webhooks.Create(r.Context(), sub); err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to persist subscription")
		return
	}

	log.Ctx(r.Context()).Info().
		Str("userId", uid.String()).
		Str("channelId", channelID).
		Time("expiresAt", sub.ExpiresAt).
		Msg("webhook channel opened")

	writeData(w, http.StatusCreated, map[string]any{
		"channelId": channelID,
		"expiresAt": sub.ExpiresAt,
	})
}

// handleUnwatch stops every active channel for the user.
func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserID(r.Context())

	subs, err := s.Webhooks.ListActiveByUser(r.Context(), uid)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	stopped := 0
	for _, sub := range subs {
		sub := sub
		err := s.Tokens.WithValid(r.Context(), uid, func(ctx context.Context, accessToken string) error {
			return s.Client.StopChannel(ctx, accessToken, &calendar.Channel{
				Id:         sub.ChannelID,
				ResourceId: sub.ResourceID,
			})
		})
		if err != nil {
			// Channel may already be gone upstream; deactivate regardless.
			log.Ctx(r.Context()).Warn().Err(err).
				Str("channelId", sub.ChannelID).
				Msg("upstream channel stop failed")
		}
		if err := s.Webhooks.Deactivate(r.Context(), sub.ChannelID); err != nil {
			writeError(w, r, http.StatusInternalServerError, "failed to deactivate subscription")
			return
		}
		stopped++
	}

	writeData(w, http.StatusOK, map[string]int{"stopped": stopped})
}

func (s *Server) handleAdminMetrics(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.Metrics.Snapshot())
}

func (s *Server) handleAdminMetricsReset(w http.ResponseWriter, r *http.Request) {
	s.Metrics.Reset()
	writeMessage(w, http.StatusOK, "metrics reset")
}
