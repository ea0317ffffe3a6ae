package httpapi

import (
	"net/http"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/calendarapp/server/internal/syncengine"
	"github.com/rs/zerolog/log"
)

// webhookMaxResults keeps webhook-triggered pulls small; the change that
// prompted the notification is almost always on the first page.
const webhookMaxResults = 100

// handleWebhook receives upstream push notifications. It always answers
// 200: any other status makes Google retry and eventually kill the
// channel. Identity comes from the channel token binding, never from a
// session.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	channelID := r.Header.Get("X-Goog-Channel-ID")
	channelToken := r.Header.Get("X-Goog-Channel-Token")
	resourceID := r.Header.Get("X-Goog-Resource-ID")
	resourceState := r.Header.Get("X-Goog-Resource-State")

	logger := log.Ctx(ctx).With().
		Str("channelId", channelID).
		Str("resourceState", resourceState).
		Logger()

	if channelToken == "" || resourceID == "" {
		logger.Warn().Msg("webhook notification missing channel headers")
		w.WriteHeader(http.StatusOK)
		return
	}

	sub, err := s.Webhooks.Resolve(ctx, channelToken, resourceID)
	if err != nil {
		logger.Warn().Msg("webhook notification from unknown channel")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Both the channel-opened handshake ("sync") and a change notification
	// ("exists") trigger a pull; anything else is acknowledged without work.
	if resourceState != "sync" && resourceState != "exists" {
		logger.Debug().Msg("webhook resource state ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	_, err = s.Engine.Sync(ctx, sub.UserID, syncengine.Options{
		MaxResults: webhookMaxResults,
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindSyncRunning) {
			// A running sync will pick the change up.
			logger.Debug().Msg("sync already in flight, notification absorbed")
		} else {
			logger.Warn().Err(err).Str("userId", sub.UserID.String()).
				Msg("webhook-triggered sync failed")
		}
	}

	w.WriteHeader(http.StatusOK)
}
