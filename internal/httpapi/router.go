// Package httpapi is the REST surface: session auth, event CRUD, sync
// control and the upstream webhook receiver.
package httpapi

import (
	"net/http"

	"github.com/calendarapp/server/internal/auth"
	"github.com/calendarapp/server/internal/config"
	"github.com/calendarapp/server/internal/mediator"
	"github.com/calendarapp/server/internal/store"
	"github.com/calendarapp/server/internal/syncengine"
	"github.com/calendarapp/server/internal/token"
	"github.com/calendarapp/server/internal/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Server holds the dependencies every handler reaches for.
type Server struct {
	Cfg      *config.Config
	Users    store.UserStore
	Events   store.EventStore
	Cursors  store.SyncCursorStore
	States   store.OAuthStateStore
	Webhooks store.WebhookStore

	Sessions *auth.Sessions
	Tokens   *token.Manager
	Client   upstream.Client
	Exec     *upstream.Executor
	Engine   *syncengine.Engine
	Mediator *mediator.Mediator
	Metrics  *upstream.Metrics
}

// Routes assembles the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	limiter := NewRateLimiter(RateLimitConfig{
		Window:      s.Cfg.RateLimitWindow,
		MaxRequests: s.Cfg.RateLimitMax,
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Auth flow; initiate and callback run without a session.
		r.Route("/auth", func(r chi.Router) {
			r.Get("/google", s.handleAuthInitiate)
			r.Get("/google/callback", s.handleAuthCallback)
			r.Get("/status", s.handleAuthStatus)

			r.Group(func(r chi.Router) {
				r.Use(s.Sessions.Middleware)
				r.Post("/refresh", s.handleAuthRefresh)
				r.Post("/logout", s.handleLogout)
				r.Get("/me", s.handleMe)
			})
		})

		r.Route("/calendar", func(r chi.Router) {
			// Upstream push notifications authenticate by channel token,
			// not by session.
			r.Post("/webhook", s.handleWebhook)

			r.Group(func(r chi.Router) {
				r.Use(s.Sessions.Middleware)
				r.Use(limiter.Middleware)

				r.Get("/events", s.handleListEvents)
				r.Post("/events", s.handleCreateEvent)
				r.Get("/events/range/{period}", s.handleEventRange)
				r.Get("/events/{id}", s.handleGetEvent)
				r.Put("/events/{id}", s.handleUpdateEvent)
				r.Delete("/events/{id}", s.handleDeleteEvent)
				r.Get("/search", s.handleSearch)

				r.Post("/sync", s.handleSync)
				r.Post("/batch-sync", s.handleBatchSync)
				r.Get("/sync/status", s.handleSyncStatus)
				r.Post("/watch", s.handleWatch)
				r.Delete("/watch", s.handleUnwatch)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.Sessions.Middleware)
			r.Get("/admin/metrics", s.handleAdminMetrics)
			r.Delete("/admin/metrics", s.handleAdminMetricsReset)
		})
	})

	return r
}
