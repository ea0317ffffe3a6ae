package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calendarapp/server/internal/auth"
	"github.com/calendarapp/server/internal/config"
	"github.com/calendarapp/server/internal/db"
	"github.com/calendarapp/server/internal/httpapi"
	"github.com/calendarapp/server/internal/mediator"
	"github.com/calendarapp/server/internal/scheduler"
	"github.com/calendarapp/server/internal/store"
	"github.com/calendarapp/server/internal/syncengine"
	"github.com/calendarapp/server/internal/token"
	"github.com/calendarapp/server/internal/upstream"
	"github.com/calendarapp/server/internal/vault"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()

	// Structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Logger = log.With().Str("service", "calendar-api").Logger()
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	pool, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	v, err := vault.New(cfg.SessionSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential vault")
	}

	stores := store.NewPG(pool)
	client := upstream.NewGoogleClient(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	exec := upstream.NewExecutor(upstream.DefaultPolicy)
	tokens := token.NewManager(v, stores.Users, client, exec)
	engine := syncengine.New(stores.Events, stores.Cursors, tokens, client, exec)
	med := mediator.New(stores.Events, tokens, client, exec)
	sessions := auth.NewSessions(cfg.JWTSecret, cfg.JWTLifetime, cfg.IsProduction())

	srv := &httpapi.Server{
		Cfg:      cfg,
		Users:    stores.Users,
		Events:   stores.Events,
		Cursors:  stores.Cursors,
		States:   stores.States,
		Webhooks: stores.Webhooks,
		Sessions: sessions,
		Tokens:   tokens,
		Client:   client,
		Exec:     exec,
		Engine:   engine,
		Mediator: med,
		Metrics:  exec.Metrics(),
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	sweeper := scheduler.New(stores.States, stores.Webhooks, stores.Cursors, engine, cfg.SweepInterval)
	go sweeper.Run(sweepCtx)

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
