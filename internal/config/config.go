// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime knob the service reads.
type Config struct {
	Env      string // dev | production
	HTTPAddr string
	LogLevel string

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	JWTSecret   string
	JWTLifetime time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// SessionSecret keys the credential vault.
	SessionSecret string

	CORSOrigins []string
	FrontendURL string
	WebhookURL  string

	RateLimitWindow time.Duration
	RateLimitMax    int

	SweepInterval time.Duration
}

var (
	ErrMissingDatabaseURL  = errors.New("config: DATABASE_URL is required")
	ErrMissingJWTSecret    = errors.New("config: JWT_SECRET is required")
	ErrMissingGoogleClient = errors.New("config: GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	ErrMissingSessionKey   = errors.New("config: SESSION_SECRET is required")
)

// Load reads the environment and applies defaults. Call Validate before use.
func Load() *Config {
	return &Config{
		Env:      env("ENV", "dev"),
		HTTPAddr: ":" + env("PORT", "8080"),
		LogLevel: env("LOG_LEVEL", "info"),

		DatabaseURL: env("DATABASE_URL", ""),
		DBMaxConns:  int32(envInt("DB_MAX_CONNS", 20)),
		DBMinConns:  int32(envInt("DB_MIN_CONNS", 2)),

		JWTSecret:   env("JWT_SECRET", ""),
		JWTLifetime: envDuration("JWT_LIFETIME", 7*24*time.Hour),

		GoogleClientID:     env("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: env("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  env("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/v1/auth/google/callback"),

		SessionSecret: env("SESSION_SECRET", ""),

		CORSOrigins: splitCSV(env("CORS_ORIGINS", "http://localhost:3000")),
		FrontendURL: env("FRONTEND_URL", "http://localhost:3000"),
		WebhookURL:  env("WEBHOOK_URL", ""),

		RateLimitWindow: envDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:    envInt("RATE_LIMIT_MAX", 300),

		SweepInterval: envDuration("SWEEP_INTERVAL", 5*time.Minute),
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		return ErrMissingGoogleClient
	}
	if c.SessionSecret == "" {
		return ErrMissingSessionKey
	}
	return nil
}

// IsProduction reports whether the service runs with production hardening
// (Secure cookies, no debug detail in error bodies).
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
