package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/calendarapp/server/internal/auth"
	"github.com/rs/zerolog/log"
)

// RateLimitConfig shapes a per-user token bucket: MaxRequests per Window,
// with bursts up to Burst.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
	Burst       int
}

// tokenBucket refills continuously; bursts drain up to capacity.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// allow consumes one token when available. It returns the remaining count
// and when the next token arrives (for Retry-After on denial).
func (tb *tokenBucket) allow() (bool, int, time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, int(tb.tokens), now
	}

	wait := (1.0 - tb.tokens) / tb.refillRate
	return false, 0, now.Add(time.Duration(wait * float64(time.Second)))
}

// RateLimiter manages per-user buckets. In-memory; a multi-node deployment
// would need a shared backend.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	cfg     RateLimitConfig
}

// NewRateLimiter builds a limiter and starts its idle-bucket reaper.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.MaxRequests
	}
	rl := &RateLimiter{buckets: make(map[string]*tokenBucket), cfg: cfg}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) bucket(key string) *tokenBucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	refillRate := float64(rl.cfg.MaxRequests) / rl.cfg.Window.Seconds()
	b = newTokenBucket(rl.cfg.Burst, refillRate)
	rl.buckets[key] = b
	return b
}

// Allow reports whether the key may proceed.
func (rl *RateLimiter) Allow(key string) (bool, int, time.Time) {
	return rl.bucket(key).allow()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for key, b := range rl.buckets {
			b.mu.Lock()
			if time.Since(b.lastRefill) > time.Hour {
				delete(rl.buckets, key)
			}
			b.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}

// Middleware enforces the limit per authenticated user. Unauthenticated
// requests pass through; the auth middleware rejects those later.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserID(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, nextToken := rl.Allow(uid.String())

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.MaxRequests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			retryAfter := int(time.Until(nextToken).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			log.Ctx(r.Context()).Warn().
				Str("userId", uid.String()).
				Str("path", r.URL.Path).
				Int("retryAfter", retryAfter).
				Msg("rate limit exceeded")

			writeError(w, r, http.StatusTooManyRequests,
				"rate limit exceeded, retry after "+strconv.Itoa(retryAfter)+"s")
			return
		}

		next.ServeHTTP(w, r)
	})
}
