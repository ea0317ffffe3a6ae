package upstream

import (
	"context"
	"time"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultPolicy matches the calendar API's documented backoff guidance.
var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    16 * time.Second,
	Multiplier:  2.0,
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	return p
}

// Executor wraps upstream calls with classification-based retry and metric
// accounting. One executor is shared process-wide.
type Executor struct {
	policy  Policy
	metrics *Metrics
	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor with the given policy.
func NewExecutor(p Policy) *Executor {
	return &Executor{
		policy:  p.normalize(),
		metrics: &Metrics{},
		sleep:   sleepCtx,
	}
}

// Metrics exposes the process-wide counters.
func (x *Executor) Metrics() *Metrics { return x.metrics }

// Do runs fn under the executor's policy. Only rate-limit and network
// failures are retried; quota, auth, and everything else surface
// immediately as classified errors. The caller's deadline wins over any
// remaining backoff.
func (x *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return x.DoWithPolicy(ctx, op, x.policy, fn)
}

// DoWithPolicy is Do with a per-call policy override.
func (x *Executor) DoWithPolicy(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalize()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Multiplier
	bo.Reset()

	var lastErr *apperr.Error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		start := time.Now()
		err := fn(ctx)
		x.metrics.recordCall(time.Since(start))

		if err == nil {
			return nil
		}

		cerr := Classify(err)
		lastErr = cerr
		x.count(cerr.Kind)

		if !apperr.Retryable(cerr) {
			return cerr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := bo.NextBackOff()
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if ra := RetryAfter(cerr); ra > 0 {
			delay = ra
		}

		log.Ctx(ctx).Debug().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Str("kind", string(cerr.Kind)).
			Msg("retrying upstream call")

		if err := x.sleep(ctx, delay); err != nil {
			// Deadline elapsed mid-backoff: surface the last upstream
			// error rather than the context error.
			return lastErr
		}
	}

	return lastErr
}

func (x *Executor) count(kind apperr.Kind) {
	switch kind {
	case apperr.KindRateLimited:
		x.metrics.record(&x.metrics.rateLimitHits)
	case apperr.KindQuotaExceeded:
		x.metrics.record(&x.metrics.quotaHits)
	case apperr.KindNetwork:
		x.metrics.record(&x.metrics.networkErrors)
	case apperr.KindUpstreamAuth:
		x.metrics.record(&x.metrics.authErrors)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
