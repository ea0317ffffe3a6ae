package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantExecutor records requested delays instead of sleeping.
func instantExecutor(p Policy) (*Executor, *[]time.Duration) {
	x := NewExecutor(p)
	delays := &[]time.Duration{}
	x.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return x, delays
}

func TestDoRetriesTransientErrors(t *testing.T) {
	x, delays := instantExecutor(Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2})

	calls := 0
	err := x.Do(context.Background(), "list", func(context.Context) error {
		calls++
		if calls < 3 {
			return gErr(429, "")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2)
}

func TestDoNeverRetriesQuota(t *testing.T) {
	x, delays := instantExecutor(Policy{MaxAttempts: 5})

	calls := 0
	err := x.Do(context.Background(), "list", func(context.Context) error {
		calls++
		return gErr(403, "dailyLimitExceeded")
	})

	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(err))
}

func TestDoNeverRetriesAuth(t *testing.T) {
	x, _ := instantExecutor(Policy{MaxAttempts: 5})

	calls := 0
	err := x.Do(context.Background(), "refresh", func(context.Context) error {
		calls++
		return gErr(401, "")
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, apperr.KindUpstreamAuth, apperr.KindOf(err))
}

func TestDoExhaustsBudget(t *testing.T) {
	x, delays := instantExecutor(Policy{MaxAttempts: 3})

	calls := 0
	err := x.Do(context.Background(), "list", func(context.Context) error {
		calls++
		return gErr(503, "")
	})

	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2, "no sleep after the final attempt")
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))
}

func TestDoHonorsRetryAfter(t *testing.T) {
	x, delays := instantExecutor(Policy{MaxAttempts: 2, BaseDelay: time.Millisecond})

	e := gErr(429, "")
	e.Header = map[string][]string{"Retry-After": {"9"}}

	calls := 0
	_ = x.Do(context.Background(), "list", func(context.Context) error {
		calls++
		return e
	})

	require.Len(t, *delays, 1)
	assert.Equal(t, 9*time.Second, (*delays)[0])
}

func TestDoSurfacesLastErrorOnDeadline(t *testing.T) {
	x := NewExecutor(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	x.sleep = func(context.Context, time.Duration) error {
		return context.DeadlineExceeded
	}

	err := x.Do(context.Background(), "list", func(context.Context) error {
		return gErr(429, "")
	})

	// The upstream classification wins over the context error.
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
}

func TestDoBackoffGrows(t *testing.T) {
	x, delays := instantExecutor(Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2})

	_ = x.Do(context.Background(), "list", func(context.Context) error {
		return gErr(500, "")
	})

	require.Len(t, *delays, 3)
	// Randomization jitters each delay; the trend must still be upward and
	// bounded by the cap.
	assert.Less(t, (*delays)[0], (*delays)[2])
	for _, d := range *delays {
		assert.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestMetricsAccounting(t *testing.T) {
	x, _ := instantExecutor(Policy{MaxAttempts: 2})

	_ = x.Do(context.Background(), "a", func(context.Context) error { return nil })
	_ = x.Do(context.Background(), "b", func(context.Context) error { return gErr(429, "") })
	_ = x.Do(context.Background(), "c", func(context.Context) error { return gErr(403, "dailyLimitExceeded") })
	_ = x.Do(context.Background(), "d", func(context.Context) error { return gErr(401, "") })
	_ = x.Do(context.Background(), "e", func(context.Context) error { return errors.New("net: " + "reset") })

	s := x.Metrics().Snapshot()
	assert.Equal(t, int64(6), s.Calls, "one success + 429 retried once + three single attempts")
	assert.Equal(t, int64(2), s.RateLimitHits)
	assert.Equal(t, int64(1), s.QuotaHits)
	assert.Equal(t, int64(1), s.AuthErrors)
	assert.False(t, s.LastCallAt.IsZero())

	x.Metrics().Reset()
	s = x.Metrics().Snapshot()
	assert.Zero(t, s.Calls)
	assert.Zero(t, s.RateLimitHits)
	assert.True(t, s.LastCallAt.IsZero())
}
