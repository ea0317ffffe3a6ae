package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func gErr(code int, reason string) *googleapi.Error {
	e := &googleapi.Error{Code: code, Message: "upstream says no"}
	if reason != "" {
		e.Errors = []googleapi.ErrorItem{{Reason: reason}}
	}
	return e
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"429 is rate limited", gErr(429, ""), apperr.KindRateLimited},
		{"403 rateLimitExceeded is rate limited", gErr(403, "rateLimitExceeded"), apperr.KindRateLimited},
		{"403 userRateLimitExceeded is rate limited", gErr(403, "userRateLimitExceeded"), apperr.KindRateLimited},
		{"403 dailyLimitExceeded is quota", gErr(403, "dailyLimitExceeded"), apperr.KindQuotaExceeded},
		{"403 quotaExceeded is quota", gErr(403, "quotaExceeded"), apperr.KindQuotaExceeded},
		{"plain 403 is forbidden", gErr(403, "insufficientPermissions"), apperr.KindForbidden},
		{"401 is upstream auth", gErr(401, ""), apperr.KindUpstreamAuth},
		{"404 is not found", gErr(404, ""), apperr.KindNotFound},
		{"410 is cursor invalidation", gErr(410, ""), apperr.KindConflict},
		{"500 is network-class", gErr(500, ""), apperr.KindNetwork},
		{"503 is network-class", gErr(503, ""), apperr.KindNetwork},
		{"invalid_grant is upstream auth", &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, apperr.KindUpstreamAuth},
		{"connection reset is network", fmt.Errorf("dial: %w", syscall.ECONNRESET), apperr.KindNetwork},
		{"timeout is network", &net.DNSError{IsTimeout: true}, apperr.KindNetwork},
		{"context deadline is network", context.DeadlineExceeded, apperr.KindNetwork},
		{"unknown is internal", errors.New("weird"), apperr.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(Classify(tt.err)))
		})
	}
}

func TestClassifyPreservesExistingKind(t *testing.T) {
	in := apperr.New(apperr.KindQuotaExceeded, "already classified")
	assert.Same(t, in, Classify(in))
}

func TestClassifyReasonInMessageBody(t *testing.T) {
	e := &googleapi.Error{Code: 403, Message: "Daily Limit Exceeded. dailyLimitExceeded"}
	assert.Equal(t, apperr.KindQuotaExceeded, apperr.KindOf(Classify(e)))
}

func TestRetryAfter(t *testing.T) {
	t.Run("seconds header", func(t *testing.T) {
		e := gErr(429, "")
		e.Header = http.Header{"Retry-After": []string{"7"}}
		assert.Equal(t, 7*time.Second, RetryAfter(e))
	})

	t.Run("absent header", func(t *testing.T) {
		assert.Zero(t, RetryAfter(gErr(429, "")))
	})

	t.Run("non-google error", func(t *testing.T) {
		assert.Zero(t, RetryAfter(errors.New("nope")))
	})
}

func TestIsSyncTokenInvalid(t *testing.T) {
	assert.True(t, IsSyncTokenInvalid(gErr(410, "")))
	assert.True(t, IsSyncTokenInvalid(gErr(400, "fullSyncRequired")))
	assert.False(t, IsSyncTokenInvalid(gErr(429, "")))
	assert.False(t, IsSyncTokenInvalid(errors.New("other")))
}
