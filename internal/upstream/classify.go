package upstream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/calendarapp/server/internal/apperr"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Classify maps a raw upstream error onto the service error taxonomy. The
// retry executor keys its policy off the resulting kind, so classification
// accuracy is what stands between us and either hammering a quota-limited
// API or giving up on a transient blip.
func Classify(err error) *apperr.Error {
	if err == nil {
		return nil
	}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindNetwork, "upstream call cancelled", err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyGoogle(gerr)
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return classifyOAuth(rerr)
	}

	if isNetworkErr(err) {
		return apperr.Wrap(apperr.KindNetwork, "upstream network failure", err)
	}

	return apperr.Wrap(apperr.KindInternal, "upstream call failed", err)
}

func classifyGoogle(gerr *googleapi.Error) *apperr.Error {
	switch gerr.Code {
	case http.StatusTooManyRequests:
		return apperr.Wrap(apperr.KindRateLimited, "upstream rate limit", gerr)
	case http.StatusForbidden:
		if hasReason(gerr, "dailyLimitExceeded", "quotaExceeded") {
			return apperr.Wrap(apperr.KindQuotaExceeded, "upstream daily quota exhausted", gerr)
		}
		if hasReason(gerr, "rateLimitExceeded", "userRateLimitExceeded") {
			return apperr.Wrap(apperr.KindRateLimited, "upstream rate limit", gerr)
		}
		return apperr.Wrap(apperr.KindForbidden, "upstream denied access", gerr)
	case http.StatusUnauthorized:
		return apperr.Wrap(apperr.KindUpstreamAuth, "upstream rejected credentials", gerr)
	case http.StatusNotFound:
		return apperr.Wrap(apperr.KindNotFound, "upstream resource not found", gerr)
	case http.StatusGone:
		// events.list returns 410 when a sync token is stale; the sync
		// engine treats this as a cursor invalidation, not a failure.
		return apperr.Wrap(apperr.KindConflict, "upstream sync token invalidated", gerr)
	}
	if gerr.Code >= 500 {
		return apperr.Wrap(apperr.KindNetwork, "upstream server error", gerr)
	}
	return apperr.Wrap(apperr.KindInternal, "upstream call failed", gerr)
}

func classifyOAuth(rerr *oauth2.RetrieveError) *apperr.Error {
	code := rerr.ErrorCode
	if code == "" && rerr.Response != nil && rerr.Response.StatusCode == http.StatusUnauthorized {
		code = "unauthorized"
	}
	switch code {
	case "invalid_grant", "unauthorized", "unauthorized_client", "invalid_client":
		return apperr.Wrap(apperr.KindUpstreamAuth, "token endpoint rejected grant", rerr)
	}
	if rerr.Response != nil && rerr.Response.StatusCode == http.StatusTooManyRequests {
		return apperr.Wrap(apperr.KindRateLimited, "token endpoint rate limit", rerr)
	}
	return apperr.Wrap(apperr.KindUpstreamAuth, "token endpoint failure", rerr)
}

func hasReason(gerr *googleapi.Error, reasons ...string) bool {
	for _, item := range gerr.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	// Some responses carry the predicate only in the message body.
	msg := strings.ToLower(gerr.Message)
	for _, r := range reasons {
		if strings.Contains(msg, strings.ToLower(r)) {
			return true
		}
	}
	return false
}

func isNetworkErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}

// RetryAfter extracts a server-mandated delay from a rate-limit response.
// Zero means the server named none.
func RetryAfter(err error) time.Duration {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Header == nil {
		return 0
	}
	v := gerr.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, perr := strconv.Atoi(v); perr == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, perr := http.ParseTime(v); perr == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// IsSyncTokenInvalid reports whether the error is the upstream telling us to
// drop the incremental cursor and run a full sync.
func IsSyncTokenInvalid(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusGone {
			return true
		}
		if hasReason(gerr, "fullSyncRequired") {
			return true
		}
	}
	return false
}
