// Package apperr defines the classified error type shared by all layers.
//
// Every failure that crosses a component boundary is wrapped in an *Error
// carrying a Kind. The HTTP layer maps kinds to status codes and RFC7807
// problem bodies; the retry executor uses kinds to decide whether an
// upstream call is worth repeating.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers. Kinds are stable strings so they can
// appear verbatim in problem bodies and sync item errors.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden_resource"
	KindNotFound        Kind = "not_found"
	KindRateLimited     Kind = "upstream_rate_limited"
	KindQuotaExceeded   Kind = "upstream_quota_exceeded"
	KindUpstreamAuth    Kind = "upstream_auth"
	KindNetwork         Kind = "upstream_network"
	KindConflict        Kind = "conflict"
	KindSyncRunning     Kind = "sync_already_running"
	KindNoRefreshToken  Kind = "no_refresh_token"
	KindInternal        Kind = "internal"
)

// Error is a classified error. Message is safe to show callers; Err holds
// the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error without an underlying cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified errors are
// internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the retry executor should attempt the call
// again. Only transient upstream conditions qualify.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindNetwork:
		return true
	}
	return false
}

// HTTPStatus maps a kind to the status code surfaced at the HTTP edge.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated, KindUpstreamAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindSyncRunning:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNoRefreshToken:
		return http.StatusUnauthorized
	case KindQuotaExceeded, KindNetwork, KindInternal:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
