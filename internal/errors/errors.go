// Package errors defines SentinelDF's error taxonomy as values, not
// exception types, so the HTTP layer can map them to status codes without
// a chain of type switches.
package errors

import (
	"errors"
	"fmt"
)

// Kind is one entry in the error taxonomy from the design notes.
type Kind string

const (
	KindInvalidInput         Kind = "invalid_input"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindUnauthenticated      Kind = "unauthenticated"
	KindForbidden            Kind = "forbidden"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindRateLimited          Kind = "rate_limited"
	KindBusy                 Kind = "busy"
	KindEmbeddingUnavailable Kind = "embedding_unavailable"
	KindCacheCorrupt         Kind = "cache_corrupt"
	KindTamper               Kind = "tamper"
	KindInternal             Kind = "internal"
)

// APIError is the single error value the HTTP layer understands. It
// replaces exceptions-as-control-flow: every component returns this (or
// wraps it) instead of raising something the caller must catch.
type APIError struct {
	Kind       Kind
	Detail     string
	RetryAfter int // seconds; 0 means "not applicable"
	cause      error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *APIError) Unwrap() error { return e.cause }

// New builds an APIError of the given kind.
func New(kind Kind, detail string) *APIError {
	return &APIError{Kind: kind, Detail: detail}
}

// Newf builds an APIError with a formatted detail message.
func Newf(kind Kind, format string, args ...interface{}) *APIError {
	return &APIError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WithRetryAfter attaches a Retry-After hint, in seconds.
func (e *APIError) WithRetryAfter(seconds int) *APIError {
	e.RetryAfter = seconds
	return e
}

// Wrap attaches an APIError kind to an underlying error for logging while
// keeping errors.Is/As working against the original cause.
func Wrap(kind Kind, detail string, cause error) *APIError {
	return &APIError{Kind: kind, Detail: detail, cause: cause}
}

// As reports whether err is (or wraps) an *APIError, returning it.
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind Kind) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Kind == kind
}
