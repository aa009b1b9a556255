// Package faults defines the gateway error taxonomy and renders errors for
// the surface that observed them: a JSON envelope for programmatic callers,
// an HTML page for browsers, or an error frame on a relay session.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rampart-ai/rampart/pkg/models"
)

// Kind classifies a gateway failure.
type Kind string

const (
	KindAuthentication    Kind = "authentication_error"
	KindRateLimit         Kind = "rate_limit_exceeded"
	KindUpstreamDown      Kind = "upstream_unavailable"
	KindStreamInterrupted Kind = "upstream_stream_interrupted"
	KindProtocolViolation Kind = "protocol_violation"
	KindInternal          Kind = "internal_error"
)

// Error is a classified gateway failure.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // only meaningful for KindRateLimit
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a classified error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an underlying error. The cause is kept for the log sink
// only; rendered output carries just the kind and message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// RateLimited creates a rate-limit error carrying a retry hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Message:    "rate limit exceeded for this tier",
		RetryAfter: retryAfter,
	}
}

// Classify returns the Kind of err, mapping anything unclassified to
// KindInternal.
func Classify(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// normalize returns err as a *Error, wrapping unknown errors as internal.
func normalize(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return Wrap(KindInternal, "internal gateway error", err)
}

// statusCode maps a kind to its HTTP status.
func statusCode(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindUpstreamDown:
		return http.StatusBadGateway
	case KindStreamInterrupted:
		return http.StatusBadGateway
	case KindProtocolViolation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Frame renders err as a relay error frame payload.
func Frame(err error) *models.FrameFault {
	fe := normalize(err)
	f := &models.FrameFault{
		Kind:    string(fe.Kind),
		Message: fe.Message,
	}
	if fe.RetryAfter > 0 {
		f.RetryAfter = int64(fe.RetryAfter.Seconds() + 0.5)
	}
	return f
}
