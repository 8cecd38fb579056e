package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidArgument indicates a request that fails validation before any
// upstream interaction (e.g. a tweet ID longer than upstream allows).
var ErrInvalidArgument = errors.New("invalid argument")

// ErrNoSession indicates that no session currently has quota and none will
// regain it within the bounded wait ceiling. Surfaced to callers as
// "service temporarily unavailable", never conflated with not-found.
var ErrNoSession = errors.New("no session available")

// NotFoundError indicates the requested entity does not exist upstream, or
// exists only as a tombstone. Terminal for the request; never retried.
type NotFoundError struct {
	Reason string // upstream-provided human-readable reason, if any
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "tweet not found"
}

// IsNotFound checks if an error indicates a missing or tombstoned entity.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// RateLimitedError indicates upstream rejected the call with a quota error.
// Reset is the upstream-reported time the window reopens, if known.
type RateLimitedError struct {
	Reset time.Time
}

func (e *RateLimitedError) Error() string {
	if e.Reset.IsZero() {
		return "rate limited"
	}
	return fmt.Sprintf("rate limited until %s", e.Reset.Format(time.RFC3339))
}

// IsRateLimited checks if an error is an upstream rate-limit rejection.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// SessionInvalidError indicates upstream rejected the session's credentials.
// Terminal for that session; the pool must rotate.
type SessionInvalidError struct {
	Username string
	Status   int
}

func (e *SessionInvalidError) Error() string {
	return fmt.Sprintf("session %q invalid (HTTP %d)", e.Username, e.Status)
}

// IsSessionInvalid checks if an error indicates dead session credentials.
func IsSessionInvalid(err error) bool {
	var si *SessionInvalidError
	return errors.As(err, &si)
}

// TransportError indicates a network failure or upstream 5xx that survived
// the retry budget.
type TransportError struct {
	Err    error
	Status int // last HTTP status, 0 for network errors
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream error (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("upstream error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport checks if an error is a transient transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ParseError indicates a response body that did not match any known upstream
// shape. Treated as transient for retry purposes: it usually signals an
// upstream anomaly rather than a permanent schema change.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse upstream response: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// IsParse checks if an error is an upstream shape mismatch.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}
