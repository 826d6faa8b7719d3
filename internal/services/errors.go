// Package services holds the conversation orchestrator and the chat
// persistence operations. This file centralizes the service-level errors so
// handlers and the CLI can translate them consistently.
//
// AdmissionDenied and Unauthorized outcomes are returned as values, never
// panics. Upstream failures keep any partial output; consistency warnings
// are reported and never fatal.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/go-chat-stream/internal/domain"
)

var (
	// ErrAdmissionDenied is wrapped by *AdmissionDeniedError.
	ErrAdmissionDenied = errors.New("rate limit exceeded")

	// ErrUnauthorized indicates an identity mismatch on read, write, share
	// or delete.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnauthenticated is returned when a persistence operation is called
	// without a resolvable user. It matches ErrUnauthorized.
	ErrUnauthenticated = fmt.Errorf("%w: no authenticated user", ErrUnauthorized)

	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrNotFound is an alias of ErrChatNotFound.
	ErrNotFound = ErrChatNotFound

	// ErrUpstream matches every *UpstreamError.
	ErrUpstream = errors.New("model provider failure")

	// ErrTurnInFlight is returned when a session already has a reply
	// streaming.
	ErrTurnInFlight = domain.ErrTurnInFlight

	// ErrEmptyPrompt is returned when a message text is blank.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a message text exceeds the configured
	// maximum length.
	ErrTooLong = errors.New("prompt too long")

	// ErrInvalidChat is returned by Save for records without an id.
	ErrInvalidChat = errors.New("chat id is required")
)

// AdmissionDeniedError is returned when the rate gate refuses a submit.
type AdmissionDeniedError struct {
	RetryAfter time.Duration
}

func (e *AdmissionDeniedError) Error() string {
	return fmt.Sprintf("%s; retry after %s", ErrAdmissionDenied, e.RetryAfter.Round(time.Millisecond))
}

func (e *AdmissionDeniedError) Unwrap() error { return ErrAdmissionDenied }

// UpstreamError reports a model provider failure. Partial holds the text
// streamed before the failure.
type UpstreamError struct {
	Provider string
	Partial  string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrUpstream, e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// ConsistencyWarning describes an index entry without a matching record, or
// one that points at another user's record.
type ConsistencyWarning struct {
	UserID string
	Ref    string
	Reason string
}

func (w ConsistencyWarning) Error() string {
	return fmt.Sprintf("consistency warning: user %s ref %s: %s", w.UserID, w.Ref, w.Reason)
}
