package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures for budgeting and user-visible reporting.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindProviderTransient ErrorKind = "provider_transient"
	ErrorKindProviderPermanent ErrorKind = "provider_permanent"
	ErrorKindModerationBlocked ErrorKind = "moderation_blocked"
	ErrorKindQARejected        ErrorKind = "qa_rejected"
	ErrorKindPollTimeout       ErrorKind = "poll_timeout"
	ErrorKindCancelled         ErrorKind = "cancelled"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrJobCancelled = errors.New("job cancelled")
	ErrPollTimeout  = errors.New("poll timeout")
)

// ClassifiedError carries an ErrorKind up to the orchestrator, which is the
// sole authority for converting it into Revising or a terminal Failed.
type ClassifiedError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// NewValidationError reports bad input; no provider call was made.
func NewValidationError(reason string) error {
	return &ClassifiedError{Kind: ErrorKindValidation, Reason: reason}
}

// NewTransientError wraps a retryable provider failure.
func NewTransientError(reason string, err error) error {
	return &ClassifiedError{Kind: ErrorKindProviderTransient, Reason: reason, Err: err}
}

// NewPermanentError wraps a provider failure that ends the current attempt.
func NewPermanentError(reason string, err error) error {
	return &ClassifiedError{Kind: ErrorKindProviderPermanent, Reason: reason, Err: err}
}

// NewModerationBlockedError reports a policy block at either moderation stage.
func NewModerationBlockedError(reason string) error {
	return &ClassifiedError{Kind: ErrorKindModerationBlocked, Reason: reason}
}

// KindOf extracts the ErrorKind from err, defaulting to permanent so that an
// unclassified failure never retries silently.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrPollTimeout) {
		return ErrorKindPollTimeout
	}
	if errors.Is(err, ErrJobCancelled) {
		return ErrorKindCancelled
	}
	return ErrorKindProviderPermanent
}

// IsTransient reports whether err may be retried within the same attempt.
func IsTransient(err error) bool {
	return KindOf(err) == ErrorKindProviderTransient
}
