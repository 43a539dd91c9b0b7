package listing

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a page task failed.
type ErrorKind string

// Failure kinds surfaced on Outcome.Err.
const (
	ErrTimeout          ErrorKind = "timeout"
	ErrChallengeTimeout ErrorKind = "challenge_timeout"
	ErrExtractionFault  ErrorKind = "extraction_fault"
	ErrSessionFault     ErrorKind = "session_fault"
)

// PageError is the failure cause attached to an Outcome.
type PageError struct {
	Kind  ErrorKind `json:"kind"`
	Cause string    `json:"cause"`
	err   error
}

// NewPageError wraps err with a kind. The cause string is taken from err.
func NewPageError(kind ErrorKind, err error) *PageError {
	cause := ""
	if err != nil {
		cause = err.Error()
	}
	return &PageError{Kind: kind, Cause: cause, err: err}
}

// Error implements error.
func (e *PageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

// Unwrap exposes the underlying cause.
func (e *PageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Classify maps an arbitrary error onto a PageError. Errors that already carry a
// kind keep it; deadline errors become timeouts; everything else is a session fault.
func Classify(err error) *PageError {
	if err == nil {
		return nil
	}
	var pageErr *PageError
	if errors.As(err, &pageErr) {
		return pageErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewPageError(ErrTimeout, err)
	}
	return NewPageError(ErrSessionFault, err)
}
