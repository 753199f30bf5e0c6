package tts

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a synthesis failure for the retry policy.
type ErrorKind string

const (
	// Transient covers timeouts, throttling, and temporary provider
	// unavailability. The job runner retries these.
	Transient ErrorKind = "TRANSIENT"
	// Permanent covers invalid voices, malformed input, and authorization
	// failures. Retrying cannot help.
	Permanent ErrorKind = "PERMANENT"
)

// Error is a classified synthesis failure. The message is safe to persist
// and show to the requesting user; provider internals stay in the wrapped
// cause, which is only logged.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// SafeMessage is the user-facing message, without the wrapped cause.
func (e *Error) SafeMessage() string { return e.Message }

func newTransient(msg string, cause error) *Error {
	return &Error{Kind: Transient, Message: msg, cause: cause}
}

func newPermanent(msg string, cause error) *Error {
	return &Error{Kind: Permanent, Message: msg, cause: cause}
}

// IsTransient reports whether err is (or wraps) a transient synthesis error.
// Unclassified errors count as transient so that flaky networks get the
// benefit of the retry budget.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == Transient
	}
	return true
}

// SafeMessage extracts the persistable message from a synthesis failure. For
// unclassified errors it returns a generic message so provider internals
// never reach the user.
func SafeMessage(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	return "audio generation failed"
}

// classifyStatus maps an HTTP status from the provider to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return Transient
	case status >= http.StatusInternalServerError:
		return Transient
	case status == http.StatusBadRequest, status == http.StatusUnauthorized,
		status == http.StatusForbidden, status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity:
		return Permanent
	default:
		return Transient
	}
}
