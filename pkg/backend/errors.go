package backend

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by backends and the fetchers built on them.
var (
	// ErrRetryExhausted is wrapped by the FatalError returned when all attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrSessionClosed is returned when fetching on a session that is not open.
	ErrSessionClosed = errors.New("session is not open")

	// ErrThrottled is returned when the shared throttle budget refuses a request.
	ErrThrottled = errors.New("request refused by backend throttle")

	// ErrMalformedResponse is returned when a backend payload cannot be decoded.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// ErrorClass classifies backend failures for retry decisions and observability.
type ErrorClass string

const (
	// ClassNetwork represents connection-level failures.
	ClassNetwork ErrorClass = "network"

	// ClassTimeout represents a request that hit the per-attempt timeout.
	ClassTimeout ErrorClass = "timeout"

	// ClassRateLimit represents backend or local throttling.
	ClassRateLimit ErrorClass = "rate_limit"

	// ClassServer represents 5xx backend errors.
	ClassServer ErrorClass = "server"

	// ClassClient represents non-retryable 4xx errors such as an unknown field.
	ClassClient ErrorClass = "client"

	// ClassAuth represents rejected credentials.
	ClassAuth ErrorClass = "auth"

	// ClassSession represents use of a session that is not open.
	ClassSession ErrorClass = "session"

	// ClassProtocol represents an undecodable backend payload.
	ClassProtocol ErrorClass = "protocol"

	// ClassExhausted marks a transient failure that used up the retry budget.
	ClassExhausted ErrorClass = "exhausted"

	// ClassCancelled marks a fetch abandoned because its context ended.
	ClassCancelled ErrorClass = "cancelled"

	// ClassWorker marks a failure of an isolated worker process itself.
	ClassWorker ErrorClass = "worker"
)

// TransientError is a backend failure that may succeed on retry.
type TransientError struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return formatError("transient", e.Class, e.StatusCode, e.Message, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError is a failure that must not be retried: either the backend rejected
// the request outright or the retry budget ran out.
type FatalError struct {
	Class      ErrorClass
	StatusCode int
	Attempts   int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return formatError("fatal", e.Class, e.StatusCode, e.Message, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FatalError) Unwrap() error {
	return e.Err
}

func formatError(kind string, class ErrorClass, status int, msg string, err error) string {
	head := fmt.Sprintf("%s %s error", kind, class)
	if status > 0 {
		head = fmt.Sprintf("%s (status %d)", head, status)
	}
	switch {
	case msg != "" && err != nil:
		return fmt.Sprintf("%s: %s: %v", head, msg, err)
	case msg != "":
		return fmt.Sprintf("%s: %s", head, msg)
	case err != nil:
		return fmt.Sprintf("%s: %v", head, err)
	default:
		return head
	}
}

// Exhausted builds the FatalError returned after attempts consecutive transient failures.
func Exhausted(attempts int, last error) *FatalError {
	return &FatalError{
		Class:    ClassExhausted,
		Attempts: attempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, last),
	}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsTransient reports whether err is a TransientError that has not been
// escalated to a FatalError.
func IsTransient(err error) bool {
	if IsFatal(err) {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// Retryable reports whether another attempt could succeed. Unclassified errors
// are treated as transient; fatal errors and context errors are not.
func Retryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return IsTransient(err)
	}
	return true
}

// ClassOf returns the outermost error class in err's chain, or "" if unclassified.
func ClassOf(err error) ErrorClass {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe.Class
	}
	var te *TransientError
	if errors.As(err, &te) {
		return te.Class
	}
	return ""
}

// shouldRetry reports whether a class describes a retryable condition.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ClassNetwork, ClassTimeout, ClassRateLimit, ClassServer:
		return true
	default:
		return false
	}
}

// classified wraps err as transient or fatal according to class.
func classified(class ErrorClass, status int, msg string, err error) error {
	if shouldRetry(class) {
		return &TransientError{Class: class, StatusCode: status, Message: msg, Err: err}
	}
	return &FatalError{Class: class, StatusCode: status, Message: msg, Err: err}
}
