// Package errors provides structured error types for the policy agent.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout      = errors.New("operation timed out")
	ErrAuthFailure  = errors.New("authentication failed")
	ErrRateLimit    = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
	ErrProvider     = errors.New("completion provider failure")
	ErrGateway      = errors.New("repository host failure")
	ErrParse        = errors.New("unstructured text could not be parsed")
)

// Kind classifies an Error.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindNotFound
	KindProvider
	KindGateway
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindProvider:
		return "provider"
	case KindGateway:
		return "gateway"
	case KindParse:
		return "parse"
	}
	return "unknown"
}

// sentinel maps a kind onto the sentinel matched by errors.Is.
func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrInvalidInput
	case KindAuthentication:
		return ErrAuthFailure
	case KindNotFound:
		return ErrNotFound
	case KindProvider:
		return ErrProvider
	case KindGateway:
		return ErrGateway
	case KindParse:
		return ErrParse
	}
	return nil
}

// Error is a classified failure. Op names the operation that failed,
// e.g. "github.UpsertFile".
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match a KindNotFound error, and so on.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Validation returns a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Authentication returns a KindAuthentication error.
func Authentication(op string, err error) *Error {
	return &Error{Kind: KindAuthentication, Op: op, Message: "authentication failed", Err: err}
}

// NotFound returns a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Provider wraps a completion-provider failure.
func Provider(op string, err error) *Error {
	return &Error{Kind: KindProvider, Op: op, Err: err}
}

// Gateway wraps a repository-host failure.
func Gateway(op string, err error) *Error {
	return &Error{Kind: KindGateway, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable)
}
