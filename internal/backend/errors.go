package backend

import (
	"errors"
	"fmt"
	"net/http"

	"p3am/pkg/platform/sentinel"
)

// ErrorCategory is the normalized failure taxonomy for backend calls.
type ErrorCategory string

const (
	// CategoryRejected: the backend answered with a non-2xx status.
	CategoryRejected ErrorCategory = "rejected"

	// CategoryUnauthorized: the backend answered 401 to an authenticated call.
	CategoryUnauthorized ErrorCategory = "unauthorized"

	// CategoryTransport: the request never got a response (DNS, connect, reset, timeout).
	CategoryTransport ErrorCategory = "transport"

	// CategoryBadData: a 2xx response whose body could not be decoded.
	CategoryBadData ErrorCategory = "bad_data"
)

// ErrUnauthorized matches any *Error in CategoryUnauthorized via errors.Is.
var ErrUnauthorized = errors.New("backend: unauthorized")

// Error wraps backend failures with a normalized category. Message is the
// backend's own human readable message when it sent one.
type Error struct {
	Category   ErrorCategory
	Call       string
	Status     int
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("backend %s [%s]: %s: %v", e.Call, e.Category, e.Message, e.Underlying)
	}
	if e.Status != 0 {
		return fmt.Sprintf("backend %s [%s] status %d: %s", e.Call, e.Category, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s [%s]: %s", e.Call, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is lets callers test categories with errors.Is(err, ErrUnauthorized) and
// transport failures with errors.Is(err, sentinel.ErrUnavailable).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Category == CategoryUnauthorized
	case sentinel.ErrUnavailable:
		return e.Category == CategoryTransport
	}
	return false
}

func newError(category ErrorCategory, call string, status int, message string, underlying error) *Error {
	return &Error{
		Category:   category,
		Call:       call,
		Status:     status,
		Message:    message,
		Underlying: underlying,
	}
}

func rejectedError(call string, status int, message string) *Error {
	category := CategoryRejected
	if status == http.StatusUnauthorized {
		category = CategoryUnauthorized
	}
	return newError(category, call, status, message, nil)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable)
}

// MessageOf returns the backend-provided message, or "" when err is not a
// backend error or carried no message.
func MessageOf(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Category != CategoryTransport {
		return be.Message
	}
	return ""
}

// CategoryOf extracts the error category; unknown errors report transport.
func CategoryOf(err error) ErrorCategory {
	var be *Error
	if errors.As(err, &be) {
		return be.Category
	}
	return CategoryTransport
}
