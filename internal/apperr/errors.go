package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can branch on the outcome instead of the message.
type Kind int

const (
	// KindInternal is an infrastructure failure (datastore, broker, cache).
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindInsufficientStock
	KindInvalidPickupTime
	KindInvalidTransition
	KindCancellationWindowExpired
	KindReasonRequired
	KindNotEligible
	KindDuplicateReview
)

var kindNames = map[Kind]string{
	KindInternal:                  "INTERNAL",
	KindValidation:                "VALIDATION",
	KindNotFound:                  "NOT_FOUND",
	KindForbidden:                 "FORBIDDEN",
	KindInsufficientStock:         "INSUFFICIENT_STOCK",
	KindInvalidPickupTime:         "INVALID_PICKUP_TIME",
	KindInvalidTransition:         "INVALID_TRANSITION",
	KindCancellationWindowExpired: "CANCELLATION_WINDOW_EXPIRED",
	KindReasonRequired:            "REASON_REQUIRED",
	KindNotEligible:               "NOT_ELIGIBLE",
	KindDuplicateReview:           "DUPLICATE_REVIEW",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND_%d", int(k))
}

// Error is a classified error with context
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New creates a classified error without a cause
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. A nil cause yields a plain classified error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Internal wraps an infrastructure failure
func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Transient reports whether the caller may retry the same operation later.
// Insufficient stock can clear when another hold is cancelled.
func (e *Error) Transient() bool {
	return e.Kind == KindInternal || e.Kind == KindInsufficientStock
}

// Sentinels for errors.Is comparisons.
var (
	ErrInternal                  = New(KindInternal, "internal error")
	ErrValidation                = New(KindValidation, "validation failed")
	ErrNotFound                  = New(KindNotFound, "not found")
	ErrForbidden                 = New(KindForbidden, "forbidden")
	ErrInsufficientStock         = New(KindInsufficientStock, "insufficient stock")
	ErrInvalidPickupTime         = New(KindInvalidPickupTime, "pickup time must be in the future")
	ErrInvalidTransition         = New(KindInvalidTransition, "reservation is already in a terminal state")
	ErrCancellationWindowExpired = New(KindCancellationWindowExpired, "cancellation window has expired")
	ErrReasonRequired            = New(KindReasonRequired, "cancellation reason is required")
	ErrNotEligible               = New(KindNotEligible, "reservation is not eligible for review")
	ErrDuplicateReview           = New(KindDuplicateReview, "reservation already has a review")
)

// KindOf returns the kind of err. Unclassified errors are infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether err may succeed on retry
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient()
	}
	return true
}
