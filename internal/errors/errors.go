package errors

import (
	stderrors "errors"
	"fmt"
)

var ErrUnauthorized = stderrors.New("user is not authorized")
var ErrForbidden = stderrors.New("operation is forbidden for user")

// Kind classifies an error for callers: handlers map it to an HTTP status,
// services use it to decide whether a retry makes sense.
type Kind int

const (
	Internal Kind = iota
	InvalidArgument
	NotFound
	ResourceExhausted
	FailedPrecondition
	PermissionDenied
	Unauthenticated
	PaymentIntegrityAnomaly
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case ResourceExhausted:
		return "resource_exhausted"
	case FailedPrecondition:
		return "failed_precondition"
	case PermissionDenied:
		return "permission_denied"
	case Unauthenticated:
		return "unauthenticated"
	case PaymentIntegrityAnomaly:
		return "payment_integrity_anomaly"
	default:
		return "internal"
	}
}

// Error is the typed error returned by services.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new typed error.
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and a message to err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost typed error in the chain,
// Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	if stderrors.Is(err, ErrUnauthorized) {
		return Unauthenticated
	}
	if stderrors.Is(err, ErrForbidden) {
		return PermissionDenied
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Message returns the message of the outermost typed error, which is safe
// to show to API clients. Untyped errors yield a generic text.
func Message(err error) string {
	var e *Error
	if stderrors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
