package finance

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping and retry decisions.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindAlreadyExists     Kind = "already_exists"
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidInput      Kind = "invalid_input"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindExpired           Kind = "expired"
	KindInternal          Kind = "internal_error"

	// KindNetworkError is reserved for transport failures surfaced by
	// callers; nothing inside the engine produces it.
	KindNetworkError Kind = "network_error"
)

// Error is the domain error carried across service boundaries.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a domain error with a formatted message.
func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying error.
func WrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
