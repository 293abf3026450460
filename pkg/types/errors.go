package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at component boundaries. The dispatcher maps
// kinds onto HTTP status codes at the API edge.
type ErrorKind string

const (
	ErrBadInput    ErrorKind = "bad-input"   // schema violation or malformed request
	ErrNotFound    ErrorKind = "not-found"   // entity missing
	ErrForbidden   ErrorKind = "forbidden"   // caller lacks authority
	ErrConflict    ErrorKind = "conflict"    // slug collision, concurrent modification
	ErrInUse       ErrorKind = "in-use"      // delete of a referenced master-data item
	ErrUnavailable ErrorKind = "unavailable" // target not in the required state
	ErrTimeout     ErrorKind = "timeout"     // deadline exceeded
	ErrOverloaded  ErrorKind = "overloaded"  // per-agent concurrency cap hit
	ErrExternal    ErrorKind = "external"    // downstream returned non-2xx or malformed body
	ErrInternal    ErrorKind = "internal"    // invariant violation in the core
)

// Error is the structured error surfaced across component boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an Error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying error.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the error kind, defaulting to internal for plain errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
