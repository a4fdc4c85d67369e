package trace

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers. The set is closed: anything a
// handler cannot map onto one of the first three kinds is Internal.
type Kind string

const (
	KindInvalidArgument  Kind = "invalid_argument"
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindInternal         Kind = "internal"
)

// Error is a structured failure carrying a Kind. Services return *Error for
// every caller-visible failure; raw errors from stores or collaborators are
// wrapped as KindInternal before they cross a package boundary.
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

// InvalidArgumentf reports malformed or missing input.
func InvalidArgumentf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf reports a missing node or field subject.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// PermissionDeniedf reports a failed role check.
func PermissionDeniedf(format string, args ...any) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected downstream failure. The caller-visible
// message is generic; the cause stays attached for logging only.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "an unexpected error occurred", Err: err}
}

// WrapInternal passes already-structured errors through unchanged and wraps
// everything else as Internal.
func WrapInternal(err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return Internal(err)
}

// KindOf extracts the Kind from any error chain; unstructured errors
// classify as Internal.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}
