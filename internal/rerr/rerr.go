// Package rerr defines RUNE's error taxonomy (spec.md §7). Each kind wraps
// an underlying cause with errors.Is/As support via a sentinel Kind value,
// following the plain-stdlib error-wrapping style used throughout the
// pack (see DESIGN.md §internal/rerr).
package rerr

import (
	"errors"
	"fmt"
)

// Kind identifies an error category from spec.md §7.
type Kind string

const (
	KindParse         Kind = "ParseError"
	KindConfig        Kind = "ConfigError"
	KindUnsafeRule     Kind = "UnsafeRuleError"
	KindStratification Kind = "StratificationError"
	KindTimeout        Kind = "EvaluationTimeoutError"
	KindTypeMismatch   Kind = "TypeMismatchError"
	KindInvalidRequest Kind = "InvalidRequestError"
	KindInternal       Kind = "Internal"
)

// Error is RUNE's wrapped error type: a stable Kind plus a human message and
// optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, rerr.New(rerr.KindTimeout, "")).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or something it wraps) is a RUNE error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
