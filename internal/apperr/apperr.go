// Package apperr carries the error taxonomy shared by the grading engine
// services and mapped to HTTP statuses at the handler boundary.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindValidation marks malformed or out-of-range input.
	KindValidation Kind = iota + 1
	// KindAuthorization marks a caller without entitlement for the class or submission.
	KindAuthorization
	// KindNotFound marks a referenced entity that is missing or not current.
	KindNotFound
	// KindConflict marks duplicate attempt numbers and sync collisions.
	KindConflict
	// KindIntegrity marks a sync partial failure leaving inconsistent state.
	KindIntegrity
)

// Error is a classified engine error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a classified error with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from an error chain, or 0 when the
// error is unclassified.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return 0
}

// Is reports whether the error chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
