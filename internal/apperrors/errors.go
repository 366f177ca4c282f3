// Package apperrors defines the error taxonomy shared by the billing,
// balance and period packages. Callers branch on the Kind with errors.Is;
// presentation layers turn Kind plus Detail into user facing text.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable error classification.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindInconsistent Kind = "inconsistent"
)

var (
	// ErrValidation matches any validation error.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrConflict matches any conflict error.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrNotFound matches any not found error.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrInconsistent matches any arithmetic inconsistency error.
	ErrInconsistent = &Error{Kind: KindInconsistent}
)

// Error carries a Kind, a detail string and, for batch failures, the
// subjects that caused it.
type Error struct {
	Kind     Kind
	Detail   string
	Subjects []string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Subjects) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Subjects, ", "))
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Is matches on Kind so that errors.Is(err, ErrConflict) works for any
// conflict regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Unwrap() error { return e.Cause }

// Validation builds a validation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Detail: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict error.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Detail: fmt.Sprintf(format, args...)}
}

// NotFound builds a not found error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

// Inconsistent builds an arithmetic inconsistency error listing every
// offending subject so the whole dataset can be fixed at once.
func Inconsistent(detail string, subjects []string) error {
	return &Error{Kind: KindInconsistent, Detail: detail, Subjects: subjects}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, detail string, cause error) error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf returns the Kind of err or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SubjectsOf returns the offending subjects carried by err, if any.
func SubjectsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Subjects
	}
	return nil
}

func IsValidation(err error) bool   { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool     { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool     { return errors.Is(err, ErrNotFound) }
func IsInconsistent(err error) bool { return errors.Is(err, ErrInconsistent) }
