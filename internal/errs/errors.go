// Package errs defines the typed error taxonomy shared by every engine
// component.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories named in the error handling
// design: each is raised at a well-defined boundary and propagates as a
// typed failure rather than an opaque string.
type Kind string

const (
	KindModelUnavailable   Kind = "ModelUnavailable"
	KindEncodeFailed       Kind = "EncodeFailed"
	KindDimensionMismatch  Kind = "DimensionMismatch"
	KindCollectionNotFound Kind = "CollectionNotFound"
	KindNotFound           Kind = "NotFound"
	KindInvalidPredicate   Kind = "InvalidPredicate"
	KindCorruptIndex       Kind = "CorruptIndex"
	KindTaskNotFound       Kind = "TaskNotFound"
	KindCancelled          Kind = "Cancelled"
	KindInvalidArgument    Kind = "InvalidArgument"
)

// Error wraps an underlying error with a Kind and the operation that raised
// it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("semsearch: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("semsearch: %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, target) match when target is also an *Error with
// the same Kind, or when the wrapped error matches target directly.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return errors.Is(e.Err, target)
}

// New builds a Kind-tagged error.
func New(kind Kind, op string, err error) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a Kind-tagged error from a format string.
func Newf(kind Kind, op, format string, args ...any) error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinels usable directly with errors.Is for the common zero-context cases.
var (
	ErrCollectionNotFound = New(KindCollectionNotFound, "", errors.New("collection not found"))
	ErrNotFound           = New(KindNotFound, "", errors.New("not found"))
	ErrTaskNotFound       = New(KindTaskNotFound, "", errors.New("task not found"))
	ErrCancelled          = New(KindCancelled, "", errors.New("cancelled"))
)
