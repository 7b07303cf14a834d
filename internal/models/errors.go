package models

import (
	"errors"
	"fmt"
)

// ErrorKind names an entry of the error taxonomy reported to callers.
type ErrorKind string

const (
	KindLoadFailure       ErrorKind = "load_failure"
	KindEmptyInput        ErrorKind = "empty_input"
	KindInvalidArgument   ErrorKind = "invalid_argument"
	KindDimensionMismatch ErrorKind = "dimension_mismatch"
	KindPersistence       ErrorKind = "persistence_failure"
	KindInternal          ErrorKind = "internal"
)

var (
	ErrLoadFailure       = errors.New("load failure")
	ErrEmptyInput        = errors.New("empty input")
	ErrEmptyQuery        = fmt.Errorf("%w: query cannot be empty", ErrEmptyInput)
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrPersistence       = errors.New("persistence failure")
)

// LoadError reports a locator that could not be loaded.
type LoadError struct {
	Locator string
	Cause   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %q: %v", e.Locator, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *LoadError) Unwrap() []error {
	return []error{ErrLoadFailure, e.Cause}
}

// DimensionError reports a vector whose length disagrees with the fixed dimension.
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: index has %d, vector has %d", e.Want, e.Got)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }

// PersistenceError reports a failed read or write of on-disk index state.
type PersistenceError struct {
	Op    string
	Path  string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Cause}
}

// InvalidArgument wraps ErrInvalidArgument with a formatted message.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// KindOf classifies err. Nil maps to "".
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLoadFailure):
		return KindLoadFailure
	case errors.Is(err, ErrEmptyInput):
		return KindEmptyInput
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindInternal
	}
}
