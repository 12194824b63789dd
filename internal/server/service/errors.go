package service

import (
	"errors"
	"fmt"

	"labdrop/internal/server/docstore"
)

// Sentinel errors for the service layer. Every typed error below matches
// exactly one of them through errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication failed")
	ErrStorage    = errors.New("storage failure")
	ErrNotFound   = errors.New("not found")
	ErrImport     = errors.New("legacy import failed")

	// ErrConflict is raised by the document store for unreadable collections.
	ErrConflict = docstore.ErrConflict
)

// ValidationError is a user-facing rejection of bad input.
type ValidationError struct {
	Field string
	Cause string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Cause
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Cause)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Cause: fmt.Sprintf(format, args...)}
}

// AuthError is deliberately undifferentiated: callers cannot tell an unknown
// user from a wrong password or an expired session.
type AuthError struct{}

func (e *AuthError) Error() string { return "invalid credentials or session" }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

// StorageError is an I/O failure that aborted an operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NotFoundError reports an id that does not resolve.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ImportFailure distinguishes the fatal legacy import outcomes.
type ImportFailure int

const (
	ParseFailure ImportFailure = iota + 1
	PersistFailure
)

func (f ImportFailure) String() string {
	switch f {
	case ParseFailure:
		return "parse failure"
	case PersistFailure:
		return "persist failure"
	}
	return "unknown failure"
}

// ImportError aborts a legacy import. Per-entry problems are not errors;
// they are collected in the report instead.
type ImportError struct {
	Kind ImportFailure
	Path string
	Err  error
}

func (e *ImportError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("legacy import %s (%s): %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("legacy import %s: %v", e.Kind, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

func (e *ImportError) Is(target error) bool { return target == ErrImport }

// storageFailure wraps a document store or blob error as a StorageError
// unless it already carries a classification of its own.
func storageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrValidation, ErrAuth, ErrStorage, ErrNotFound, ErrConflict} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &StorageError{Op: op, Err: err}
}
