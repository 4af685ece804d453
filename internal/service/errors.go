package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/ea-license-service/internal/model"
)

var (
	// ErrNotFound means no license matched the id or (login, server).
	ErrNotFound = errors.New("license not found")
	// ErrConflict means an active or in-flight license already exists.
	ErrConflict = errors.New("license already registered")
	// ErrNotAffiliated means the email is not registered under the partner
	// account.  It is a business rejection, not a validation failure.
	ErrNotAffiliated = errors.New("email is not affiliated with the partner account")
	// ErrUnauthorized means a missing or wrong shared secret.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSyncInProgress means another reconciliation run holds the lock.
	ErrSyncInProgress = errors.New("affiliate sync already running")
)

// ValidationError describes malformed or missing input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ConflictError reports the status of the license that blocks a new
// submission.
type ConflictError struct {
	Existing model.Status
}

func (e *ConflictError) Error() string {
	if e.Existing == "" {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s with status %q", ErrConflict.Error(), e.Existing)
}
func (e *ConflictError) Unwrap() error { return ErrConflict }

// StorageError wraps a database failure with the operation that failed.
// Its message is for logs only; handlers answer with a generic text.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage: " + e.Op + ": " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error { return &StorageError{Op: op, Err: err} }
