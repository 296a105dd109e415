package domain

import "fmt"

// Error types for consistent error handling across the backend.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrStorageUnavailable indicates the backing document store could not be
// reached for a read or write. Callers must propagate it rather than
// fabricate a partial or default result.
type ErrStorageUnavailable struct {
	Op  string
	Err error
}

func (e *ErrStorageUnavailable) Error() string {
	return fmt.Sprintf("storage unavailable [%s]: %v", e.Op, e.Err)
}

func (e *ErrStorageUnavailable) Unwrap() error {
	return e.Err
}

// ErrAllocationConflict indicates a freshly allocated canonical identifier
// unexpectedly already exists in the user collection.
type ErrAllocationConflict struct {
	CanonicalID string
}

func (e *ErrAllocationConflict) Error() string {
	return fmt.Sprintf("canonical id already in use: %s", e.CanonicalID)
}

// ErrMigrationInProgress indicates a migration run is already executing.
type ErrMigrationInProgress struct{}

func (e *ErrMigrationInProgress) Error() string {
	return "a migration run is already in progress"
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrForbidden indicates the caller lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrConflict indicates a resource already exists.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}
