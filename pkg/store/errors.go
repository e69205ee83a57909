package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by store operations. Callers branch on these with
// errors.Is; anything else is an infrastructure failure.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoWorkAvailable indicates a claim found nothing to lease.
	ErrNoWorkAvailable = errors.New("no work available")

	// ErrTerminalStatus indicates a write targeted a run whose status is
	// terminal (completed, error, archived).
	ErrTerminalStatus = errors.New("run status is terminal")

	// ErrStageMismatch indicates an illegal stage transition was requested.
	ErrStageMismatch = errors.New("illegal stage transition")

	// ErrInvalidStatus indicates an unknown or disallowed status value.
	ErrInvalidStatus = errors.New("invalid status transition")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. Duplicate inserts are absorbed as no-ops, which is what makes
// worker retries safe.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
