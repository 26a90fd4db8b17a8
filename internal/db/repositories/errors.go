// Package repositories implements the data access layer for accounts,
// elevation requests and the audit log. Each repository owns every query for
// its table; services never issue SQL directly.
package repositories

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate is returned when an insert or update violates a unique index.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotPending is returned by Approve when the request was already used,
	// has expired, or does not exist at the moment of the conditional update.
	ErrNotPending = errors.New("elevation request is not pending")
)

// DuplicateError names the field behind a unique violation.
type DuplicateError struct {
	Field      string
	Constraint string
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return ErrDuplicate.Error()
	}
	return e.Field + " already in use"
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

const uniqueViolation = "23505"

// translateError converts a Postgres unique violation into a DuplicateError
// and passes every other error through unchanged.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return &DuplicateError{Field: fieldForConstraint(pqErr.Constraint), Constraint: pqErr.Constraint}
	}
	return err
}

func fieldForConstraint(constraint string) string {
	switch {
	case strings.Contains(constraint, "username"):
		return "username"
	case strings.Contains(constraint, "email"):
		return "email"
	case strings.Contains(constraint, "employee"):
		return "employeeId"
	case strings.Contains(constraint, "token"):
		return "token"
	}
	return ""
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
