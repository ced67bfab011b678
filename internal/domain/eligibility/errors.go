package eligibility

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks incomplete or malformed client input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing patient or an empty check history.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a duplicate unique key in a store.
	ErrConflict = errors.New("conflict")
	// ErrStorage marks any persistence failure surfaced by the service.
	ErrStorage = errors.New("storage failure")
)

// ValidationError lists the request fields that were missing or malformed.
type ValidationError struct {
	Missing []string
	Invalid []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid date fields: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
