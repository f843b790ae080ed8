package core

import "errors"

// Rejection classes. Every error returned by a ledger operation wraps exactly
// one of these, so callers classify with errors.Is.
var (
	// ErrNotFound is returned when a requested object does not exist in storage.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a duplicate participation.
	ErrConflict = errors.New("conflict")
	// ErrState marks an operation not allowed in the record's current state.
	ErrState = errors.New("invalid state")
)

// Classify names the rejection class err belongs to, or "internal" for
// anything outside the taxonomy. A nil error classifies as "ok".
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrState):
		return "state"
	default:
		return "internal"
	}
}
