package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the item was deleted or never existed.
	ErrNotFound = errors.New("item not found")
	// ErrVersionConflict indicates a stale expected version: the item was
	// mutated since the caller last observed it.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidRank indicates a move target rank outside [0, bucket size].
	ErrInvalidRank = errors.New("invalid rank")
	// ErrDuplicateRequest indicates the idempotency key was already seen and
	// the first attempt is still in flight, so no prior result can be
	// replayed yet. Callers treat it as success without double effect.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrTransportUnavailable indicates the idempotency guard or change feed
	// backing store is unreachable. Mutations are rejected rather than
	// applied unguarded.
	ErrTransportUnavailable = errors.New("transport unavailable")
)

// ValidationError rejects bad caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
