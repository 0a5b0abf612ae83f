package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Tx accessors for missing records.
	ErrNotFound = errors.New("not found")

	// ErrRangeExhausted: the serial allocator cannot produce the requested
	// count inside the managed range. Nothing is allocated.
	ErrRangeExhausted = errors.New("serial range exhausted")
)

// ValidationError rejects an operation before any mutation. For checkout it
// names the first line item that fell short.
type ValidationError struct {
	Reason    string
	LineIndex int
	ProductID string
	Requested int
	Available int
}

func (e *ValidationError) Error() string {
	if e.ProductID != "" {
		return fmt.Sprintf("%s: line %d product %s requested %d available %d",
			e.Reason, e.LineIndex, e.ProductID, e.Requested, e.Available)
	}
	return e.Reason
}

// StateConflictError rejects a transition attempted from an incompatible
// state. The target entity is left untouched.
type StateConflictError struct {
	Entity    string
	ID        string
	From      string
	Attempted string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s: cannot apply %q from state %q", e.Entity, e.ID, e.Attempted, e.From)
}
