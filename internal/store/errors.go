package store

import (
	"errors"
	"fmt"

	"github.com/hyperjump/vecstore/internal/graph"
)

var (
	// ErrNotFound is returned for unknown stores.
	ErrNotFound = errors.New("store not found")
	// ErrEmptyIndex is returned by operations that need at least one vector.
	ErrEmptyIndex = errors.New("no embeddings indexed yet")
	// ErrNoPath is returned when graph endpoints are in different components.
	ErrNoPath = graph.ErrNoPath
)

// ValidationError reports bad input such as an invalid store name or unknown model.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConsistencyError means the index holds more vectors than the log holds entries.
// It cannot be repaired automatically.
type ConsistencyError struct {
	Store   string
	Entries int
	Vectors int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inconsistent store %q: index has %d vectors but only %d entries; manual repair required",
		e.Store, e.Vectors, e.Entries)
}

// DimensionMismatchError means an encoder produced vectors of the wrong size for the store.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("index dimension %d != embedding dimension %d", e.Expected, e.Actual)
}
