package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeFlat uses exact brute-force inner product search.
	IndexTypeFlat IndexType = "flat"
)

// NewIndex creates an empty index of the specified type. An empty type means flat.
func NewIndex(indexType string, dimension int) (Index, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return NewFlatIndex(dimension), nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat)", indexType)
	}
}
