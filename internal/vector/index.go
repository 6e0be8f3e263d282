// Package vector provides an exact inner-product vector index addressed by position.
package vector

import "errors"

// Index stores vectors in insertion order. Position i is the i-th vector ever added.
type Index interface {
	// Add appends vectors. The first call fixes the dimension.
	Add(vectors [][]float32) error
	// Search returns up to k positions ranked by descending inner product.
	Search(query []float32, k int) ([]Result, error)
	// Reconstruct returns copies of count vectors starting at position start.
	Reconstruct(start, count int) ([][]float32, error)
	Size() int
	Dimension() int
	Save(path string) error
}

// Result is a single search hit.
type Result struct {
	Pos   int
	Score float32
}

// ErrDimension is returned when a vector does not match the index dimension.
var ErrDimension = errors.New("vector dimension mismatch")
