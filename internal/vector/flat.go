package vector

import (
	"fmt"
	"sort"
	"sync"
)

// FlatIndex is an in-memory index using brute-force inner product search.
// Vectors are kept contiguously; on unit-length input scores are cosine similarities.
type FlatIndex struct {
	dimension int
	data      []float32
	mu        sync.RWMutex
}

// NewFlatIndex creates an empty index. A dimension of 0 is fixed by the first Add.
func NewFlatIndex(dimension int) *FlatIndex {
	if dimension < 0 {
		dimension = 0
	}
	return &FlatIndex{dimension: dimension}
}

// Add appends vectors.
func (f *FlatIndex) Add(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	dim := f.dimension
	if dim == 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return fmt.Errorf("%w: empty vector", ErrDimension)
		}
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d, expected %d", ErrDimension, i, len(v), dim)
		}
	}
	f.dimension = dim
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Search returns the top-k positions by inner product.
func (f *FlatIndex) Search(query []float32, k int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := f.size()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if len(query) != f.dimension {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimension, len(query), f.dimension)
	}
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		results[i] = Result{Pos: i, Score: InnerProduct(query, f.row(i))}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > n {
		k = n
	}
	return results[:k], nil
}

// Reconstruct returns copies of count vectors starting at start.
func (f *FlatIndex) Reconstruct(start, count int) ([][]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := f.size()
	if start < 0 || count < 0 || start+count > n {
		return nil, fmt.Errorf("reconstruct range [%d, %d) out of bounds for %d vectors", start, start+count, n)
	}
	out := make([][]float32, count)
	for i := 0; i < count; i++ {
		v := make([]float32, f.dimension)
		copy(v, f.row(start+i))
		out[i] = v
	}
	return out, nil
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size()
}

// Dimension returns the vector dimension, or 0 when nothing was added yet.
func (f *FlatIndex) Dimension() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dimension
}

func (f *FlatIndex) size() int {
	if f.dimension == 0 {
		return 0
	}
	return len(f.data) / f.dimension
}

func (f *FlatIndex) row(i int) []float32 {
	return f.data[i*f.dimension : (i+1)*f.dimension]
}
