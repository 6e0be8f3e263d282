package vector

import "github.com/hyperjump/vecstore/pkg/utils"

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
// Vectors of different lengths score 0.
func InnerProduct(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return utils.Dot(a, b)
}
