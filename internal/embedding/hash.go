package embedding

import (
	"context"

	"github.com/hyperjump/vecstore/pkg/utils"
)

// HashEncoder is a deterministic, offline encoder. Each word is hashed into a signed
// bucket so texts sharing words land close together; the same text always gets the
// same embedding.
type HashEncoder struct {
	dimensions  int
	maxTokens   int
	concurrency int
}

// NewHashEncoder returns an encoder that produces deterministic embeddings of the given dimensions.
func NewHashEncoder(dimensions int) *HashEncoder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEncoder{dimensions: dimensions, maxTokens: 512, concurrency: 4}
}

// Embed returns a unit-length embedding for text.
func (e *HashEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = 0.01
	}
	words := splitWords(text)
	if len(words) > e.maxTokens {
		words = words[:e.maxTokens]
	}
	dims := uint64(e.dimensions)
	for _, w := range words {
		h := wordHash(w)
		bucket := h % dims
		if (h/dims)%2 == 0 {
			emb[bucket] += 1
		} else {
			emb[bucket] -= 1
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch embeds texts concurrently.
func (e *HashEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.concurrency, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *HashEncoder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEncoder) Close() error {
	return nil
}
