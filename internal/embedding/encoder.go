// Package embedding turns text into fixed-dimension vectors. Encoders are looked up
// by model id through a Registry.
package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Encoder produces vector embeddings for text.
type Encoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// embedEach embeds texts one by one with at most limit calls in flight.
// Returns nil (not error) for empty input.
func embedEach(ctx context.Context, texts []string, limit int, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = 1
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, text := range texts {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			vec, err := embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
