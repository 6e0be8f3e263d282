package store

import (
	"context"

	"github.com/hyperjump/vecstore/internal/models"
	"github.com/hyperjump/vecstore/pkg/utils"
)

// Interpolate walks steps evenly spaced points from a to b in embedding space,
// both ends included, and returns the k nearest entries at each point.
func (s *Store) Interpolate(ctx context.Context, a, b string, steps, k int) (models.InterpolationResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := models.InterpolationResponse{Interpolations: make([]models.InterpolationStep, 0, steps)}
	if s.index.Size() == 0 {
		return resp, ErrEmptyIndex
	}
	if steps < 1 {
		steps = 1
	}
	ends, err := s.embed(ctx, []string{a, b})
	if err != nil {
		return resp, err
	}
	for i := 0; i < steps; i++ {
		var t float32
		if steps > 1 {
			t = float32(i) / float32(steps-1)
		}
		q := utils.Lerp(ends[0], ends[1], t)
		utils.NormalizeL2(q)
		hits, err := s.hitsFor(q, k)
		if err != nil {
			return resp, err
		}
		resp.Interpolations = append(resp.Interpolations, models.InterpolationStep{Step: i, Results: hits})
	}
	return resp, nil
}
