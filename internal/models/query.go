package models

import (
	"errors"
	"fmt"
)

const (
	defaultK = 5
	maxK     = 100
)

// SearchRequest asks for the nearest entries to a query.
type SearchRequest struct {
	Store string `json:"store"`
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Validate checks required fields and normalizes k.
func (r *SearchRequest) Validate() error {
	if r.Store == "" {
		return errors.New("store is required")
	}
	if r.Query == "" {
		return errors.New("query cannot be empty")
	}
	r.K = clampK(r.K)
	return nil
}

// GraphSearchRequest asks for a path between two texts through a store's graph.
type GraphSearchRequest struct {
	Store string `json:"store"`
	Start string `json:"start"`
	End   string `json:"end"`
	K     int    `json:"k,omitempty"`
}

// Validate checks required fields and normalizes k.
func (r *GraphSearchRequest) Validate() error {
	if r.Store == "" {
		return errors.New("store is required")
	}
	if r.Start == "" || r.End == "" {
		return errors.New("start and end are required")
	}
	r.K = clampK(r.K)
	return nil
}

// InterpolateRequest asks for hits at evenly spaced points between two sentences.
type InterpolateRequest struct {
	Store     string `json:"store"`
	SentenceA string `json:"sentence_a"`
	SentenceB string `json:"sentence_b"`
	Steps     int    `json:"steps,omitempty"`
	K         int    `json:"k,omitempty"`
}

// Validate checks required fields and normalizes steps and k.
func (r *InterpolateRequest) Validate() error {
	if r.Store == "" {
		return errors.New("store is required")
	}
	if r.SentenceA == "" || r.SentenceB == "" {
		return errors.New("sentence_a and sentence_b are required")
	}
	if r.Steps <= 0 {
		r.Steps = 5
	}
	if r.Steps > 50 {
		return fmt.Errorf("steps must be at most 50, got %d", r.Steps)
	}
	r.K = clampK(r.K)
	return nil
}

// CreateStoreRequest creates an empty store bound to a model.
type CreateStoreRequest struct {
	Name  string `json:"name"`
	Model string `json:"model,omitempty"`
}

// AddTextsRequest adds texts synchronously.
type AddTextsRequest struct {
	Store     string   `json:"store"`
	Texts     []string `json:"texts"`
	Text      string   `json:"text,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"`
}

// AllTexts returns Texts plus Text when set.
func (r *AddTextsRequest) AllTexts() []string {
	if r.Text == "" {
		return r.Texts
	}
	return append(append([]string(nil), r.Texts...), r.Text)
}

// Validate checks required fields.
func (r *AddTextsRequest) Validate() error {
	if r.Store == "" {
		return errors.New("store is required")
	}
	if len(r.AllTexts()) == 0 {
		return errors.New("no texts given")
	}
	return nil
}

// DeleteTextRequest removes one entry by id.
type DeleteTextRequest struct {
	Store string `json:"store"`
	ID    string `json:"id"`
}

// BuildGraphRequest schedules a graph build. Zero values take configured defaults.
type BuildGraphRequest struct {
	Store          string `json:"store"`
	K              int    `json:"k,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
	M              int    `json:"m,omitempty"`
}

// JobAccepted is returned when work was queued.
type JobAccepted struct {
	JobID string `json:"job_id"`
}

func clampK(k int) int {
	if k <= 0 {
		return defaultK
	}
	if k > maxK {
		return maxK
	}
	return k
}
