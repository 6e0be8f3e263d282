package embedding

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/pkg/utils"
)

// HashModelID is the built-in offline encoder.
const HashModelID = "hash/embed-v1"

// Options configures encoder construction.
type Options struct {
	ModelsDir   string
	MaxTokens   int
	CacheSize   int
	Concurrency int
}

// Factory builds an encoder for a model.
type Factory func(spec ModelSpec, opts Options) (Encoder, error)

// ModelSpec describes a model the registry can build.
type ModelSpec struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Dimensions  int      `json:"dimensions"`
	// File is the model file under the models directory; empty for built-in encoders.
	File string `json:"file,omitempty"`
	// Prefix is the task instruction the model expects before each text.
	Prefix  string  `json:"prefix,omitempty"`
	Factory Factory `json:"-"`
}

// Registry maps model ids to factories and keeps one encoder instance per model.
type Registry struct {
	mu        sync.Mutex
	opts      Options
	order     []string
	specs     map[string]ModelSpec
	instances map[string]Encoder
	logger    *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options, logger *zap.Logger) *Registry {
	return &Registry{
		opts:      opts,
		specs:     make(map[string]ModelSpec),
		instances: make(map[string]Encoder),
		logger:    utils.OrNop(logger),
	}
}

// DefaultRegistry returns a registry with the built-in models registered.
func DefaultRegistry(opts Options, logger *zap.Logger) *Registry {
	r := NewRegistry(opts, logger)
	for _, spec := range builtinModels() {
		r.Register(spec)
	}
	return r
}

func builtinModels() []ModelSpec {
	return []ModelSpec{
		{
			ID:          HashModelID,
			Name:        "Hash embed v1",
			Description: "Deterministic word-hashing encoder. Runs offline with no model file.",
			Tags:        []string{"offline", "deterministic"},
			Dimensions:  384,
			Factory: func(spec ModelSpec, opts Options) (Encoder, error) {
				enc := NewHashEncoder(spec.Dimensions)
				if opts.MaxTokens > 0 {
					enc.maxTokens = opts.MaxTokens
				}
				if opts.Concurrency > 0 {
					enc.concurrency = opts.Concurrency
				}
				return enc, nil
			},
		},
		{
			ID:          "sentence-transformers/all-MiniLM-L6-v2",
			Name:        "all-MiniLM-L6-v2",
			Description: "Small general-purpose sentence encoder.",
			Tags:        []string{"onnx", "english"},
			Dimensions:  384,
			File:        "all-MiniLM-L6-v2.onnx",
			Factory:     onnxFactory,
		},
		{
			ID:          "nomic-ai/nomic-embed-text-v1.5",
			Name:        "nomic-embed-text-v1.5",
			Description: "Long-context text encoder.",
			Tags:        []string{"onnx", "long-context"},
			Dimensions:  768,
			File:        "nomic-embed-text-v1.5.onnx",
			Prefix:      "search_document: ",
			Factory:     onnxFactory,
		},
	}
}

func onnxFactory(spec ModelSpec, opts Options) (Encoder, error) {
	return NewONNXEncoder(filepath.Join(opts.ModelsDir, spec.File), spec.Prefix, spec.Dimensions, opts.MaxTokens, opts.Concurrency)
}

// Register adds or replaces a model.
func (r *Registry) Register(spec ModelSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[spec.ID]; !ok {
		r.order = append(r.order, spec.ID)
	}
	r.specs[spec.ID] = spec
}

// Lookup returns the spec for id.
func (r *Registry) Lookup(id string) (ModelSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.specs[id]
	return spec, ok
}

// Catalog returns all registered models in registration order.
func (r *Registry) Catalog() []ModelSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ModelSpec, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.specs[id])
	}
	return out
}

// Local returns the models usable on this host: built-in encoders and models whose
// file exists under the models directory.
func (r *Registry) Local() []ModelSpec {
	var out []ModelSpec
	for _, spec := range r.Catalog() {
		if spec.File == "" {
			out = append(out, spec)
			continue
		}
		if _, err := os.Stat(filepath.Join(r.opts.ModelsDir, spec.File)); err == nil {
			out = append(out, spec)
		}
	}
	return out
}

// Encoder returns the shared encoder for id, building it on first use.
func (r *Registry) Encoder(id string) (Encoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if enc, ok := r.instances[id]; ok {
		return enc, nil
	}
	spec, ok := r.specs[id]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", id)
	}
	enc, err := spec.Factory(spec, r.opts)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", id, err)
	}
	if r.opts.CacheSize > 0 {
		cached, err := NewCachedEncoder(enc, r.opts.CacheSize)
		if err != nil {
			_ = enc.Close()
			return nil, err
		}
		enc = cached
	}
	r.instances[id] = enc
	r.logger.Info("encoder loaded", zap.String("model", id), zap.Int("dimensions", enc.Dimensions()))
	return enc, nil
}

// Close closes every encoder built so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, enc := range r.instances {
		if err := enc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close model %q: %w", id, err)
		}
		delete(r.instances, id)
	}
	return firstErr
}
