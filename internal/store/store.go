// Package store implements named collections of text entries with an aligned vector
// index, incremental ingestion, reconciliation and graph traversal.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/vecstore/internal/embedding"
	"github.com/hyperjump/vecstore/internal/entrylog"
	"github.com/hyperjump/vecstore/internal/graph"
	"github.com/hyperjump/vecstore/internal/keyword"
	"github.com/hyperjump/vecstore/internal/models"
	"github.com/hyperjump/vecstore/internal/storage"
	"github.com/hyperjump/vecstore/internal/vector"
	"github.com/hyperjump/vecstore/pkg/utils"
)

const (
	metaFile    = "meta.json"
	entriesFile = "entries.jsonl"
	indexFile   = "index.bin"
	graphFile   = "graph.bin"
	keywordDir  = "keyword.bleve"

	defaultBatchSize = 64
)

// Store is one named collection. Mutations hold the write lock for their whole
// duration; searches hold the read lock.
type Store struct {
	dir     string
	meta    models.StoreMeta
	encoder embedding.Encoder
	log     *entrylog.Log
	index   vector.Index
	keyword *keyword.EntryIndex
	logger  *zap.Logger

	graphParams graph.Params
	builds      *singleflight.Group

	mu        sync.RWMutex
	destroyed bool
	graphMu   sync.Mutex
	graph     *graph.Graph
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = utils.OrNop(l)
	}
}

// WithGraphParams sets the parameters used when a graph is built lazily.
func WithGraphParams(p graph.Params) Option {
	return func(s *Store) {
		s.graphParams = p
	}
}

// withBuildGroup shares a single-build guard between stores of one manager.
func withBuildGroup(g *singleflight.Group) Option {
	return func(s *Store) {
		s.builds = g
	}
}

// Create initializes an empty store in dir bound to the encoder's model.
func Create(dir string, meta models.StoreMeta, enc embedding.Encoder, opts ...Option) (*Store, error) {
	meta.Dimension = 0
	if meta.IndexType == "" {
		meta.IndexType = string(vector.IndexTypeFlat)
	}
	if _, err := vector.NewIndex(meta.IndexType, 0); err != nil {
		return nil, &ValidationError{Field: "index type", Message: err.Error()}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if err := writeMeta(dir, meta); err != nil {
		return nil, err
	}
	return Open(dir, enc, opts...)
}

// Open loads the store in dir. The keyword index is rebuilt when it disagrees with
// the entry log.
func Open(dir string, enc embedding.Encoder, opts ...Option) (*Store, error) {
	meta, err := readMeta(dir)
	if err != nil {
		return nil, err
	}
	log, err := entrylog.Open(filepath.Join(dir, entriesFile))
	if err != nil {
		return nil, err
	}
	idx, err := vector.LoadOrNew(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	kw, err := keyword.Open(filepath.Join(dir, keywordDir))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:         dir,
		meta:        meta,
		encoder:     enc,
		log:         log,
		index:       idx,
		keyword:     kw,
		logger:      zap.NewNop(),
		graphParams: graph.Params{K: 10, EfConstruction: 200, M: 32, InsertChunk: 4},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.builds == nil {
		s.builds = &singleflight.Group{}
	}

	if n, err := kw.DocCount(); err != nil || int(n) != log.Count() {
		s.logger.Info("rebuilding keyword index", zap.String("store", meta.Name), zap.Int("entries", log.Count()))
		if err := kw.Rebuild(log.ReadAll()); err != nil {
			_ = kw.Close()
			return nil, err
		}
	}
	return s, nil
}

func readMeta(dir string) (models.StoreMeta, error) {
	var meta models.StoreMeta
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return meta, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(dir))
	}
	if err != nil {
		return meta, fmt.Errorf("read store meta: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse store meta: %w", err)
	}
	return meta, nil
}

func writeMeta(dir string, meta models.StoreMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store meta: %w", err)
	}
	if err := storage.WriteFileAtomic(filepath.Join(dir, metaFile), data, 0644); err != nil {
		return fmt.Errorf("write store meta: %w", err)
	}
	return nil
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.meta.Name
}

// Meta returns the persisted metadata.
func (s *Store) Meta() models.StoreMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// Count returns the number of persisted entries.
func (s *Store) Count() int {
	return s.log.Count()
}

// VectorCount returns the number of indexed vectors.
func (s *Store) VectorCount() int {
	return s.index.Size()
}

// embed encodes texts and returns unit-length copies, checking the dimension against
// the store's. The store dimension is fixed by the first batch.
func (s *Store) embed(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := s.encoder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("embed: encoder returned %d vectors for %d texts", len(raw), len(texts))
	}
	expected := s.meta.Dimension
	out := make([][]float32, len(raw))
	for i, v := range raw {
		if expected == 0 {
			expected = len(v)
		}
		if len(v) != expected {
			return nil, &DimensionMismatchError{Expected: expected, Actual: len(v)}
		}
		c := make([]float32, len(v))
		copy(c, v)
		utils.NormalizeL2(c)
		out[i] = c
	}
	return out, nil
}

// fixDimension persists the store dimension on first use.
func (s *Store) fixDimension(dim int) error {
	if s.meta.Dimension != 0 {
		return nil
	}
	meta := s.meta
	meta.Dimension = dim
	if err := writeMeta(s.dir, meta); err != nil {
		return err
	}
	s.meta = meta
	return nil
}

func (s *Store) embedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// AddTexts embeds and stores texts chunk by chunk. Each chunk is appended to the log
// and synced before its vectors reach the index, so a crash leaves the log ahead of
// the index, never behind. Cancellation is honoured between chunks. With a tracker
// the created entries are not collected and nil is returned.
func (s *Store) AddTexts(ctx context.Context, texts []string, batchSize int, tr Tracker) ([]models.Entry, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLive(); err != nil {
		return nil, err
	}

	collect := tr == nil
	tr = trackerOrNop(tr)
	var created []models.Entry
	stored := false
	defer func() {
		if stored {
			s.invalidateGraph()
		}
	}()

	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		chunk := texts[start:min(start+batchSize, len(texts))]
		vecs, err := s.embed(ctx, chunk)
		if err != nil {
			return created, err
		}
		if err := s.fixDimension(len(vecs[0])); err != nil {
			return created, err
		}

		entries := make([]models.Entry, len(chunk))
		for i, t := range chunk {
			entries[i] = models.Entry{ID: uuid.NewString(), Text: t}
		}
		if err := s.log.Append(entries); err != nil {
			return created, err
		}
		stored = true
		if err := s.index.Add(vecs); err != nil {
			return created, fmt.Errorf("add vectors: %w", err)
		}
		if err := s.index.Save(filepath.Join(s.dir, indexFile)); err != nil {
			return created, err
		}
		if err := s.keyword.Add(entries); err != nil {
			s.logger.Warn("keyword index update failed", zap.String("store", s.meta.Name), zap.Error(err))
		}
		if collect {
			created = append(created, entries...)
		}
		if err := tr.Advance(len(chunk), fmt.Sprintf("Stored %d/%d texts", start+len(chunk), len(texts))); err != nil {
			return created, err
		}
	}
	return created, nil
}

// Reconcile brings the index in line with the entry log by embedding only the
// entries past the last indexed position. It never rewrites the log.
func (s *Store) Reconcile(ctx context.Context, batchSize int, tr Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLive(); err != nil {
		return err
	}
	return s.reconcileLocked(ctx, batchSize, trackerOrNop(tr))
}

func (s *Store) reconcileLocked(ctx context.Context, batchSize int, tr Tracker) error {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	entries, vectors := s.log.Count(), s.index.Size()
	if entries == vectors {
		return nil
	}
	if vectors > entries {
		return &ConsistencyError{Store: s.meta.Name, Entries: entries, Vectors: vectors}
	}

	tail := s.log.Slice(vectors, entries)
	if err := tr.Log(fmt.Sprintf("Reconciling index: adding %d missing entries.", len(tail))); err != nil {
		return err
	}
	s.logger.Info("reconciling index", zap.String("store", s.meta.Name), zap.Int("missing", len(tail)))
	s.invalidateGraph()

	for start := 0; start < len(tail); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := tail[start:min(start+batchSize, len(tail))]
		texts := make([]string, len(chunk))
		for i, e := range chunk {
			texts[i] = e.Text
		}
		vecs, err := s.embed(ctx, texts)
		if err != nil {
			return err
		}
		if err := s.fixDimension(len(vecs[0])); err != nil {
			return err
		}
		if err := s.index.Add(vecs); err != nil {
			return fmt.Errorf("add vectors: %w", err)
		}
		if err := s.index.Save(filepath.Join(s.dir, indexFile)); err != nil {
			return err
		}
		done := vectors + start + len(chunk)
		if err := tr.Log(fmt.Sprintf("Reconciled %d/%d", done, entries)); err != nil {
			return err
		}
	}
	return nil
}

// Search returns up to k entries ranked by cosine similarity to query. An empty
// store returns no hits.
func (s *Store) Search(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchLocked(ctx, query, k)
}

func (s *Store) searchLocked(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	n := s.index.Size()
	if n == 0 || k <= 0 {
		return []models.SearchHit{}, nil
	}
	q, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.hitsFor(q, k)
}

func (s *Store) hitsFor(q []float32, k int) ([]models.SearchHit, error) {
	results, err := s.index.Search(q, min(k, s.index.Size()))
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	hits := make([]models.SearchHit, 0, len(results))
	for _, r := range results {
		e, ok := s.log.At(r.Pos)
		if !ok {
			continue
		}
		hits = append(hits, models.SearchHit{ID: e.ID, Text: e.Text, Score: r.Score})
	}
	return hits, nil
}

// Delete removes the entry with id by re-embedding every surviving text into a
// fresh index and rewriting the log. Returns false when id is unknown.
//
// The old index file is removed before the log is rewritten, so an interruption
// leaves at most a missing or short index that reconciliation repairs.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLive(); err != nil {
		return false, err
	}

	pos := s.log.IndexOf(id)
	if pos < 0 {
		return false, nil
	}
	all := s.log.ReadAll()
	survivors := append(all[:pos:pos], all[pos+1:]...)

	fresh, err := vector.NewIndex(s.meta.IndexType, s.meta.Dimension)
	if err != nil {
		return false, err
	}
	for start := 0; start < len(survivors); start += defaultBatchSize {
		chunk := survivors[start:min(start+defaultBatchSize, len(survivors))]
		texts := make([]string, len(chunk))
		for i, e := range chunk {
			texts[i] = e.Text
		}
		vecs, err := s.embed(ctx, texts)
		if err != nil {
			return false, err
		}
		if err := fresh.Add(vecs); err != nil {
			return false, fmt.Errorf("add vectors: %w", err)
		}
	}

	indexPath := filepath.Join(s.dir, indexFile)
	if err := os.Remove(indexPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("remove index: %w", err)
	}
	if err := s.log.Rewrite(survivors); err != nil {
		return false, err
	}
	if err := fresh.Save(indexPath); err != nil {
		return false, err
	}
	s.index = fresh
	s.invalidateGraph()
	if err := s.keyword.Delete(id); err != nil {
		s.logger.Warn("keyword index delete failed", zap.String("store", s.meta.Name), zap.Error(err))
	}
	return true, nil
}

// Entries returns every entry in log order.
func (s *Store) Entries() []models.Entry {
	return s.log.ReadAll()
}

// Lookup runs a keyword query over entry texts and returns matching entries.
func (s *Store) Lookup(query string, limit, fuzziness int) ([]models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	results, err := s.keyword.Search(query, limit, fuzziness)
	if err != nil {
		return nil, err
	}
	out := make([]models.Entry, 0, len(results))
	for _, r := range results {
		if pos := s.log.IndexOf(r.ID); pos >= 0 {
			e, _ := s.log.At(pos)
			out = append(out, e)
		}
	}
	return out, nil
}

// Info summarizes the store.
func (s *Store) Info() (models.StoreInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size, err := storage.DiskUsageBytes(s.dir)
	if err != nil {
		return models.StoreInfo{}, fmt.Errorf("disk usage: %w", err)
	}
	_, statErr := os.Stat(filepath.Join(s.dir, graphFile))
	entries, vectors := s.log.Count(), s.index.Size()
	return models.StoreInfo{
		Name:       s.meta.Name,
		Model:      s.meta.Model,
		Dimension:  s.meta.Dimension,
		Entries:    entries,
		Vectors:    vectors,
		HasGraph:   statErr == nil,
		DiskBytes:  size,
		Consistent: entries == vectors,
	}, nil
}

// Close releases the keyword index. The encoder is owned by the registry.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyword.Close()
}

// destroy closes the store and removes its directory.
func (s *Store) destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
	_ = s.keyword.Close()
	s.graphMu.Lock()
	s.graph = nil
	s.graphMu.Unlock()
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove store: %w", err)
	}
	return nil
}

// checkLive reports ErrNotFound once the store has been destroyed. Requires mu.
func (s *Store) checkLive() error {
	if s.destroyed {
		return fmt.Errorf("%w: %s", ErrNotFound, s.meta.Name)
	}
	return nil
}
