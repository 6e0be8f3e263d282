package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/graph"
	"github.com/hyperjump/vecstore/internal/models"
)

// BuildGraph builds the k-NN graph over every indexed vector and persists it,
// replacing any previous graph.
func (s *Store) BuildGraph(ctx context.Context, p graph.Params, tr Tracker) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLive(); err != nil {
		return err
	}
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	_, err := s.buildGraphLocked(ctx, p, trackerOrNop(tr))
	return err
}

// buildGraphLocked requires the read lock and graphMu.
func (s *Store) buildGraphLocked(ctx context.Context, p graph.Params, tr Tracker) (*graph.Graph, error) {
	n := s.index.Size()
	if n == 0 {
		return nil, ErrEmptyIndex
	}
	p = s.withDefaults(p)
	vectors, err := s.index.Reconstruct(0, n)
	if err != nil {
		return nil, err
	}
	if err := tr.Begin(n, 0, fmt.Sprintf("Building k-NN graph with N=%d, M=%d, efC=%d", n, p.M, p.EfConstruction)); err != nil {
		return nil, err
	}
	inserted := 0
	g, err := graph.Build(ctx, vectors, p, func(done, total int) error {
		delta := done - inserted
		inserted = done
		return tr.Advance(delta, fmt.Sprintf("Inserted %d/%d vectors into graph", done, total))
	})
	if err != nil {
		return nil, err
	}
	if err := g.Save(filepath.Join(s.dir, graphFile)); err != nil {
		return nil, err
	}
	s.graph = g
	s.logger.Info("graph built", zap.String("store", s.meta.Name), zap.Int("nodes", n), zap.Int("k", p.K))
	if err := tr.Log("Graph build complete"); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) withDefaults(p graph.Params) graph.Params {
	d := s.graphParams
	if p.K <= 0 {
		p.K = d.K
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = d.EfConstruction
	}
	if p.M <= 0 {
		p.M = d.M
	}
	if p.InsertChunk <= 0 {
		p.InsertChunk = d.InsertChunk
	}
	return p
}

// currentGraph returns a graph covering every indexed vector, loading it from disk
// or building it when missing or stale. Concurrent callers share one build, which
// is detached from any single caller's cancellation. Requires the read lock.
func (s *Store) currentGraph(ctx context.Context) (*graph.Graph, error) {
	n := s.index.Size()
	buildCtx := context.WithoutCancel(ctx)
	v, err, _ := s.builds.Do(s.meta.Name, func() (any, error) {
		s.graphMu.Lock()
		defer s.graphMu.Unlock()
		if s.graph != nil && s.graph.Len() == n {
			return s.graph, nil
		}
		if s.graph == nil {
			g, err := graph.Load(filepath.Join(s.dir, graphFile))
			switch {
			case err == nil && g.Len() == n:
				s.graph = g
				return g, nil
			case err != nil && !errors.Is(err, os.ErrNotExist):
				s.logger.Warn("discarding unreadable graph", zap.String("store", s.meta.Name), zap.Error(err))
			}
		}
		s.logger.Info("building graph on demand", zap.String("store", s.meta.Name), zap.Int("vectors", n))
		return s.buildGraphLocked(buildCtx, graph.Params{}, nopTracker{})
	})
	if err != nil {
		return nil, err
	}
	return v.(*graph.Graph), nil
}

// invalidateGraph drops the in-memory and persisted graph. Requires the write lock.
func (s *Store) invalidateGraph() {
	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	s.graph = nil
	if err := os.Remove(filepath.Join(s.dir, graphFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove stale graph", zap.String("store", s.meta.Name), zap.Error(err))
	}
}

// GraphSearch finds the shortest path through the proximity graph between the
// entries nearest to start and end. When the path has more than k nodes the
// intermediate nodes are subsampled; Distance is always the full path weight.
func (s *Store) GraphSearch(ctx context.Context, start, end string, k int) (models.GraphPath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLive(); err != nil {
		return models.GraphPath{}, err
	}

	if s.index.Size() == 0 {
		return models.GraphPath{}, ErrEmptyIndex
	}
	vecs, err := s.embed(ctx, []string{start, end})
	if err != nil {
		return models.GraphPath{}, err
	}
	src, err := s.nearest(vecs[0])
	if err != nil {
		return models.GraphPath{}, err
	}
	dst, err := s.nearest(vecs[1])
	if err != nil {
		return models.GraphPath{}, err
	}

	g, err := s.currentGraph(ctx)
	if err != nil {
		return models.GraphPath{}, err
	}
	path, dist, err := g.ShortestPath(src, dst)
	if err != nil {
		return models.GraphPath{}, err
	}

	path = graph.Subsample(path, k)
	nodes := make([]models.PathNode, 0, len(path))
	for _, pos := range path {
		e, ok := s.log.At(pos)
		if !ok {
			return models.GraphPath{}, fmt.Errorf("graph node %d has no entry", pos)
		}
		nodes = append(nodes, models.PathNode{ID: e.ID, Text: e.Text})
	}
	return models.GraphPath{Nodes: nodes, Distance: dist}, nil
}

func (s *Store) nearest(q []float32) (int, error) {
	res, err := s.index.Search(q, 1)
	if err != nil {
		return 0, fmt.Errorf("search index: %w", err)
	}
	if len(res) == 0 {
		return 0, ErrEmptyIndex
	}
	return res[0].Pos, nil
}
