// Package graph builds approximate k-nearest-neighbour graphs over stored vectors and
// finds shortest paths through them.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoPath is returned when the endpoints lie in different components.
var ErrNoPath = errors.New("no path between nodes")

// Neighbor is an outgoing edge. Distance is the squared L2 distance between the
// two unit vectors.
type Neighbor struct {
	ID       int32
	Distance float32
}

// Graph is a k-NN adjacency list. Node ids are vector positions in the store.
type Graph struct {
	K         int
	Adjacency [][]Neighbor

	undirectedOnce sync.Once
	undirected     [][]Neighbor
}

// Params configures a build.
type Params struct {
	K              int
	EfConstruction int
	M              int
	// InsertChunk is the number of vectors inserted between progress reports.
	InsertChunk int
	Seed        int64
}

// ProgressFunc is called after each inserted chunk with the number of vectors
// inserted so far. Returning an error aborts the build.
type ProgressFunc func(inserted, total int) error

// Build inserts vectors in order into an HNSW structure, then records each node's k
// nearest other nodes. The context is checked between chunks.
func Build(ctx context.Context, vectors [][]float32, p Params, progress ProgressFunc) (*Graph, error) {
	n := len(vectors)
	if n == 0 {
		return nil, errors.New("graph build: no vectors")
	}
	if p.K < 1 {
		return nil, fmt.Errorf("graph build: k must be positive, got %d", p.K)
	}
	if p.InsertChunk < 1 {
		p.InsertChunk = 4
	}

	h := newHNSW(len(vectors[0]), p.M, p.EfConstruction, p.Seed)
	for start := 0; start < n; start += p.InsertChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+p.InsertChunk, n)
		for _, v := range vectors[start:end] {
			if _, err := h.insert(v); err != nil {
				return nil, err
			}
		}
		if progress != nil {
			if err := progress(end, n); err != nil {
				return nil, err
			}
		}
	}

	g := &Graph{K: p.K, Adjacency: make([][]Neighbor, n)}
	ef := max(h.efConstruction, p.K+1)
	for i, v := range vectors {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits := h.knn(v, p.K+1, ef)
		neighbours := make([]Neighbor, 0, p.K)
		for _, hit := range hits {
			if int(hit.node) == i || len(neighbours) == p.K {
				continue
			}
			neighbours = append(neighbours, Neighbor{ID: hit.node, Distance: hit.distance})
		}
		g.Adjacency[i] = neighbours
	}
	g.undirectedEdges()
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.Adjacency)
}

// undirectedEdges returns the adjacency with every edge mirrored, keeping the
// smaller weight when both directions exist. It is computed once and shared by
// concurrent readers.
func (g *Graph) undirectedEdges() [][]Neighbor {
	g.undirectedOnce.Do(g.mirrorEdges)
	return g.undirected
}

func (g *Graph) mirrorEdges() {
	type key struct{ a, b int32 }
	best := make(map[key]float32)
	for i, ns := range g.Adjacency {
		for _, nb := range ns {
			a, b := int32(i), nb.ID
			if a == b {
				continue
			}
			if a > b {
				a, b = b, a
			}
			k := key{a, b}
			if d, ok := best[k]; !ok || nb.Distance < d {
				best[k] = nb.Distance
			}
		}
	}
	out := make([][]Neighbor, len(g.Adjacency))
	for k, d := range best {
		out[k.a] = append(out[k.a], Neighbor{ID: k.b, Distance: d})
		out[k.b] = append(out[k.b], Neighbor{ID: k.a, Distance: d})
	}
	g.undirected = out
}
