package graph

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/bits-and-blooms/bitset"

	"github.com/hyperjump/vecstore/pkg/utils"
)

type hnswNode struct {
	vector      []float32
	level       int
	connections [][]int32 // one neighbour list per level 0..level
}

// hnsw is a single-threaded Hierarchical Navigable Small World builder using squared
// L2 distance. Node ids are assigned in insertion order starting at 0.
type hnsw struct {
	dimension      int
	m              int
	mmax0          int
	efConstruction int
	ml             float64
	entryPoint     int32
	maxLevel       int
	nodes          []*hnswNode
	rng            *rand.Rand
}

func newHNSW(dimension, m, efConstruction int, seed int64) *hnsw {
	if m < 2 {
		// M == 1 would divide by zero in the level normalization.
		m = 2
	}
	if efConstruction < m {
		efConstruction = m
	}
	return &hnsw{
		dimension:      dimension,
		m:              m,
		mmax0:          2 * m,
		efConstruction: efConstruction,
		ml:             1 / math.Log(float64(m)),
		entryPoint:     -1,
		rng:            rand.New(rand.NewSource(seed)), // nolint gosec
	}
}

func (h *hnsw) len() int { return len(h.nodes) }

func (h *hnsw) distance(a []float32, id int32) float32 {
	return utils.SquaredL2(a, h.nodes[id].vector)
}

// insert adds v and links it into every level up to its drawn level.
func (h *hnsw) insert(v []float32) (int32, error) {
	if len(v) != h.dimension {
		return 0, fmt.Errorf("graph insert: vector has %d dimensions, expected %d", len(v), h.dimension)
	}
	vec := make([]float32, len(v))
	copy(vec, v)

	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
	node := &hnswNode{vector: vec, level: level, connections: make([][]int32, level+1)}
	id := int32(len(h.nodes))
	h.nodes = append(h.nodes, node)

	if h.entryPoint < 0 {
		h.entryPoint = id
		h.maxLevel = level
		return id, nil
	}

	// Greedy descent through the levels above the new node's top level.
	curr := h.entryPoint
	currDist := h.distance(vec, curr)
	for l := h.maxLevel; l > level; l-- {
		changed := true
		for changed {
			changed = false
			for _, n := range h.nodes[curr].connections[l] {
				if d := h.distance(vec, n); d < currDist {
					curr, currDist = n, d
					changed = true
				}
			}
		}
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, pqItem{node: curr, distance: currDist}, h.efConstruction, l)
		neighbours := h.selectNeighbours(candidates, h.m)
		node.connections[l] = neighbours
		for _, n := range neighbours {
			h.link(n, id, l)
		}
		// Closest candidate seeds the next level down.
		best := candidates[0]
		curr, currDist = best.node, best.distance
	}

	if level > h.maxLevel {
		h.entryPoint = id
		h.maxLevel = level
	}
	return id, nil
}

// searchLayer returns up to ef nodes nearest to q on level, sorted by ascending distance.
func (h *hnsw) searchLayer(q []float32, ep pqItem, ef int, level int) []pqItem {
	var visited bitset.BitSet
	visited.Set(uint(ep.node))

	candidates := &priorityQueue{}
	candidates.push(ep)
	top := &priorityQueue{desc: true}
	top.push(ep)

	for candidates.Len() > 0 {
		c := candidates.pop()
		if c.distance > top.top().distance {
			break
		}
		node := h.nodes[c.node]
		if level >= len(node.connections) {
			continue
		}
		for _, n := range node.connections[level] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))
			d := h.distance(q, n)
			if top.Len() < ef || d < top.top().distance {
				item := pqItem{node: n, distance: d}
				candidates.push(item)
				top.push(item)
				if top.Len() > ef {
					top.pop()
				}
			}
		}
	}

	out := make([]pqItem, top.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = top.pop()
	}
	return out
}

// selectNeighbours applies the HNSW heuristic: a candidate is kept only if it is
// closer to the base than to every neighbour already kept. Remaining slots are
// filled with the nearest discarded candidates. candidates must be sorted ascending.
func (h *hnsw) selectNeighbours(candidates []pqItem, m int) []int32 {
	if len(candidates) <= m {
		out := make([]int32, len(candidates))
		for i, c := range candidates {
			out[i] = c.node
		}
		return out
	}
	kept := make([]pqItem, 0, m)
	var discarded []pqItem
	for _, c := range candidates {
		if len(kept) >= m {
			break
		}
		good := true
		for _, k := range kept {
			if utils.SquaredL2(h.nodes[k.node].vector, h.nodes[c.node].vector) < c.distance {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		} else {
			discarded = append(discarded, c)
		}
	}
	for i := 0; len(kept) < m && i < len(discarded); i++ {
		kept = append(kept, discarded[i])
	}
	out := make([]int32, len(kept))
	for i, k := range kept {
		out[i] = k.node
	}
	return out
}

// link adds a directed edge first -> second on level, pruning first's list when it
// overflows (2M on level 0, M above).
func (h *hnsw) link(first, second int32, level int) {
	maxConn := h.m
	if level == 0 {
		maxConn = h.mmax0
	}
	node := h.nodes[first]
	node.connections[level] = append(node.connections[level], second)
	if len(node.connections[level]) <= maxConn {
		return
	}
	pq := &priorityQueue{}
	for _, n := range node.connections[level] {
		pq.push(pqItem{node: n, distance: h.distance(node.vector, n)})
	}
	sorted := make([]pqItem, 0, pq.Len())
	for pq.Len() > 0 {
		sorted = append(sorted, pq.pop())
	}
	node.connections[level] = h.selectNeighbours(sorted, maxConn)
}

// knn returns the k nearest inserted nodes to q, ascending by distance.
func (h *hnsw) knn(q []float32, k, ef int) []pqItem {
	if h.entryPoint < 0 || k <= 0 {
		return nil
	}
	curr := h.entryPoint
	currDist := h.distance(q, curr)
	for l := h.maxLevel; l > 0; l-- {
		changed := true
		for changed {
			changed = false
			for _, n := range h.nodes[curr].connections[l] {
				if d := h.distance(q, n); d < currDist {
					curr, currDist = n, d
					changed = true
				}
			}
		}
	}
	res := h.searchLayer(q, pqItem{node: curr, distance: currDist}, max(ef, k), 0)
	if len(res) > k {
		res = res[:k]
	}
	return res
}
