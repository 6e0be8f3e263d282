package graph

import (
	"fmt"
	"math"
)

// ShortestPath returns the minimum-weight path from src to dst, treating edges as
// undirected, and its total weight.
func (g *Graph) ShortestPath(src, dst int) ([]int, float32, error) {
	n := g.Len()
	if src < 0 || src >= n || dst < 0 || dst >= n {
		return nil, 0, fmt.Errorf("path endpoints %d, %d out of range for %d nodes", src, dst, n)
	}
	if src == dst {
		return []int{src}, 0, nil
	}

	adj := g.undirectedEdges()
	dist := make([]float32, n)
	prev := make([]int32, n)
	for i := range dist {
		dist[i] = float32(math.Inf(1))
		prev[i] = -1
	}
	dist[src] = 0
	done := make([]bool, n)

	pq := &priorityQueue{}
	pq.push(pqItem{node: int32(src), distance: 0})
	for pq.Len() > 0 {
		cur := pq.pop()
		u := int(cur.node)
		if done[u] {
			continue
		}
		done[u] = true
		if u == dst {
			break
		}
		for _, e := range adj[u] {
			alt := dist[u] + e.Distance
			if alt < dist[e.ID] {
				dist[e.ID] = alt
				prev[e.ID] = int32(u)
				pq.push(pqItem{node: e.ID, distance: alt})
			}
		}
	}

	if !done[dst] {
		return nil, 0, fmt.Errorf("%w: %d and %d are disconnected", ErrNoPath, src, dst)
	}
	var rev []int
	for v := int32(dst); v >= 0; v = prev[v] {
		rev = append(rev, int(v))
	}
	path := make([]int, len(rev))
	for i, v := range rev {
		path[len(rev)-1-i] = v
	}
	return path, dist[dst], nil
}

// Subsample keeps the first and last nodes of path and at most k intermediate
// nodes taken at a uniform stride. Paths with at most k nodes are returned as is.
func Subsample(path []int, k int) []int {
	if k < 1 || len(path) <= k || len(path) <= 2 {
		return path
	}
	inner := path[1 : len(path)-1]
	stride := (len(inner) + k - 1) / k
	out := make([]int, 0, k+2)
	out = append(out, path[0])
	for i := 0; i < len(inner); i += stride {
		out = append(out, inner[i])
	}
	return append(out, path[len(path)-1])
}
