package graph

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type blob struct {
	Version   int
	K         int
	Adjacency [][]Neighbor
}

const blobVersion = 1

// Save writes the graph to path as zstd-compressed gob, replacing any previous file.
func (g *Graph) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create graph dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".graph-*")
	if err != nil {
		return fmt.Errorf("create graph file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		tmp.Close()
		return fmt.Errorf("create graph encoder: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(blob{Version: blobVersion, K: g.K, Adjacency: g.Adjacency}); err != nil {
		zw.Close()
		tmp.Close()
		return fmt.Errorf("encode graph: %w", err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush graph: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync graph: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close graph: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace graph: %w", err)
	}
	return nil
}

// Load reads a graph written by Save. A missing file returns an error matching os.ErrNotExist.
func Load(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create graph decoder: %w", err)
	}
	defer zr.Close()
	var b blob
	if err := gob.NewDecoder(zr).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if b.Version != blobVersion {
		return nil, fmt.Errorf("unsupported graph version %d", b.Version)
	}
	g := &Graph{K: b.K, Adjacency: b.Adjacency}
	g.undirectedEdges()
	return g, nil
}
