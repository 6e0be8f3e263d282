package vector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFlatIndex_AddSearch(t *testing.T) {
	idx := NewFlatIndex(0)
	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Add(vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}
	if idx.Dimension() != 3 {
		t.Errorf("Dimension=%d", idx.Dimension())
	}

	results, err := idx.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Pos != 0 || results[1].Pos != 1 {
		t.Errorf("unexpected ranking %+v", results)
	}
}

func TestFlatIndex_SearchClampsK(t *testing.T) {
	idx := NewFlatIndex(2)
	_ = idx.Add([][]float32{{1, 0}})
	results, err := idx.Search([]float32{1, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestFlatIndex_EmptySearch(t *testing.T) {
	results, err := NewFlatIndex(0).Search([]float32{1}, 3)
	if err != nil || results != nil {
		t.Errorf("empty index search = %v, %v", results, err)
	}
}

func TestFlatIndex_DimensionMismatch(t *testing.T) {
	idx := NewFlatIndex(0)
	if err := idx.Add([][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	err := idx.Add([][]float32{{1, 0, 0}})
	if !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("failed add must not change size, got %d", idx.Size())
	}
	if _, err := idx.Search([]float32{1}, 1); !errors.Is(err, ErrDimension) {
		t.Errorf("query mismatch: got %v", err)
	}
}

func TestFlatIndex_Reconstruct(t *testing.T) {
	idx := NewFlatIndex(0)
	_ = idx.Add([][]float32{{1, 2}, {3, 4}, {5, 6}})
	got, err := idx.Reconstruct(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0][0] != 3 || got[1][1] != 6 {
		t.Errorf("Reconstruct = %v", got)
	}
	got[0][0] = 99
	again, _ := idx.Reconstruct(1, 1)
	if again[0][0] != 3 {
		t.Error("Reconstruct must return copies")
	}
	if _, err := idx.Reconstruct(2, 5); err == nil {
		t.Error("expected out of range error")
	}
}

func TestFlatIndex_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "index.bin")
	idx := NewFlatIndex(0)
	vecs := make([][]float32, 50)
	for i := range vecs {
		vecs[i] = []float32{float32(i), 0, 1, 0}
	}
	if err := idx.Add(vecs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 50 || loaded.Dimension() != 4 {
		t.Fatalf("loaded size=%d dim=%d", loaded.Size(), loaded.Dimension())
	}
	got, _ := loaded.Reconstruct(49, 1)
	if got[0][0] != 49 || got[0][2] != 1 {
		t.Errorf("round trip vector = %v", got[0])
	}
}

func TestLoad_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.bin")
	if _, err := Load(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	idx, err := LoadOrNew(path)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 0 || idx.Dimension() != 0 {
		t.Error("LoadOrNew should return an empty index")
	}
}

func TestLoad_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	if err := os.WriteFile(path, []byte("not an index at all, really"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for garbage file")
	}
}
