package keyword

import (
	"path/filepath"
	"testing"

	"github.com/hyperjump/vecstore/internal/models"
)

func openTestIndex(t *testing.T) *EntryIndex {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "keyword.bleve"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestEntryIndex_SearchFindsText(t *testing.T) {
	idx := openTestIndex(t)
	entries := []models.Entry{
		{ID: "1", Text: "This report mentions Omnisyan and other findings."},
		{ID: "2", Text: "The Bayes app is also referenced."},
	}
	if err := idx.Add(entries); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search("Omnisyan", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "1" {
		t.Fatalf("results = %+v", results)
	}

	// Standard analyzer (no stemming) so "bayes" matches "Bayes"
	results, err = idx.Search("bayes", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "2" {
		t.Errorf("results = %+v", results)
	}
}

func TestEntryIndex_Fuzzy(t *testing.T) {
	idx := openTestIndex(t)
	if err := idx.Add([]models.Entry{{ID: "a", Text: "kubernetes cluster"}}); err != nil {
		t.Fatal(err)
	}
	exact, _ := idx.Search("kubernets", 10, 0)
	if len(exact) != 0 {
		t.Errorf("exact search should miss the typo, got %+v", exact)
	}
	fuzzy, err := idx.Search("kubernets", 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(fuzzy) != 1 {
		t.Errorf("fuzzy search should match, got %+v", fuzzy)
	}
}

func TestEntryIndex_DeleteAndRebuild(t *testing.T) {
	idx := openTestIndex(t)
	_ = idx.Add([]models.Entry{{ID: "1", Text: "one"}, {ID: "2", Text: "two"}})
	if err := idx.Delete("1"); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 1 {
		t.Errorf("DocCount after delete = %d", n)
	}
	if err := idx.Rebuild([]models.Entry{{ID: "3", Text: "three"}, {ID: "4", Text: "four"}, {ID: "5", Text: "five"}}); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 3 {
		t.Errorf("DocCount after rebuild = %d", n)
	}
	if res, _ := idx.Search("two", 10, 0); len(res) != 0 {
		t.Errorf("rebuilt index still has old entries: %+v", res)
	}
}

func TestEntryIndex_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kw.bleve")
	idx, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = idx.Add([]models.Entry{{ID: "1", Text: "persisted"}})
	_ = idx.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if n, _ := reopened.DocCount(); n != 1 {
		t.Errorf("DocCount after reopen = %d", n)
	}
}

func TestEntryIndex_EmptyQuery(t *testing.T) {
	idx := openTestIndex(t)
	if _, err := idx.Search("  ", 10, 0); err == nil {
		t.Error("expected error for empty query")
	}
}
