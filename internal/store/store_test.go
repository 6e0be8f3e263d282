package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/vecstore/internal/embedding"
	"github.com/hyperjump/vecstore/internal/entrylog"
	"github.com/hyperjump/vecstore/internal/graph"
	"github.com/hyperjump/vecstore/internal/models"
	"github.com/hyperjump/vecstore/internal/vector"
)

var words = []string{
	"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel", "india", "juliet",
	"kilo", "lima", "mike", "november", "oscar", "papa", "quebec", "romeo", "sierra", "tango",
	"uniform", "victor", "whiskey", "xray", "yankee", "zulu",
}

func sampleTexts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s %s %s", words[i%len(words)], words[(i*7+3)%len(words)], words[(i*11+5)%len(words)])
		if i >= len(words) {
			out[i] += fmt.Sprintf(" item%d", i)
		}
	}
	return out
}

func newTestStore(t *testing.T, dim int) (*Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, models.StoreMeta{Name: "s", Model: "test"}, embedding.NewHashEncoder(dim))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func reopen(t *testing.T, s *Store, dir string, dim int) *Store {
	t.Helper()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	r, err := Open(dir, embedding.NewHashEncoder(dim))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func assertConsistent(t *testing.T, s *Store) {
	t.Helper()
	if s.VectorCount() > s.Count() {
		t.Fatalf("index has %d vectors but log has %d entries", s.VectorCount(), s.Count())
	}
}

type recordingTracker struct {
	mu       sync.Mutex
	total    int
	done     int
	messages []string
}

func (r *recordingTracker) Begin(total, done int, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total, r.done = total, done
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingTracker) Advance(n int, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done += n
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingTracker) Log(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func TestAddTexts_SingleEntrySearchReturnsItself(t *testing.T) {
	s, _ := newTestStore(t, 64)
	ctx := context.Background()
	created, err := s.AddTexts(ctx, []string{"the only entry"}, 8, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0].ID == "" {
		t.Fatalf("created = %+v", created)
	}
	hits, err := s.Search(ctx, "the only entry", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != created[0].ID {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score < 0.9999 {
		t.Errorf("self score = %f, want ~1", hits[0].Score)
	}
	if s.Meta().Dimension != 64 {
		t.Errorf("dimension = %d, want 64", s.Meta().Dimension)
	}
}

func TestAddTexts_ChunksAndTracker(t *testing.T) {
	s, dir := newTestStore(t, 32)
	tr := &recordingTracker{}
	created, err := s.AddTexts(context.Background(), sampleTexts(10), 4, tr)
	if err != nil {
		t.Fatal(err)
	}
	if created != nil {
		t.Error("tracked ingestion should not collect entries")
	}
	if tr.done != 10 || len(tr.messages) != 3 {
		t.Errorf("tracker done=%d messages=%v", tr.done, tr.messages)
	}
	if s.Count() != 10 || s.VectorCount() != 10 {
		t.Fatalf("count=%d vectors=%d", s.Count(), s.VectorCount())
	}
	r := reopen(t, s, dir, 32)
	if r.Count() != 10 || r.VectorCount() != 10 {
		t.Errorf("after reopen count=%d vectors=%d", r.Count(), r.VectorCount())
	}
}

func TestSearch_EmptyStore(t *testing.T) {
	s, _ := newTestStore(t, 16)
	hits, err := s.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestSearch_RanksAndTruncates(t *testing.T) {
	s, _ := newTestStore(t, 128)
	texts := sampleTexts(8)
	if _, err := s.AddTexts(context.Background(), texts, 3, nil); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(context.Background(), texts[5], 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 8 {
		t.Fatalf("expected min(k, count)=8 hits, got %d", len(hits))
	}
	if hits[0].Text != texts[5] {
		t.Errorf("top hit = %q, want %q", hits[0].Text, texts[5])
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("hits not sorted at %d", i)
		}
	}
}

func TestAddTexts_DimensionMismatch(t *testing.T) {
	s, dir := newTestStore(t, 16)
	if _, err := s.AddTexts(context.Background(), []string{"first"}, 4, nil); err != nil {
		t.Fatal(err)
	}
	r := reopen(t, s, dir, 24)
	_, err := r.AddTexts(context.Background(), []string{"second"}, 4, nil)
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dm.Expected != 16 || dm.Actual != 24 {
		t.Errorf("mismatch = %+v", dm)
	}
	if r.Count() != 1 || r.VectorCount() != 1 {
		t.Errorf("failed batch must not be stored: count=%d vectors=%d", r.Count(), r.VectorCount())
	}
}

func TestAddTexts_CanceledBetweenChunks(t *testing.T) {
	s, _ := newTestStore(t, 16)
	ctx, cancel := context.WithCancel(context.Background())
	tr := &cancelAfter{n: 1, cancel: cancel}
	_, err := s.AddTexts(ctx, sampleTexts(9), 3, tr)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Count() != 3 || s.VectorCount() != 3 {
		t.Errorf("in-flight chunk should complete: count=%d vectors=%d", s.Count(), s.VectorCount())
	}
}

type cancelAfter struct {
	recordingTracker
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Advance(n int, msg string) error {
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return c.recordingTracker.Advance(n, msg)
}

// simulateCrash appends entries to the log without indexing them, as if the
// process died between the log append and the index write.
func simulateCrash(t *testing.T, dir string, texts []string) {
	t.Helper()
	l, err := entrylog.Open(filepath.Join(dir, entriesFile))
	if err != nil {
		t.Fatal(err)
	}
	entries := make([]models.Entry, len(texts))
	for i, text := range texts {
		entries[i] = models.Entry{ID: fmt.Sprintf("crash-%d", i), Text: text}
	}
	if err := l.Append(entries); err != nil {
		t.Fatal(err)
	}
}

func TestResumeAfterCrash_MatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	records := sampleTexts(20)

	clean, _ := newTestStore(t, 32)
	if _, err := clean.AddTexts(ctx, records, 4, nil); err != nil {
		t.Fatal(err)
	}

	s, dir := newTestStore(t, 32)
	if _, err := s.AddTexts(ctx, records[:8], 4, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	simulateCrash(t, dir, records[8:11])

	r, err := Open(dir, embedding.NewHashEncoder(32))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Count() != 11 || r.VectorCount() != 8 {
		t.Fatalf("crash state count=%d vectors=%d", r.Count(), r.VectorCount())
	}

	// Resume: reconcile, derive the resume point from the log, ingest the rest.
	if err := r.Reconcile(ctx, 4, nil); err != nil {
		t.Fatal(err)
	}
	already := r.Count()
	if _, err := r.AddTexts(ctx, records[already:], 4, nil); err != nil {
		t.Fatal(err)
	}

	if r.Count() != len(records) || r.VectorCount() != len(records) {
		t.Fatalf("final count=%d vectors=%d", r.Count(), r.VectorCount())
	}
	got, want := r.Entries(), clean.Entries()
	for i := range want {
		if got[i].Text != want[i].Text {
			t.Fatalf("entry %d text = %q, want %q", i, got[i].Text, want[i].Text)
		}
	}
	gv, _ := r.index.Reconstruct(0, len(records))
	wv, _ := clean.index.Reconstruct(0, len(records))
	for i := range wv {
		if vector.InnerProduct(gv[i], wv[i]) < 0.9999 {
			t.Fatalf("vector %d differs from uninterrupted run", i)
		}
	}
}

func TestReconcile_ConvergesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t, 16)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	simulateCrash(t, dir, sampleTexts(7))

	r, err := Open(dir, embedding.NewHashEncoder(16))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	tr := &recordingTracker{}
	if err := r.Reconcile(ctx, 3, tr); err != nil {
		t.Fatal(err)
	}
	if r.VectorCount() != 7 {
		t.Fatalf("vectors = %d, want 7", r.VectorCount())
	}
	if r.Meta().Dimension != 16 {
		t.Errorf("reconcile should fix the dimension, got %d", r.Meta().Dimension)
	}
	if len(tr.messages) != 4 {
		t.Errorf("messages = %v", tr.messages)
	}

	tr2 := &recordingTracker{}
	if err := r.Reconcile(ctx, 3, tr2); err != nil {
		t.Fatal(err)
	}
	if len(tr2.messages) != 0 || r.VectorCount() != 7 {
		t.Errorf("second reconcile should be a no-op: %v", tr2.messages)
	}
}

func TestReconcile_MoreVectorsThanEntries(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t, 16)
	if _, err := s.AddTexts(ctx, sampleTexts(5), 5, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	l, _ := entrylog.Open(filepath.Join(dir, entriesFile))
	if err := l.Rewrite(l.Slice(0, 3)); err != nil {
		t.Fatal(err)
	}

	r, err := Open(dir, embedding.NewHashEncoder(16))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	err = r.Reconcile(ctx, 4, nil)
	var ce *ConsistencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
	if ce.Entries != 3 || ce.Vectors != 5 {
		t.Errorf("error = %+v", ce)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t, 64)
	created, err := s.AddTexts(ctx, sampleTexts(6), 4, nil)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := s.Delete(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("Delete(missing) = %v, %v", ok, err)
	}
	if s.Count() != 6 || s.VectorCount() != 6 {
		t.Fatal("deleting a missing id must not mutate")
	}

	victim := created[2]
	ok, err = s.Delete(ctx, victim.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if s.Count() != 5 || s.VectorCount() != 5 {
		t.Fatalf("count=%d vectors=%d", s.Count(), s.VectorCount())
	}
	hits, _ := s.Search(ctx, victim.Text, 5)
	for _, h := range hits {
		if h.ID == victim.ID {
			t.Error("deleted entry still searchable")
		}
	}
	// Positions stay aligned: every survivor finds itself first.
	for _, e := range s.Entries() {
		hits, _ := s.Search(ctx, e.Text, 1)
		if hits[0].ID != e.ID {
			t.Errorf("entry %s not aligned with its vector", e.ID)
		}
	}

	r := reopen(t, s, dir, 64)
	if r.Count() != 5 || r.VectorCount() != 5 {
		t.Errorf("after reopen count=%d vectors=%d", r.Count(), r.VectorCount())
	}
}

func TestDelete_LastEntry(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 16)
	created, _ := s.AddTexts(ctx, []string{"only"}, 1, nil)
	ok, err := s.Delete(ctx, created[0].ID)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if s.Count() != 0 || s.VectorCount() != 0 {
		t.Errorf("count=%d vectors=%d", s.Count(), s.VectorCount())
	}
	if _, err := s.AddTexts(ctx, []string{"again"}, 1, nil); err != nil {
		t.Errorf("store should accept texts after emptying: %v", err)
	}
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 16)
	_, _ = s.AddTexts(ctx, []string{"apples and pears", "kubernetes cluster", "apple pie"}, 2, nil)
	got, err := s.Lookup("apples", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Text != "apples and pears" {
		t.Errorf("Lookup = %+v", got)
	}
}

func TestInfo(t *testing.T) {
	s, _ := newTestStore(t, 16)
	_, _ = s.AddTexts(context.Background(), sampleTexts(3), 2, nil)
	info, err := s.Info()
	if err != nil {
		t.Fatal(err)
	}
	if info.Entries != 3 || info.Vectors != 3 || !info.Consistent || info.Dimension != 16 {
		t.Errorf("info = %+v", info)
	}
	if info.DiskBytes <= 0 {
		t.Error("disk usage should be positive")
	}
	if info.HasGraph {
		t.Error("no graph built yet")
	}
}

func TestBuildGraph_Tracker(t *testing.T) {
	s, _ := newTestStore(t, 32)
	_, _ = s.AddTexts(context.Background(), sampleTexts(10), 5, nil)
	tr := &recordingTracker{}
	if err := s.BuildGraph(context.Background(), graph.Params{K: 3, EfConstruction: 20, M: 4, InsertChunk: 4}, tr); err != nil {
		t.Fatal(err)
	}
	if tr.total != 10 || tr.done != 10 {
		t.Errorf("tracker total=%d done=%d", tr.total, tr.done)
	}
	// Begin, three chunks, completion.
	if len(tr.messages) != 5 {
		t.Errorf("messages = %v", tr.messages)
	}
	info, _ := s.Info()
	if !info.HasGraph {
		t.Error("graph should be persisted")
	}
}

func TestBuildGraph_EmptyIndex(t *testing.T) {
	s, _ := newTestStore(t, 16)
	if err := s.BuildGraph(context.Background(), graph.Params{}, nil); !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex, got %v", err)
	}
	if _, err := s.GraphSearch(context.Background(), "a", "b", 3); !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestGraphSearch_EndpointsAndBound(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t, 64)
	texts := sampleTexts(30)
	if _, err := s.AddTexts(ctx, texts, 8, nil); err != nil {
		t.Fatal(err)
	}
	first, last := s.Entries()[0], s.Entries()[29]

	res, err := s.GraphSearch(ctx, texts[0], texts[29], 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Nodes) > 3 {
		t.Errorf("got %d nodes, want at most k+2=3", len(res.Nodes))
	}
	if res.Nodes[0].ID != first.ID || res.Nodes[len(res.Nodes)-1].ID != last.ID {
		t.Errorf("path endpoints = %s..%s", res.Nodes[0].ID, res.Nodes[len(res.Nodes)-1].ID)
	}
	if res.Distance <= 0 {
		t.Errorf("distance = %f", res.Distance)
	}

	full, err := s.GraphSearch(ctx, texts[0], texts[29], 100)
	if err != nil {
		t.Fatal(err)
	}
	if full.Distance != res.Distance {
		t.Errorf("subsampling must not change distance: %f vs %f", full.Distance, res.Distance)
	}
	if len(full.Nodes) < len(res.Nodes) {
		t.Error("full path shorter than subsampled path")
	}

	// The lazily built graph was persisted and is reused after reopening.
	r := reopen(t, s, dir, 64)
	info, _ := r.Info()
	if !info.HasGraph {
		t.Fatal("lazy build should persist the graph")
	}
	again, err := r.GraphSearch(ctx, texts[0], texts[29], 100)
	if err != nil {
		t.Fatal(err)
	}
	if again.Distance != full.Distance {
		t.Errorf("reloaded graph gives distance %f, want %f", again.Distance, full.Distance)
	}
}

func TestGraphSearch_ConcurrentLazyBuild(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 32)
	texts := sampleTexts(20)
	_, _ = s.AddTexts(ctx, texts, 10, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.GraphSearch(ctx, texts[i], texts[19-i], 5); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestGraphSearch_RebuildsAfterDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 32)
	created, _ := s.AddTexts(ctx, sampleTexts(12), 6, nil)
	if _, err := s.GraphSearch(ctx, created[0].Text, created[11].Text, 5); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete(ctx, created[5].ID); err != nil {
		t.Fatal(err)
	}
	res, err := s.GraphSearch(ctx, created[0].Text, created[11].Text, 50)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range res.Nodes {
		if n.ID == created[5].ID {
			t.Error("path goes through a deleted entry")
		}
	}
}

func TestGraphSearch_ConcurrentOnBuiltGraph(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 32)
	texts := sampleTexts(40)
	if _, err := s.AddTexts(ctx, texts, 10, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.BuildGraph(ctx, graph.Params{}, nil); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.GraphSearch(ctx, texts[i], texts[39-i], 5); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestGraphInvalidatedByAddAndReconcile(t *testing.T) {
	ctx := context.Background()
	s, dir := newTestStore(t, 32)
	texts := sampleTexts(15)
	if _, err := s.AddTexts(ctx, texts[:10], 5, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.BuildGraph(ctx, graph.Params{}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddTexts(ctx, texts[10:12], 5, nil); err != nil {
		t.Fatal(err)
	}
	info, _ := s.Info()
	if info.HasGraph {
		t.Error("graph should be dropped after adding texts")
	}
	res, err := s.GraphSearch(ctx, texts[0], texts[11], 50)
	if err != nil {
		t.Fatal(err)
	}
	if res.Nodes[len(res.Nodes)-1].ID != s.Entries()[11].ID {
		t.Error("rebuilt graph should reach the new entry")
	}
	if info, _ := s.Info(); !info.HasGraph {
		t.Fatal("graph should be rebuilt by the query")
	}

	// Entries logged without vectors leave the index behind; reconciling drops the graph.
	simulateCrash(t, dir, texts[12:])
	r := reopen(t, s, dir, 32)
	if err := r.Reconcile(ctx, 2, nil); err != nil {
		t.Fatal(err)
	}
	if info, _ := r.Info(); info.HasGraph || !info.Consistent {
		t.Errorf("after reconcile info = %+v", info)
	}
}

func TestCurrentGraph_IgnoresCallerCancellation(t *testing.T) {
	s, _ := newTestStore(t, 32)
	if _, err := s.AddTexts(context.Background(), sampleTexts(12), 6, nil); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.mu.RLock()
	g, err := s.currentGraph(ctx)
	s.mu.RUnlock()
	if err != nil {
		t.Fatalf("shared build failed for a canceled caller: %v", err)
	}
	if g.Len() != 12 {
		t.Errorf("graph has %d nodes, want 12", g.Len())
	}
}

func TestInterpolate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 64)
	texts := sampleTexts(10)
	_, _ = s.AddTexts(ctx, texts, 5, nil)

	resp, err := s.Interpolate(ctx, texts[1], texts[8], 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Interpolations) != 4 {
		t.Fatalf("steps = %d", len(resp.Interpolations))
	}
	firstStep := resp.Interpolations[0]
	lastStep := resp.Interpolations[3]
	if firstStep.Step != 0 || lastStep.Step != 3 {
		t.Errorf("step numbering %d..%d", firstStep.Step, lastStep.Step)
	}
	if firstStep.Results[0].Text != texts[1] {
		t.Errorf("first step top hit = %q", firstStep.Results[0].Text)
	}
	if lastStep.Results[0].Text != texts[8] {
		t.Errorf("last step top hit = %q", lastStep.Results[0].Text)
	}
	if len(firstStep.Results) != 2 {
		t.Errorf("k not honoured: %d", len(firstStep.Results))
	}
}

func TestConsistencyAfterEveryOperation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, 16)
	created, _ := s.AddTexts(ctx, sampleTexts(5), 2, nil)
	assertConsistent(t, s)
	_ = s.Reconcile(ctx, 2, nil)
	assertConsistent(t, s)
	_, _ = s.Delete(ctx, created[0].ID)
	assertConsistent(t, s)
	_, _ = s.Search(ctx, "alpha", 3)
	assertConsistent(t, s)
	_ = s.BuildGraph(ctx, graph.Params{K: 2}, nil)
	assertConsistent(t, s)
}
