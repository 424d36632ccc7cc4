package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer/postings"
	"github.com/BScong/text-indexing/internal/indexer/tokenizer"
	"github.com/BScong/text-indexing/pkg/config"
	apperrors "github.com/BScong/text-indexing/pkg/errors"
	"github.com/BScong/text-indexing/pkg/metrics"
)

const tolerance = 1e-6

func testConfig(dir string) config.IndexConfig {
	return config.IndexConfig{
		DataDir:        dir,
		PostingsFile:   "index.pl",
		VocabularyFile: "index_voc.db",
		BatchSize:      2,
		FlushThreshold: 64,
		VectorSeed:     7,
	}
}

func newTestEngine(t *testing.T, dir string, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(testConfig(dir), tokenizer.Pipeline{}, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func docs(pairs ...any) []corpus.Document {
	out := make([]corpus.Document, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, corpus.Document{ID: uint32(pairs[i].(int)), Text: pairs[i+1].(string)})
	}
	return out
}

func mustIndex(t *testing.T, e *Engine, batch []corpus.Document) BatchStats {
	t.Helper()
	stats, err := e.IndexBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("IndexBatch: %v", err)
	}
	return stats
}

func postingsOf(t *testing.T, e *Engine, term string) postings.List {
	t.Helper()
	var list postings.List
	err := e.View(func(s *Snapshot) error {
		l, ok, err := s.Postings(term)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("term %q not in vocabulary", term)
		}
		list = l
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	return list
}

func assertScore(t *testing.T, list postings.List, docID uint32, want float64) {
	t.Helper()
	got, ok := list.Find(docID)
	if !ok {
		t.Fatalf("doc %d missing from %v", docID, list)
	}
	if math.Abs(float64(got)-want) > tolerance {
		t.Errorf("doc %d: score %v, want %v", docID, got, want)
	}
}

func TestInverseDocumentFrequency(t *testing.T) {
	tests := []struct {
		n    uint64
		df   uint32
		want float64
	}{
		{10, 0, 1},
		{2, 1, 0},
		{2, 2, math.Log10(2.0 / 3.0)},
		{1000, 9, 2},
	}
	for _, tt := range tests {
		if got := InverseDocumentFrequency(tt.n, tt.df); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("InverseDocumentFrequency(%d, %d) = %v, want %v", tt.n, tt.df, got, tt.want)
		}
	}

	prev := math.Inf(1)
	for df := uint32(0); df < 50; df++ {
		idf := InverseDocumentFrequency(100, df)
		if idf >= prev {
			t.Fatalf("idf not strictly decreasing at df=%d", df)
		}
		prev = idf
	}
}

func TestTwoDocumentCorpus(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	stats := mustIndex(t, e, docs(1, "cat dog", 2, "cat bird"))
	if stats.Documents != 2 || stats.NewTerms != 3 || stats.UpdatedTerms != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	cat := postingsOf(t, e, "cat")
	if len(cat) != 2 {
		t.Fatalf("expected cat in both documents, got %v", cat)
	}
	if cat[0].Score != cat[1].Score {
		t.Errorf("expected equal scores, got %v", cat)
	}
	assertScore(t, cat, 1, math.Log10(2.0/3.0))

	dog := postingsOf(t, e, "dog")
	if len(dog) != 1 || dog[0].DocID != 1 {
		t.Fatalf("expected dog only in doc 1, got %v", dog)
	}

	if got := e.Stats(); got.VocabularySize != 3 || got.DocsIndexed != 2 {
		t.Errorf("unexpected engine stats %+v", got)
	}
}

func TestMergeRescoresTouchedTerms(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	mustIndex(t, e, docs(1, "apple", 2, "banana", 3, "cherry", 4, "date"))
	stats := mustIndex(t, e, docs(5, "apple apple banana elder"))
	if stats.NewTerms != 1 || stats.UpdatedTerms != 2 || stats.DocsIndexed != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	idf2 := math.Log10(5.0 / 3.0)
	apple := postingsOf(t, e, "apple")
	if len(apple) != 2 || apple[0].DocID != 1 || apple[1].DocID != 5 {
		t.Fatalf("unexpected apple list %v", apple)
	}
	assertScore(t, apple, 1, 1.0*idf2)
	assertScore(t, apple, 5, 1.0*idf2)

	banana := postingsOf(t, e, "banana")
	assertScore(t, banana, 2, 1.0*idf2)
	assertScore(t, banana, 5, 0.75*idf2)

	// untouched terms keep the statistics of the batch that last saw them
	cherry := postingsOf(t, e, "cherry")
	assertScore(t, cherry, 3, math.Log10(2))

	elder := postingsOf(t, e, "elder")
	assertScore(t, elder, 5, 0.75*math.Log10(5.0/2.0))

	// known terms first in lexical order, then new ones
	wantOffsets := map[string]uint32{"apple": 0, "banana": 16, "cherry": 32, "date": 40, "elder": 48}
	e.View(func(s *Snapshot) error {
		for term, off := range wantOffsets {
			entry, ok := s.Lookup(term)
			if !ok {
				t.Fatalf("term %q missing", term)
			}
			if entry.Location.Offset != off {
				t.Errorf("term %q at offset %d, want %d", term, entry.Location.Offset, off)
			}
		}
		apple, _ := s.Lookup("apple")
		if apple.DocFreq != 2 {
			t.Errorf("apple df = %d, want 2", apple.DocFreq)
		}
		return nil
	})
}

// A stored score under an idf of exactly zero cannot be de-scaled, so the
// document keeps a smoothed frequency of 0 after the next merge.
func TestZeroIDFLeavesStoredScore(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	mustIndex(t, e, docs(1, "x", 2, "y"))
	assertScore(t, postingsOf(t, e, "x"), 1, 0)

	mustIndex(t, e, docs(3, "x", 4, "z", 5, "w"))
	x := postingsOf(t, e, "x")
	assertScore(t, x, 1, 0)
	assertScore(t, x, 3, math.Log10(5.0/3.0))
}

func TestEmptyBatchRewritesUnchanged(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	mustIndex(t, e, docs(1, "cat dog", 2, "cat bird", 3, "fish"))
	before, err := os.ReadFile(testConfig(dir).PostingsPath())
	if err != nil {
		t.Fatal(err)
	}

	stats := mustIndex(t, e, nil)
	if stats.Documents != 0 || stats.NewTerms != 0 || stats.UpdatedTerms != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	after, err := os.ReadFile(testConfig(dir).PostingsPath())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("empty batch changed the posting file")
	}
	if got := e.Stats(); got.DocsIndexed != 3 || got.VocabularySize != 4 {
		t.Errorf("unexpected stats %+v", got)
	}
}

func TestCancelledMergeLeavesIndexUntouched(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	e := newTestEngine(t, dir)
	mustIndex(t, e, docs(1, "cat dog"))
	before, _ := os.ReadFile(cfg.PostingsPath())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.IndexBatch(ctx, docs(2, "cat bird")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if _, err := os.Stat(cfg.TempPostingsPath()); !os.IsNotExist(err) {
		t.Errorf("temporary posting file left behind: %v", err)
	}
	after, _ := os.ReadFile(cfg.PostingsPath())
	if !bytes.Equal(before, after) {
		t.Error("live posting file changed")
	}
	if got := e.Stats(); got.DocsIndexed != 1 || got.VocabularySize != 2 {
		t.Errorf("in-memory state changed: %+v", got)
	}
	if len(postingsOf(t, e, "cat")) != 1 {
		t.Error("cat list changed")
	}
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine(testConfig(dir), tokenizer.Pipeline{})
	if err != nil {
		t.Fatal(err)
	}
	mustIndex(t, e, docs(1, "cat dog", 2, "cat bird"))
	mustIndex(t, e, docs(3, "dog fish"))
	wantDog := postingsOf(t, e, "dog")
	var wantVec []float64
	e.View(func(s *Snapshot) error {
		v, _ := s.ContextVector("dog")
		wantVec = append(wantVec, v...)
		return nil
	})
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := newTestEngine(t, dir)
	if got := reopened.Stats(); got.DocsIndexed != 3 || got.VocabularySize != 4 {
		t.Fatalf("unexpected stats after reopen %+v", got)
	}
	gotDog := postingsOf(t, reopened, "dog")
	if len(gotDog) != len(wantDog) {
		t.Fatalf("dog list %v, want %v", gotDog, wantDog)
	}
	for i := range wantDog {
		if gotDog[i] != wantDog[i] {
			t.Errorf("dog[%d] = %v, want %v", i, gotDog[i], wantDog[i])
		}
	}
	reopened.View(func(s *Snapshot) error {
		v, ok := s.ContextVector("dog")
		if !ok || len(v) != len(wantVec) {
			t.Fatalf("context vector not restored")
		}
		for i := range v {
			if v[i] != wantVec[i] {
				t.Fatalf("context vector differs at %d", i)
			}
		}
		return nil
	})
}

func TestOpenRejectsTruncatedPostingFile(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine(testConfig(dir), tokenizer.Pipeline{})
	if err != nil {
		t.Fatal(err)
	}
	mustIndex(t, e, docs(1, "cat dog", 2, "cat bird"))
	e.Close()

	if err := os.Truncate(testConfig(dir).PostingsPath(), 4); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(testConfig(dir), tokenizer.Pipeline{}); !errors.Is(err, apperrors.ErrCorruptPostings) {
		t.Fatalf("expected ErrCorruptPostings, got %v", err)
	}
}

func TestOpenRejectsStaleVocabulary(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	e, err := NewEngine(cfg, tokenizer.Pipeline{})
	if err != nil {
		t.Fatal(err)
	}
	mustIndex(t, e, docs(1, "cat dog"))
	stale, err := os.ReadFile(cfg.VocabularyPath())
	if err != nil {
		t.Fatal(err)
	}
	mustIndex(t, e, docs(2, "cat bird", 3, "fish"))
	e.Close()

	// the old offsets still fall inside the grown posting file
	if err := os.WriteFile(cfg.VocabularyPath(), stale, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(cfg, tokenizer.Pipeline{}); !errors.Is(err, apperrors.ErrCorruptPostings) {
		t.Fatalf("expected ErrCorruptPostings, got %v", err)
	}
}

func TestVocabularySaveFailureKeepsCommittedBatch(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	rec := &recorder{}
	e, err := NewEngine(cfg, tokenizer.Pipeline{}, WithNotifier(rec))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(cfg.VocabularyPath(), 0755); err != nil {
		t.Fatal(err)
	}

	mustIndex(t, e, docs(1, "cat dog", 2, "cat bird"))
	if got := e.Stats(); got.DocsIndexed != 2 || got.VocabularySize != 3 {
		t.Fatalf("unexpected stats %+v", got)
	}
	if rec.notified != 0 {
		t.Error("readers notified before the vocabulary was saved")
	}

	if _, err := e.IndexBatch(context.Background(), docs(3, "fish")); !errors.Is(err, apperrors.ErrIndexIO) {
		t.Fatalf("expected ErrIndexIO while the vocabulary cannot be saved, got %v", err)
	}
	if got := e.Stats(); got.DocsIndexed != 2 || got.VocabularySize != 3 {
		t.Fatalf("refused batch changed the index: %+v", got)
	}
	cat := postingsOf(t, e, "cat")
	if len(cat) != 2 {
		t.Fatalf("cat = %v, want two documents", cat)
	}
	assertScore(t, cat, 1, math.Log10(2.0/3.0))

	if err := os.Remove(cfg.VocabularyPath()); err != nil {
		t.Fatal(err)
	}
	mustIndex(t, e, docs(3, "fish"))
	if rec.notified != 1 {
		t.Errorf("notified %d times, want 1", rec.notified)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := newTestEngine(t, dir)
	if got := reopened.Stats(); got.DocsIndexed != 3 || got.VocabularySize != 4 {
		t.Fatalf("unexpected stats after reopen %+v", got)
	}
	assertScore(t, postingsOf(t, reopened, "cat"), 2, math.Log10(2.0/3.0))
}

func TestClosePersistsPendingVocabulary(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	e, err := NewEngine(cfg, tokenizer.Pipeline{})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(cfg.VocabularyPath(), 0755); err != nil {
		t.Fatal(err)
	}
	mustIndex(t, e, docs(1, "cat dog"))
	if err := os.Remove(cfg.VocabularyPath()); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := newTestEngine(t, dir)
	if got := reopened.Stats(); got.DocsIndexed != 1 || got.VocabularySize != 2 {
		t.Fatalf("unexpected stats after reopen %+v", got)
	}
}

func TestReloadPicksUpOtherWriter(t *testing.T) {
	dir := t.TempDir()
	writer := newTestEngine(t, dir)
	reader := newTestEngine(t, dir)

	mustIndex(t, writer, docs(1, "cat dog"))
	if got := reader.Stats(); got.DocsIndexed != 0 {
		t.Fatalf("reader saw documents before reload: %+v", got)
	}
	if err := reader.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := reader.Stats(); got.DocsIndexed != 1 || got.VocabularySize != 2 {
		t.Fatalf("unexpected stats after reload %+v", got)
	}
	if len(postingsOf(t, reader, "dog")) != 1 {
		t.Error("reloaded reader cannot read dog")
	}
}

func TestContextVectorsAreUnitLength(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	mustIndex(t, e, docs(1, "cat dog", 2, "cat bird"))
	e.View(func(s *Snapshot) error {
		for _, term := range s.Terms() {
			v, ok := s.ContextVector(term)
			if !ok {
				t.Fatalf("no context vector for %q", term)
			}
			if n := v.Norm(); math.Abs(n-1) > 1e-9 {
				t.Errorf("%q: norm %v", term, n)
			}
		}
		return nil
	})
}

func TestViewsStayConsistentDuringMerges(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	mustIndex(t, e, docs(1, "cat dog"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				err := e.View(func(s *Snapshot) error {
					for _, term := range s.Terms() {
						list, _, err := s.Postings(term)
						if err != nil {
							return err
						}
						entry, _ := s.Lookup(term)
						if len(list) != entry.Location.Rows() {
							return errors.New("list length does not match vocabulary")
						}
					}
					return nil
				})
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}

	for id := 2; id < 30; id++ {
		mustIndex(t, e, docs(id, "cat bird fish"))
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("reader error: %v", err)
	}
}

type sliceSource struct {
	batches [][]corpus.Document
}

func (s *sliceSource) NextBatch(ctx context.Context) ([]corpus.Document, error) {
	if len(s.batches) == 0 {
		return nil, io.EOF
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

type recorder struct {
	docs     int
	notified int
}

func (r *recorder) Record(_ context.Context, d []corpus.Document) error {
	r.docs += len(d)
	return nil
}

func (r *recorder) NotifyIndexed(_ context.Context, _ BatchStats) error {
	r.notified++
	return nil
}

func TestIndexSource(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := &recorder{}
	e := newTestEngine(t, t.TempDir(),
		WithMetrics(metrics.New(reg)),
		WithRecorder(rec),
		WithNotifier(rec),
	)

	src := &sliceSource{batches: [][]corpus.Document{
		docs(1, "cat dog"),
		docs(2, "cat bird", 3, "fish"),
		docs(4, "dog"),
	}}
	stats, err := e.IndexSource(context.Background(), src)
	if err != nil {
		t.Fatalf("IndexSource: %v", err)
	}
	if stats.Batches != 3 || stats.Documents != 4 || stats.Timing.Count != 3 {
		t.Fatalf("unexpected run stats %+v", stats)
	}
	if stats.Timing.Min > stats.Timing.Max {
		t.Errorf("min %v above max %v", stats.Timing.Min, stats.Timing.Max)
	}
	if rec.docs != 4 || rec.notified != 3 {
		t.Errorf("recorder saw %d docs and %d notifications", rec.docs, rec.notified)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "docs_indexed_total" {
			found = true
			if got := f.GetMetric()[0].GetCounter().GetValue(); got != 4 {
				t.Errorf("docs_indexed_total = %v, want 4", got)
			}
		}
	}
	if !found {
		t.Error("docs_indexed_total not registered")
	}
}

type failingSource struct {
	calls int
}

func (s *failingSource) NextBatch(context.Context) ([]corpus.Document, error) {
	s.calls++
	if s.calls == 1 {
		return docs(1, "cat dog"), nil
	}
	return nil, errors.New("unreadable collection file")
}

func TestIndexSourceEndsSpansOnError(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := newTestEngine(t, t.TempDir())
	stats, err := e.IndexSource(context.Background(), &failingSource{})
	if err == nil || !strings.Contains(err.Error(), "reading batch 2") {
		t.Fatalf("unexpected error %v", err)
	}
	if stats.Batches != 1 || stats.Documents != 1 {
		t.Errorf("unexpected run stats %+v", stats)
	}

	spans, failed := 0, 0
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			t.Fatal(err)
		}
		if rec["msg"] != "span" {
			continue
		}
		spans++
		if rec["finished"] != true {
			t.Errorf("span %v logged before it ended", rec["span"])
		}
		if _, ok := rec["error"]; ok {
			failed++
		}
	}
	if spans != 3 || failed != 2 {
		t.Errorf("logged %d spans with %d errors, want 3 and 2", spans, failed)
	}
}
