package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
)

type drainIndexer struct {
	mu   sync.Mutex
	docs []corpus.Document
}

func (d *drainIndexer) IndexSource(ctx context.Context, src corpus.Source) (indexer.RunStats, error) {
	var stats indexer.RunStats
	for {
		batch, err := src.NextBatch(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		d.mu.Lock()
		d.docs = append(d.docs, batch...)
		d.mu.Unlock()
		stats.Batches++
		stats.Documents += len(batch)
	}
}

func (d *drainIndexer) ids() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint32, len(d.docs))
	for i, doc := range d.docs {
		out[i] = doc.ID
	}
	return out
}

func writeCollection(t *testing.T, dir, name, docID string) {
	t.Helper()
	body := fmt.Sprintf("<DOC>\n<DOCID> %s </DOCID>\n<TEXT>\n<P>\nnew story\n</P>\n</TEXT>\n</DOC>\n", docID)
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanIndexesOnlyNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeCollection(t, dir, "la01", "3")
	idx := &drainIndexer{}
	w := New(dir, "la", 1, time.Millisecond, idx, []string{"la01"})

	if n, err := w.Scan(context.Background()); err != nil || n != 0 {
		t.Fatalf("Scan with nothing new = %d, %v", n, err)
	}

	writeCollection(t, dir, "la02", "4")
	writeCollection(t, dir, "la03", "5")
	n, err := w.Scan(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Scan = %d, %v", n, err)
	}
	got := idx.ids()
	if len(got) != 2 || got[0] != 1_000_004 || got[1] != 2_000_005 {
		t.Fatalf("unexpected ids %v", got)
	}

	// a file sorting before indexed ones is refused
	writeCollection(t, dir, "la00", "1")
	if n, err := w.Scan(context.Background()); err != nil || n != 0 {
		t.Fatalf("Scan with out-of-order file = %d, %v", n, err)
	}
	if len(idx.ids()) != 2 {
		t.Fatalf("out-of-order file was indexed")
	}
}

func TestRunPicksUpCreatedFile(t *testing.T) {
	dir := t.TempDir()
	idx := &drainIndexer{}
	w := New(dir, "la", 1, 20*time.Millisecond, idx, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	writeCollection(t, dir, "la01", "9")
	writeCollection(t, dir, "readme", "1")

	deadline := time.After(5 * time.Second)
	for len(idx.ids()) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("file was not indexed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := idx.ids(); len(got) != 1 || got[0] != 9 {
		t.Fatalf("unexpected ids %v", got)
	}
}
