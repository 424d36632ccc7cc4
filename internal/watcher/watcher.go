// Package watcher keeps an index current with its corpus folder. It watches
// the folder with fsnotify and, once writes settle, indexes collection files
// that appeared since the last scan.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
)

const defaultDebounce = 400 * time.Millisecond

// SourceIndexer indexes every batch of a corpus source.
type SourceIndexer interface {
	IndexSource(ctx context.Context, src corpus.Source) (indexer.RunStats, error)
}

// Watcher indexes new collection files as they land in a folder. File
// indexes are positions in the sorted listing, so new files must sort after
// the ones already indexed; a file that sorts earlier is reported and left
// alone.
type Watcher struct {
	dir           string
	prefix        string
	filesPerBatch int
	debounce      time.Duration
	engine        SourceIndexer

	mu      sync.Mutex
	indexed []string
	timer   *time.Timer
	rescan  chan struct{}

	logger *slog.Logger
}

// New creates a Watcher. indexed lists the files of dir already in the index,
// in sorted order.
func New(dir, prefix string, filesPerBatch int, debounce time.Duration, engine SourceIndexer, indexed []string) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		dir:           dir,
		prefix:        prefix,
		filesPerBatch: filesPerBatch,
		debounce:      debounce,
		engine:        engine,
		indexed:       slices.Clone(indexed),
		rescan:        make(chan struct{}, 1),
		logger:        slog.Default().With("component", "watcher", "dir", dir),
	}
}

// Run watches until ctx is cancelled. Indexing happens on this goroutine, so
// scans never overlap.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching corpus folder", "indexed_files", len(w.indexed))

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		case <-w.rescan:
			if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("indexing new files failed", "error", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !strings.HasPrefix(filepath.Base(ev.Name), w.prefix) {
		return
	}
	w.logger.Debug("watcher event", "op", ev.Op.String(), "path", ev.Name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case w.rescan <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Scan lists the folder and indexes files not seen before. It returns the
// number of files indexed.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	files, err := corpus.ListFiles(w.dir, w.prefix)
	if err != nil {
		return 0, err
	}
	n := len(w.indexed)
	if len(files) < n || !slices.Equal(files[:n], w.indexed) {
		w.logger.Error("new file sorts before indexed files; it would shift document ids",
			"indexed_files", n,
			"listed_files", len(files),
		)
		return 0, nil
	}
	if len(files) == n {
		return 0, nil
	}

	src, err := corpus.NewFolderFrom(w.dir, w.prefix, n, w.filesPerBatch)
	if err != nil {
		return 0, err
	}
	stats, err := w.engine.IndexSource(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("indexing %d new files: %w", len(src.Files()), err)
	}
	w.indexed = append(w.indexed, src.Files()...)
	w.logger.Info("new files indexed",
		"files", len(src.Files()),
		"documents", stats.Documents,
		"batches", stats.Batches,
	)
	return len(src.Files()), nil
}
