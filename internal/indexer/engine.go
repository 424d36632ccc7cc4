// Package indexer owns the on-disk inverted index: it merges document batches
// into the posting file, keeps the vocabulary in memory, and hands readers
// consistent snapshots.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer/index"
	"github.com/BScong/text-indexing/internal/indexer/postings"
	"github.com/BScong/text-indexing/internal/indexer/semantic"
	"github.com/BScong/text-indexing/internal/indexer/tokenizer"
	"github.com/BScong/text-indexing/pkg/config"
	apperrors "github.com/BScong/text-indexing/pkg/errors"
	"github.com/BScong/text-indexing/pkg/metrics"
	"github.com/BScong/text-indexing/pkg/tracing"
)

// Recorder receives the documents of every committed batch.
type Recorder interface {
	Record(ctx context.Context, docs []corpus.Document) error
}

// Notifier is told about every committed batch.
type Notifier interface {
	NotifyIndexed(ctx context.Context, stats BatchStats) error
}

// BatchStats describes one committed merge.
type BatchStats struct {
	Documents      int           `json:"documents"`
	NewTerms       int           `json:"new_terms"`
	UpdatedTerms   int           `json:"updated_terms"`
	VocabularySize int           `json:"vocabulary_size"`
	DocsIndexed    uint64        `json:"docs_indexed"`
	PostingBytes   uint64        `json:"posting_bytes"`
	Duration       time.Duration `json:"duration"`
}

// Stats reports the size of the index.
type Stats struct {
	VocabularySize int    `json:"vocabulary_size"`
	DocsIndexed    uint64 `json:"docs_indexed"`
}

// RunStats summarises an IndexSource run.
type RunStats struct {
	Batches   int                   `json:"batches"`
	Documents int                   `json:"documents"`
	Timing    tracing.DurationStats `json:"timing"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records merge metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRand replaces the generator used for document index vectors.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) { e.rng = rng }
}

// WithRecorder registers a Recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithNotifier registers a Notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// Engine is the single writer of an index directory. Readers use View.
type Engine struct {
	cfg      config.IndexConfig
	pipeline tokenizer.Pipeline

	// writeMu serialises merges and reloads; mu guards the state pointer
	// and the posting file handle that readers see.
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *index.State
	file    *postings.File
	// unsaved is set while the committed state is newer than the persisted
	// vocabulary. Guarded by writeMu.
	unsaved bool

	rng      *rand.Rand
	metrics  *metrics.Metrics
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
}

// NewEngine opens the index in cfg.DataDir, creating an empty one if none
// exists.
func NewEngine(cfg config.IndexConfig, pipeline tokenizer.Pipeline, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating index data directory: %w", apperrors.ErrIndexIO, err)
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = postings.DefaultFlushThreshold
	}
	e := &Engine{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		seed := cfg.VectorSeed
		if seed == 0 {
			seed = rand.Uint64()
		}
		e.rng = rand.New(rand.NewPCG(seed, seed))
	}

	state, file, err := e.load()
	if err != nil {
		return nil, err
	}
	e.state = state
	e.file = file
	e.observe(state, file)
	e.logger.Info("index opened",
		"data_dir", cfg.DataDir,
		"vocabulary_size", state.VocabularySize(),
		"docs_indexed", state.DocsIndexed,
		"posting_bytes", file.Size(),
	)
	return e, nil
}

// load reads the persisted vocabulary and opens the posting file, checking
// that the vocabulary was written against this posting file and that every
// location lies inside it.
func (e *Engine) load() (*index.State, *postings.File, error) {
	state, err := index.Load(e.cfg.VocabularyPath())
	if err != nil {
		return nil, nil, err
	}
	file, err := postings.Open(e.cfg.PostingsPath())
	if err != nil {
		return nil, nil, err
	}
	if state.PostingBytes != uint64(file.Size()) {
		file.Close()
		return nil, nil, fmt.Errorf("%w: vocabulary expects a posting file of %d bytes, found %d",
			apperrors.ErrCorruptPostings, state.PostingBytes, file.Size())
	}
	for term, entry := range state.Terms {
		if entry.Location.Length%postings.RowSize != 0 || entry.Location.End() > uint64(file.Size()) {
			file.Close()
			return nil, nil, fmt.Errorf("%w: term %q at offset %d length %d outside posting file of %d bytes",
				apperrors.ErrCorruptPostings, term, entry.Location.Offset, entry.Location.Length, file.Size())
		}
	}
	return state, file, nil
}

// Pipeline returns the text pipeline shared by indexing and querying.
func (e *Engine) Pipeline() tokenizer.Pipeline {
	return e.pipeline
}

// IndexBatch merges docs into the index. The posting file is rewritten in
// full to a temporary file, which replaces the live file only once complete;
// on any error the live file and the in-memory state are unchanged.
//
// Once the new posting file is in place the batch is committed and
// IndexBatch reports success even if the vocabulary could not be saved. The
// save is then retried before the next merge, and that merge fails without
// touching the index while the vocabulary still cannot be written.
func (e *Engine) IndexBatch(ctx context.Context, docs []corpus.Document) (BatchStats, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.persistPending(); err != nil {
		e.countMerge("error")
		return BatchStats{}, err
	}

	start := time.Now()
	stats, err := e.merge(ctx, docs)
	stats.Duration = time.Since(start)
	if e.metrics != nil {
		e.metrics.MergeDuration.Observe(stats.Duration.Seconds())
	}
	if err != nil {
		e.countMerge("error")
		e.logger.Error("batch merge failed", "documents", len(docs), "error", err)
		return stats, err
	}
	e.countMerge("success")
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Add(float64(stats.Documents))
	}
	e.logger.Info("batch merged",
		"documents", stats.Documents,
		"new_terms", stats.NewTerms,
		"updated_terms", stats.UpdatedTerms,
		"vocabulary_size", stats.VocabularySize,
		"docs_indexed", stats.DocsIndexed,
		"duration", stats.Duration,
	)

	if e.recorder != nil && len(docs) > 0 {
		if err := e.recorder.Record(ctx, docs); err != nil {
			e.logger.Warn("recording batch documents failed", "error", err)
		}
	}
	if e.notifier != nil && !e.unsaved {
		if err := e.notifier.NotifyIndexed(ctx, stats); err != nil {
			e.logger.Warn("index-complete notification failed", "error", err)
		}
	}
	return stats, nil
}

func (e *Engine) merge(ctx context.Context, docs []corpus.Document) (BatchStats, error) {
	batch := index.NewBatch()
	docTerms := make([][]string, len(docs))
	for i, d := range docs {
		docTerms[i] = e.pipeline.Terms(d.Text)
		batch.AddDocument(d.ID, docTerms[i])
	}

	// Only this goroutine swaps the state, so reading it without mu is safe
	// while writeMu is held.
	current, file := e.state, e.file
	next := current.Clone()
	next.DocsIndexed = current.DocsIndexed + uint64(batch.DocCount())

	w, err := postings.NewWriter(e.cfg.TempPostingsPath(), e.cfg.FlushThreshold)
	if err != nil {
		return BatchStats{}, fmt.Errorf("starting merge: %w", err)
	}
	stats := BatchStats{Documents: batch.DocCount(), DocsIndexed: next.DocsIndexed}

	if err := e.rewrite(ctx, current, next, file, batch, w, &stats); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			e.logger.Warn("removing temporary posting file", "error", abortErr)
		}
		return BatchStats{}, err
	}

	for i := range docs {
		semantic.Accumulate(next.ContextVectors, docTerms[i], semantic.NewIndexVector(e.rng))
	}

	if err := w.Finalize(e.cfg.PostingsPath()); err != nil {
		return BatchStats{}, fmt.Errorf("finalizing merge: %w", err)
	}
	newFile, err := postings.Open(e.cfg.PostingsPath())
	if err != nil {
		return BatchStats{}, fmt.Errorf("opening merged posting file, reload required: %w", err)
	}
	next.PostingBytes = uint64(newFile.Size())

	e.mu.Lock()
	e.state = next
	e.file = newFile
	e.mu.Unlock()
	if err := file.Close(); err != nil {
		e.logger.Warn("closing previous posting file", "error", err)
	}
	e.observe(next, newFile)

	if err := e.persist(next); err != nil {
		e.logger.Error("batch committed but vocabulary not persisted, retrying before the next batch", "error", err)
	}

	stats.VocabularySize = next.VocabularySize()
	stats.PostingBytes = uint64(newFile.Size())
	return stats, nil
}

// persist saves state as the vocabulary, remembering a failure so the save
// can be retried.
func (e *Engine) persist(state *index.State) error {
	if err := state.Save(e.cfg.VocabularyPath()); err != nil {
		e.unsaved = true
		return fmt.Errorf("persisting vocabulary: %w", err)
	}
	e.unsaved = false
	return nil
}

// persistPending retries a failed vocabulary save. Callers hold writeMu.
func (e *Engine) persistPending() error {
	if !e.unsaved {
		return nil
	}
	if err := e.persist(e.state); err != nil {
		return err
	}
	e.logger.Info("pending vocabulary persisted", "docs_indexed", e.state.DocsIndexed)
	return nil
}

// rewrite writes every known term, then every new term, to w. Both groups
// are written in lexical order.
func (e *Engine) rewrite(ctx context.Context, current, next *index.State, file *postings.File, batch *index.Batch, w *postings.Writer, stats *BatchStats) error {
	for _, term := range current.SortedTerms() {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := current.Terms[term]
		list, err := file.ReadRange(entry.Location)
		if err != nil {
			return fmt.Errorf("reading postings of %q: %w", term, err)
		}
		if contrib, ok := batch.Postings(term); ok {
			list, entry = rescore(list, entry, contrib, next.DocsIndexed)
			stats.UpdatedTerms++
		}
		loc, err := w.Append(list)
		if err != nil {
			return fmt.Errorf("writing postings of %q: %w", term, err)
		}
		entry.Location = loc
		next.Terms[term] = entry
	}

	for _, term := range batch.Terms() {
		if _, known := current.Terms[term]; known {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		contrib, _ := batch.Postings(term)
		list, entry := scoreNew(contrib, next.DocsIndexed)
		loc, err := w.Append(list)
		if err != nil {
			return fmt.Errorf("writing postings of %q: %w", term, err)
		}
		entry.Location = loc
		next.Terms[term] = entry
		stats.NewTerms++
	}
	return nil
}

// IndexSource drains src, merging one batch at a time, and reports batch
// timing.
func (e *Engine) IndexSource(ctx context.Context, src corpus.Source) (RunStats, error) {
	ctx, run := tracing.StartSpan(ctx, "index_source", uuid.NewString())
	var stats RunStats
	var timings []time.Duration
	defer run.Log(e.logger)

	for {
		batchCtx, span := tracing.StartChildSpan(ctx, "batch")
		docs, err := src.NextBatch(batchCtx)
		if errors.Is(err, io.EOF) {
			span.SetAttr("eof", true)
			span.End()
			break
		}
		if err != nil {
			return stats, endFailedRun(run, span, fmt.Errorf("reading batch %d: %w", stats.Batches+1, err))
		}
		if _, err := e.IndexBatch(batchCtx, docs); err != nil {
			return stats, endFailedRun(run, span, fmt.Errorf("indexing batch %d: %w", stats.Batches+1, err))
		}
		span.SetAttr("documents", len(docs))
		span.End()
		timings = append(timings, span.Duration)
		stats.Batches++
		stats.Documents += len(docs)
	}

	run.End()
	stats.Timing = tracing.Summarize(timings)
	e.logger.Info("source indexed",
		"batches", stats.Batches,
		"documents", stats.Documents,
		"elapsed", run.Duration,
		"batch_timing", stats.Timing,
	)
	return stats, nil
}

// endFailedRun ends the spans of an IndexSource run stopped by err.
func endFailedRun(run, batch *tracing.Span, err error) error {
	batch.SetAttr("error", err.Error())
	batch.End()
	run.SetAttr("error", err.Error())
	run.End()
	return err
}

// Stats returns the current vocabulary size and document count.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		VocabularySize: e.state.VocabularySize(),
		DocsIndexed:    e.state.DocsIndexed,
	}
}

// View runs fn against one consistent snapshot. Merges wait for fn to
// return; the snapshot must not be retained afterwards.
func (e *Engine) View(fn func(*Snapshot) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(&Snapshot{state: e.state, file: e.file})
}

// Reload replaces the in-memory state with what is persisted on disk. The
// search service calls it after another process commits a batch.
func (e *Engine) Reload() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.persistPending(); err != nil {
		e.countReload("error")
		return fmt.Errorf("reloading index: %w", err)
	}
	state, file, err := e.load()
	if err != nil {
		e.countReload("error")
		return fmt.Errorf("reloading index: %w", err)
	}
	e.mu.Lock()
	old := e.file
	e.state = state
	e.file = file
	e.mu.Unlock()
	if err := old.Close(); err != nil {
		e.logger.Warn("closing previous posting file", "error", err)
	}
	e.countReload("success")
	e.observe(state, file)
	e.logger.Info("index reloaded",
		"vocabulary_size", state.VocabularySize(),
		"docs_indexed", state.DocsIndexed,
	)
	return nil
}

// Close persists a pending vocabulary and releases the posting file.
func (e *Engine) Close() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	saveErr := e.persistPending()
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(saveErr, e.file.Close())
}

func (e *Engine) observe(state *index.State, file *postings.File) {
	if e.metrics == nil {
		return
	}
	e.metrics.VocabularySize.Set(float64(state.VocabularySize()))
	e.metrics.PostingBytes.Set(float64(file.Size()))
}

func (e *Engine) countMerge(status string) {
	if e.metrics != nil {
		e.metrics.MergesTotal.WithLabelValues(status).Inc()
	}
}

func (e *Engine) countReload(status string) {
	if e.metrics != nil {
		e.metrics.IndexReloadsTotal.WithLabelValues(status).Inc()
	}
}
