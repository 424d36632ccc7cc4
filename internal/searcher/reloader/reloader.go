// Package reloader keeps a search process in step with the indexer. On each
// index-complete event it reloads the persisted index and drops cached query
// results computed against the previous state.
package reloader

import (
	"context"
	"log/slog"

	"github.com/BScong/text-indexing/internal/ingestion"
	"github.com/BScong/text-indexing/pkg/kafka"
)

// Index is reloaded from disk.
type Index interface {
	Reload() error
}

// Invalidator drops cached results.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Reloader struct {
	index  Index
	cache  Invalidator
	logger *slog.Logger
}

// New creates a Reloader. cache may be nil.
func New(index Index, cache Invalidator) *Reloader {
	return &Reloader{
		index:  index,
		cache:  cache,
		logger: slog.Default().With("component", "reloader"),
	}
}

// HandleMessage is a kafka.MessageHandler for the index-complete topic.
// A failed reload is returned and the event stays uncommitted; the index
// keeps serving the state it had.
func (rl *Reloader) HandleMessage(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[ingestion.IndexCompleteEvent](value)
	if err != nil {
		// the payload only signals that something changed
		rl.logger.Warn("undecodable index-complete event, reloading anyway", "error", err)
	}
	if err := rl.index.Reload(); err != nil {
		rl.logger.Error("index reload failed", "error", err)
		return err
	}
	if rl.cache != nil {
		if err := rl.cache.Invalidate(ctx); err != nil {
			rl.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	rl.logger.Info("index reloaded after commit",
		"docs_indexed", event.DocsIndexed,
		"vocabulary_size", event.VocabularySize,
		"committed_at", event.CommittedAt,
	)
	return nil
}
