// Package consumer drives the indexer from the document-ingest topic. Events
// are collected into batches, validated and merged with one IndexBatch call
// per batch; offsets are committed only after the merge is persisted.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
	"github.com/BScong/text-indexing/internal/ingestion"
	"github.com/BScong/text-indexing/internal/ingestion/validator"
	"github.com/BScong/text-indexing/pkg/kafka"
)

// BatchIndexer merges a batch of documents into the index.
type BatchIndexer interface {
	IndexBatch(ctx context.Context, docs []corpus.Document) (indexer.BatchStats, error)
}

type batchSource interface {
	StartBatch(ctx context.Context, size int, timeout time.Duration, handler kafka.BatchHandler) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	source    batchSource
	engine    BatchIndexer
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates an IndexConsumer. batchSize is the number of events merged
// together; timeout bounds how long a partial batch waits.
func New(c *kafka.Consumer, engine BatchIndexer, batchSize int, timeout time.Duration) *IndexConsumer {
	return newIndexConsumer(c, engine, batchSize, timeout)
}

func newIndexConsumer(src batchSource, engine BatchIndexer, batchSize int, timeout time.Duration) *IndexConsumer {
	return &IndexConsumer{
		source:    src,
		engine:    engine,
		batchSize: batchSize,
		timeout:   timeout,
		logger:    slog.Default().With("component", "index-consumer"),
	}
}

// Start consumes until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting", "batch_size", ic.batchSize, "batch_timeout", ic.timeout)
	return ic.source.StartBatch(ctx, ic.batchSize, ic.timeout, ic.HandleBatch)
}

// HandleBatch decodes and validates msgs and indexes the survivors in one
// merge. Undecodable or invalid events are logged and dropped so they cannot
// block the partition. A later event for the same document id replaces an
// earlier one in the batch.
func (ic *IndexConsumer) HandleBatch(ctx context.Context, msgs []kafka.Message) error {
	docs := make([]corpus.Document, 0, len(msgs))
	seen := make(map[uint32]int, len(msgs))
	for _, msg := range msgs {
		event, err := kafka.DecodeJSON[ingestion.IngestEvent](msg.Value)
		if err != nil {
			ic.logger.Error("failed to decode ingest event",
				"error", err,
				"key", string(msg.Key),
				"offset", msg.Offset,
			)
			continue
		}
		if err := validator.ValidateIngestEvent(&event); err != nil {
			ic.logger.Warn("dropping invalid ingest event",
				"doc_id", event.DocumentID,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}
		doc := event.Document()
		if i, ok := seen[doc.ID]; ok {
			docs[i] = doc
			continue
		}
		seen[doc.ID] = len(docs)
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil
	}

	stats, err := ic.engine.IndexBatch(ctx, docs)
	if err != nil {
		return err
	}
	ic.logger.Info("batch indexed",
		"documents", stats.Documents,
		"new_terms", stats.NewTerms,
		"updated_terms", stats.UpdatedTerms,
		"docs_indexed", stats.DocsIndexed,
	)
	return nil
}
