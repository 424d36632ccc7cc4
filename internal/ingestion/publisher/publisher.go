// Package publisher moves documents and index notifications onto Kafka. It
// feeds parsed corpus documents to the document-ingest topic and announces
// committed merges on the index-complete topic so search processes reload.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
	"github.com/BScong/text-indexing/internal/ingestion"
	"github.com/BScong/text-indexing/pkg/kafka"
	"github.com/BScong/text-indexing/pkg/resilience"
)

// EventWriter is the part of a Kafka producer the publishers need.
type EventWriter interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Publisher streams corpus documents to the document-ingest topic.
type Publisher struct {
	writer EventWriter
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Publisher writing through w.
func New(w EventWriter) *Publisher {
	return &Publisher{
		writer: w,
		now:    time.Now,
		logger: slog.Default().With("component", "publisher"),
	}
}

// PublishDocuments sends one IngestEvent per document in a single write.
// Events are keyed by document id so replays land on the same partition.
func (p *Publisher) PublishDocuments(ctx context.Context, docs []corpus.Document) error {
	if len(docs) == 0 {
		return nil
	}
	at := p.now()
	events := make([]kafka.Event, 0, len(docs))
	for _, doc := range docs {
		events = append(events, kafka.Event{
			Key:   strconv.FormatUint(uint64(doc.ID), 10),
			Value: ingestion.NewIngestEvent(doc, at),
		})
	}
	err := resilience.Retry(ctx, "publish-documents", resilience.Backoff{}, func() error {
		return p.writer.PublishBatch(ctx, events)
	})
	if err != nil {
		return fmt.Errorf("publishing %d documents: %w", len(docs), err)
	}
	return nil
}

// PublishSource drains src, publishing each batch as it is read. It returns
// the number of documents published.
func (p *Publisher) PublishSource(ctx context.Context, src corpus.Source) (int, error) {
	total := 0
	for {
		docs, err := src.NextBatch(ctx)
		if errors.Is(err, io.EOF) {
			p.logger.Info("corpus published", "documents", total)
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("reading corpus: %w", err)
		}
		if err := p.PublishDocuments(ctx, docs); err != nil {
			return total, err
		}
		total += len(docs)
		p.logger.Debug("batch published", "documents", len(docs), "total", total)
	}
}

// Notifier announces committed merges. It satisfies indexer.Notifier.
type Notifier struct {
	writer EventWriter
	now    func() time.Time
	logger *slog.Logger
}

var _ indexer.Notifier = (*Notifier)(nil)

// NewNotifier creates a Notifier writing through w.
func NewNotifier(w EventWriter) *Notifier {
	return &Notifier{
		writer: w,
		now:    time.Now,
		logger: slog.Default().With("component", "index-notifier"),
	}
}

// NotifyIndexed publishes an IndexCompleteEvent describing the batch.
func (n *Notifier) NotifyIndexed(ctx context.Context, stats indexer.BatchStats) error {
	event := kafka.Event{
		Key: "index",
		Value: ingestion.IndexCompleteEvent{
			Documents:      stats.Documents,
			NewTerms:       stats.NewTerms,
			UpdatedTerms:   stats.UpdatedTerms,
			VocabularySize: stats.VocabularySize,
			DocsIndexed:    stats.DocsIndexed,
			PostingBytes:   stats.PostingBytes,
			CommittedAt:    n.now().UTC(),
		},
	}
	err := resilience.Retry(ctx, "notify-indexed", resilience.Backoff{}, func() error {
		return n.writer.PublishBatch(ctx, []kafka.Event{event})
	})
	if err != nil {
		return fmt.Errorf("publishing index-complete: %w", err)
	}
	n.logger.Debug("index-complete published", "docs_indexed", stats.DocsIndexed)
	return nil
}
