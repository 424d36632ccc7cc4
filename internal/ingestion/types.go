// Package ingestion defines the Kafka event schemas exchanged between the
// corpus publisher, the indexer and the search service.
package ingestion

import (
	"time"

	"github.com/BScong/text-indexing/internal/corpus"
)

// IngestEvent carries one parsed document on the document-ingest topic.
type IngestEvent struct {
	DocumentID uint32    `json:"document_id"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	Source     string    `json:"source"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Document converts the event back into the form the indexer consumes.
func (e IngestEvent) Document() corpus.Document {
	return corpus.Document{
		ID:     e.DocumentID,
		Title:  e.Title,
		Text:   e.Text,
		Source: e.Source,
	}
}

// NewIngestEvent wraps a parsed document for publishing.
func NewIngestEvent(doc corpus.Document, at time.Time) IngestEvent {
	return IngestEvent{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Text:       doc.Text,
		Source:     doc.Source,
		IngestedAt: at.UTC(),
	}
}

// IndexCompleteEvent is published on the index-complete topic after a batch
// has been merged and persisted. Readers in other processes reload on it.
type IndexCompleteEvent struct {
	Documents      int       `json:"documents"`
	NewTerms       int       `json:"new_terms"`
	UpdatedTerms   int       `json:"updated_terms"`
	VocabularySize int       `json:"vocabulary_size"`
	DocsIndexed    uint64    `json:"docs_indexed"`
	PostingBytes   uint64    `json:"posting_bytes"`
	CommittedAt    time.Time `json:"committed_at"`
}
