// Package validator checks ingest events before they reach the indexer.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BScong/text-indexing/internal/ingestion"
	apperrors "github.com/BScong/text-indexing/pkg/errors"
)

const (
	maxTitleLength = 1024
	maxTextLength  = 4 << 20
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidInput
}

// ValidateIngestEvent rejects events the indexer cannot place. Empty text is
// allowed: such a record still counts towards the indexed document total.
func ValidateIngestEvent(ev *ingestion.IngestEvent) error {
	errs := make(map[string]string)

	if strings.TrimSpace(ev.Source) == "" {
		errs["source"] = "source file is required"
	}
	if len(ev.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if len(ev.Text) > maxTextLength {
		errs["text"] = fmt.Sprintf("text must be at most %d bytes", maxTextLength)
	}
	if ev.IngestedAt.IsZero() {
		errs["ingested_at"] = "ingestion time is required"
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
