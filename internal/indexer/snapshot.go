package indexer

import (
	"github.com/BScong/text-indexing/internal/indexer/index"
	"github.com/BScong/text-indexing/internal/indexer/postings"
	"github.com/BScong/text-indexing/internal/indexer/semantic"
)

// Snapshot is a read-only view of one committed index state.
type Snapshot struct {
	state *index.State
	file  *postings.File
}

// DocsIndexed returns the number of documents in the index.
func (s *Snapshot) DocsIndexed() uint64 {
	return s.state.DocsIndexed
}

// VocabularySize returns the number of distinct terms.
func (s *Snapshot) VocabularySize() int {
	return s.state.VocabularySize()
}

// Terms returns the vocabulary in lexical order.
func (s *Snapshot) Terms() []string {
	return s.state.SortedTerms()
}

// Lookup returns the vocabulary entry of term.
func (s *Snapshot) Lookup(term string) (index.TermEntry, bool) {
	return s.state.Lookup(term)
}

// Postings reads the posting list of term. A term outside the vocabulary is
// reported by ok, never as an error.
func (s *Snapshot) Postings(term string) (list postings.List, ok bool, err error) {
	entry, ok := s.state.Lookup(term)
	if !ok {
		return nil, false, nil
	}
	list, err = s.file.ReadRange(entry.Location)
	if err != nil {
		return nil, true, err
	}
	return list, true, nil
}

// ReadEntry reads the list an entry points to.
func (s *Snapshot) ReadEntry(entry index.TermEntry) (postings.List, error) {
	return s.file.ReadRange(entry.Location)
}

// ReadNth reads one row of term's list.
func (s *Snapshot) ReadNth(term string, n int) (postings.Entry, bool, error) {
	entry, ok := s.state.Lookup(term)
	if !ok {
		return postings.Entry{}, false, nil
	}
	e, err := s.file.ReadNth(entry.Location, n)
	return e, true, err
}

// ContextVector returns the context vector of term.
func (s *Snapshot) ContextVector(term string) (semantic.Vector, bool) {
	v, ok := s.state.ContextVectors[term]
	return v, ok
}

// ContextVectors returns every context vector. Callers must not modify it.
func (s *Snapshot) ContextVectors() map[string]semantic.Vector {
	return s.state.ContextVectors
}
