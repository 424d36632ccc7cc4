// Package index holds the vocabulary side of the inverted index: per-term
// posting locations and statistics, the corpus document count, the term
// context vectors, and the per-batch term-frequency table the merge consumes.
package index

import (
	"sort"

	"github.com/BScong/text-indexing/internal/indexer/postings"
	"github.com/BScong/text-indexing/internal/indexer/semantic"
)

// TermEntry locates a term's posting list and carries its statistics.
type TermEntry struct {
	Location postings.Location
	DocFreq  uint32
	IDF      float64
}

// State is everything persisted next to the posting file. PostingBytes is
// the size of the posting file the locations were written against.
type State struct {
	DocsIndexed    uint64
	PostingBytes   uint64
	Terms          map[string]TermEntry
	ContextVectors map[string]semantic.Vector
}

// NewState returns an empty index state.
func NewState() *State {
	return &State{
		Terms:          make(map[string]TermEntry),
		ContextVectors: make(map[string]semantic.Vector),
	}
}

// Lookup returns the entry for term.
func (s *State) Lookup(term string) (TermEntry, bool) {
	e, ok := s.Terms[term]
	return e, ok
}

// VocabularySize returns the number of distinct terms.
func (s *State) VocabularySize() int {
	return len(s.Terms)
}

// SortedTerms returns the vocabulary in lexical order.
func (s *State) SortedTerms() []string {
	terms := make([]string, 0, len(s.Terms))
	for t := range s.Terms {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// Clone returns a copy that can be mutated without touching s. Context
// vectors are deep-copied because the merge updates them in place.
func (s *State) Clone() *State {
	c := &State{
		DocsIndexed:    s.DocsIndexed,
		PostingBytes:   s.PostingBytes,
		Terms:          make(map[string]TermEntry, len(s.Terms)),
		ContextVectors: make(map[string]semantic.Vector, len(s.ContextVectors)),
	}
	for t, e := range s.Terms {
		c.Terms[t] = e
	}
	for t, v := range s.ContextVectors {
		c.ContextVectors[t] = v.Clone()
	}
	return c
}
