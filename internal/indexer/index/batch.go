package index

import "sort"

// TermFrequency is the augmented term frequency of a term that occurs raw
// times in a document whose most frequent term occurs maxFreq times.
func TermFrequency(raw, maxFreq uint32) float64 {
	if raw == 0 {
		return 0
	}
	if maxFreq == 0 {
		maxFreq = 1
	}
	return 0.5 + 0.5*float64(raw)/float64(maxFreq)
}

// DocTF is a document's smoothed frequency for one term.
type DocTF struct {
	DocID uint32
	TF    float64
}

// Batch is the term -> document -> frequency table of one indexing batch.
// Documents are kept per term in the order they were added.
type Batch struct {
	terms map[string][]DocTF
	docs  []uint32
}

// NewBatch returns an empty table.
func NewBatch() *Batch {
	return &Batch{terms: make(map[string][]DocTF)}
}

// AddDocument counts the normalized terms of one document and records their
// smoothed term frequencies. A document with no terms still counts toward
// the batch size.
func (b *Batch) AddDocument(docID uint32, terms []string) {
	b.docs = append(b.docs, docID)
	counts := make(map[string]uint32, len(terms))
	order := make([]string, 0, len(terms))
	var maxFreq uint32 = 1
	for _, t := range terms {
		if _, ok := counts[t]; !ok {
			order = append(order, t)
		}
		counts[t]++
		if counts[t] > maxFreq {
			maxFreq = counts[t]
		}
	}
	for _, t := range order {
		b.terms[t] = append(b.terms[t], DocTF{DocID: docID, TF: TermFrequency(counts[t], maxFreq)})
	}
}

// Docs returns the batch documents in insertion order.
func (b *Batch) Docs() []uint32 {
	return b.docs
}

// DocCount returns the number of documents in the batch.
func (b *Batch) DocCount() int {
	return len(b.docs)
}

// Postings returns the batch documents containing term.
func (b *Batch) Postings(term string) ([]DocTF, bool) {
	p, ok := b.terms[term]
	return p, ok
}

// Terms returns the batch vocabulary in lexical order.
func (b *Batch) Terms() []string {
	terms := make([]string, 0, len(b.terms))
	for t := range b.terms {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}

// Size returns the number of distinct terms in the batch.
func (b *Batch) Size() int {
	return len(b.terms)
}
