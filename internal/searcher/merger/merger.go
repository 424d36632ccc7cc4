// Package merger combines ranked lists: a bounded top-k set and Fagin's
// threshold aggregation over several posting lists.
package merger

import (
	"container/heap"

	"github.com/BScong/text-indexing/internal/searcher/ranker"
)

// TopK keeps the k best documents seen so far.
type TopK struct {
	k int
	h scoredDocHeap
}

// NewTopK returns an empty set bounded to k entries.
func NewTopK(k int) *TopK {
	return &TopK{k: k, h: make(scoredDocHeap, 0, max(k, 0))}
}

// Offer inserts doc if the set is not full or doc scores strictly above the
// current minimum, which is then evicted. It reports whether doc was kept.
func (t *TopK) Offer(doc ranker.ScoredDoc) bool {
	if t.k <= 0 {
		return false
	}
	if t.h.Len() < t.k {
		heap.Push(&t.h, doc)
		return true
	}
	if doc.Score <= t.h[0].Score {
		return false
	}
	t.h[0] = doc
	heap.Fix(&t.h, 0)
	return true
}

// Len returns the number of documents held.
func (t *TopK) Len() int {
	return t.h.Len()
}

// Full reports whether the set holds k documents.
func (t *TopK) Full() bool {
	return t.h.Len() >= t.k
}

// Min returns the lowest-scoring document held.
func (t *TopK) Min() (ranker.ScoredDoc, bool) {
	if t.h.Len() == 0 {
		return ranker.ScoredDoc{}, false
	}
	return t.h[0], true
}

// Sorted returns the held documents by score descending.
func (t *TopK) Sorted() []ranker.ScoredDoc {
	out := make([]ranker.ScoredDoc, len(t.h))
	copy(out, t.h)
	ranker.Sort(out)
	return out
}

type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
