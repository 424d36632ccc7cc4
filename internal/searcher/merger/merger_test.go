package merger

import (
	"math"
	"testing"

	"github.com/BScong/text-indexing/internal/indexer/postings"
	"github.com/BScong/text-indexing/internal/searcher/ranker"
)

func TestTopKEvictsMinimum(t *testing.T) {
	top := NewTopK(2)
	for _, d := range []ranker.ScoredDoc{{DocID: 1, Score: 0.5}, {DocID: 2, Score: 0.9}, {DocID: 3, Score: 0.7}, {DocID: 4, Score: 0.7}, {DocID: 5, Score: 0.1}} {
		top.Offer(d)
	}
	got := top.Sorted()
	if len(got) != 2 || got[0].DocID != 2 || got[1].DocID != 3 {
		t.Fatalf("unexpected top-2 %v", got)
	}
	if min, _ := top.Min(); min.DocID != 3 {
		t.Errorf("unexpected minimum %v", min)
	}
}

func TestTopKRejectsEqualScoreWhenFull(t *testing.T) {
	top := NewTopK(1)
	top.Offer(ranker.ScoredDoc{DocID: 5, Score: 1})
	if top.Offer(ranker.ScoredDoc{DocID: 1, Score: 1}) {
		t.Fatal("equal score must not evict")
	}
	if got := top.Sorted(); got[0].DocID != 5 {
		t.Fatalf("unexpected set %v", got)
	}
}

func TestTopKZero(t *testing.T) {
	top := NewTopK(0)
	if top.Offer(ranker.ScoredDoc{DocID: 1, Score: 1}) || top.Len() != 0 {
		t.Fatal("k=0 must hold nothing")
	}
}

func list(pairs ...float64) postings.List {
	l := make(postings.List, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		l = append(l, postings.Entry{DocID: uint32(pairs[i]), Score: float32(pairs[i+1])})
	}
	return l
}

func TestThresholdAveragesAcrossLists(t *testing.T) {
	lists := []postings.List{
		list(1, 0.9, 2, 0.5),
		list(2, 0.8, 1, 0.3),
	}
	got := Threshold(lists, 1)
	if len(got) != 1 {
		t.Fatalf("expected one result, got %v", got)
	}
	if got[0].DocID != 2 {
		t.Fatalf("expected document 2, got %v", got)
	}
	if math.Abs(got[0].Score-0.65) > 1e-6 {
		t.Errorf("expected average 0.65, got %v", got[0].Score)
	}
}

func TestThresholdSortsUnorderedInput(t *testing.T) {
	lists := []postings.List{
		list(2, 0.5, 1, 0.9),
		list(1, 0.3, 2, 0.8),
	}
	got := Threshold(lists, 2)
	if len(got) != 2 || got[0].DocID != 2 || got[1].DocID != 1 {
		t.Fatalf("unexpected result %v", got)
	}
	if math.Abs(got[1].Score-0.6) > 1e-6 {
		t.Errorf("expected 0.6 for document 1, got %v", got[1].Score)
	}
}

func TestThresholdRandomAccessCountsMissingLists(t *testing.T) {
	// Document 3 sits only in the long list; after the shortest list runs
	// out it is completed with a zero contribution from the other list.
	lists := []postings.List{
		list(1, 1.0),
		list(3, 0.9, 1, 0.2),
	}
	got := Threshold(lists, 3)
	if len(got) != 2 {
		t.Fatalf("expected two documents, got %v", got)
	}
	if got[0].DocID != 1 || math.Abs(got[0].Score-0.6) > 1e-6 {
		t.Errorf("unexpected first result %v", got[0])
	}
	if got[1].DocID != 3 || math.Abs(got[1].Score-0.45) > 1e-6 {
		t.Errorf("unexpected second result %v", got[1])
	}
}

func TestThresholdSingleList(t *testing.T) {
	got := Threshold([]postings.List{list(4, 0.1, 5, 0.7, 6, 0.4)}, 2)
	if len(got) != 2 || got[0].DocID != 5 || got[1].DocID != 6 {
		t.Fatalf("unexpected result %v", got)
	}
}

func TestThresholdEmpty(t *testing.T) {
	if got := Threshold(nil, 3); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
	if got := Threshold([]postings.List{list(1, 1)}, 0); len(got) != 0 {
		t.Fatalf("expected empty result for k=0, got %v", got)
	}
}
