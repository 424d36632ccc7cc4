package merger

import (
	"sort"

	"github.com/BScong/text-indexing/internal/indexer/postings"
	"github.com/BScong/text-indexing/internal/searcher/ranker"
)

type candidate struct {
	avg  float64
	seen int
	in   []bool
}

func (c *candidate) observe(score float64) {
	c.avg = (c.avg*float64(c.seen) + score) / float64(c.seen+1)
	c.seen++
}

// Threshold returns the k documents with the highest average score across
// lists. Lists are walked in lock-step by rank until k documents have been
// seen in every list or the shortest list runs out; documents seen only
// partially are then completed by direct lookup, a list that lacks the
// document adding to the denominator only.
func Threshold(lists []postings.List, k int) []ranker.ScoredDoc {
	top := NewTopK(k)
	if len(lists) == 0 || k <= 0 {
		return top.Sorted()
	}

	sorted := make([]postings.List, len(lists))
	shortest := -1
	for i, l := range lists {
		s := make(postings.List, len(l))
		copy(s, l)
		sort.SliceStable(s, func(a, b int) bool {
			if s[a].Score != s[b].Score {
				return s[a].Score > s[b].Score
			}
			return s[a].DocID < s[b].DocID
		})
		sorted[i] = s
		if shortest < 0 || len(s) < shortest {
			shortest = len(s)
		}
	}

	pending := make(map[uint32]*candidate)
	done := make(map[uint32]bool)
	for rank := 0; rank < shortest && !top.Full(); rank++ {
		for i, l := range sorted {
			p := l[rank]
			if done[p.DocID] {
				continue
			}
			c, ok := pending[p.DocID]
			if !ok {
				c = &candidate{in: make([]bool, len(sorted))}
				pending[p.DocID] = c
			}
			if c.in[i] {
				continue
			}
			c.in[i] = true
			c.observe(float64(p.Score))
			if c.seen == len(sorted) {
				top.Offer(ranker.ScoredDoc{DocID: p.DocID, Score: c.avg})
				delete(pending, p.DocID)
				done[p.DocID] = true
			}
		}
	}

	if len(pending) == 0 {
		return top.Sorted()
	}

	lookups := make([]map[uint32]float32, len(sorted))
	for i, l := range sorted {
		m := make(map[uint32]float32, len(l))
		for _, p := range l {
			m[p.DocID] = p.Score
		}
		lookups[i] = m
	}
	ids := make([]uint32, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	for _, id := range ids {
		c := pending[id]
		for i := range sorted {
			if c.in[i] {
				continue
			}
			if score, ok := lookups[i][id]; ok {
				c.observe(float64(score))
			} else {
				c.avg = c.avg * float64(c.seen) / float64(c.seen+1)
				c.seen++
			}
		}
		top.Offer(ranker.ScoredDoc{DocID: id, Score: c.avg})
	}
	return top.Sorted()
}
