// Package ranker accumulates per-document scores from posting lists and
// orders them for output.
package ranker

import (
	"sort"

	"github.com/BScong/text-indexing/internal/indexer/postings"
)

// ScoredDoc is a document with its aggregated relevance score.
type ScoredDoc struct {
	DocID uint32  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Sort orders docs by score descending, ties by document id ascending.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].DocID < docs[j].DocID
	})
}

// Scores maps document ids to accumulated scores.
type Scores map[uint32]float64

// AddList adds every entry of list to the running totals.
func (s Scores) AddList(list postings.List) {
	for _, p := range list {
		s[p.DocID] += float64(p.Score)
	}
}

// Add adds other into s.
func (s Scores) Add(other Scores) {
	for id, score := range other {
		s[id] += score
	}
}

// Ranked returns the scores in output order, truncated to limit when limit is
// positive.
func (s Scores) Ranked(limit int) []ScoredDoc {
	out := make([]ScoredDoc, 0, len(s))
	for id, score := range s {
		out = append(out, ScoredDoc{DocID: id, Score: score})
	}
	Sort(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Intersect keeps the documents present in every list and sums their scores.
// No lists yields no documents.
func Intersect(lists []postings.List) Scores {
	if len(lists) == 0 {
		return Scores{}
	}
	shortest := 0
	for i, l := range lists {
		if len(l) < len(lists[shortest]) {
			shortest = i
		}
	}
	candidates := make(Scores, len(lists[shortest]))
	candidates.AddList(lists[shortest])

	for i, l := range lists {
		if i == shortest {
			continue
		}
		present := make(map[uint32]float32, len(l))
		for _, p := range l {
			present[p.DocID] = p.Score
		}
		for id := range candidates {
			score, ok := present[id]
			if !ok {
				delete(candidates, id)
				continue
			}
			candidates[id] += float64(score)
		}
	}
	return candidates
}

// ToList converts scores into a posting list, the form the top-k merger
// consumes.
func (s Scores) ToList() postings.List {
	list := make(postings.List, 0, len(s))
	for id, score := range s {
		list = append(list, postings.Entry{DocID: id, Score: float32(score)})
	}
	return list
}
