// Package executor evaluates queries against an index snapshot: boolean
// search, threshold top-k, document similarity and word similarity.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BScong/text-indexing/internal/indexer"
	"github.com/BScong/text-indexing/internal/indexer/postings"
	"github.com/BScong/text-indexing/internal/indexer/semantic"
	"github.com/BScong/text-indexing/internal/indexer/tokenizer"
	"github.com/BScong/text-indexing/internal/searcher/merger"
	"github.com/BScong/text-indexing/internal/searcher/parser"
	"github.com/BScong/text-indexing/internal/searcher/ranker"
	"github.com/BScong/text-indexing/pkg/metrics"
)

// Query modes, used as metric labels and in results.
const (
	ModeBoolean      = "boolean"
	ModeTopK         = "topk"
	ModeSimilarDocs  = "similar_docs"
	ModeSimilarWords = "similar_words"
)

const (
	resultHit   = "hit"
	resultZero  = "zero_result"
	resultError = "error"
)

// Index is the read side of the indexer the searcher needs.
type Index interface {
	View(fn func(*indexer.Snapshot) error) error
	Pipeline() tokenizer.Pipeline
	Stats() indexer.Stats
}

// SearchResult is the answer to a boolean or top-k query.
type SearchResult struct {
	Query        string             `json:"query"`
	Normalized   string             `json:"normalized"`
	Mode         string             `json:"mode"`
	TotalHits    int                `json:"total_hits"`
	Results      []ranker.ScoredDoc `json:"results"`
	MissingTerms []string           `json:"missing_terms,omitempty"`
}

// WordScore is a vocabulary term with its similarity to the query term.
type WordScore struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// Searcher answers queries. It never modifies the index.
type Searcher struct {
	index   Index
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Searcher over index. m may be nil.
func New(index Index, m *metrics.Metrics) *Searcher {
	return &Searcher{
		index:   index,
		metrics: m,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Normalize runs query through the indexing text pipeline.
func (s *Searcher) Normalize(query string) string {
	return s.index.Pipeline().PrepareQuery(query)
}

// Search scores every document matching the query. Disjunctive terms add
// their scores; a conjunctive group adds the summed scores of the documents
// containing all of its terms. Unknown terms are skipped and reported.
func (s *Searcher) Search(ctx context.Context, query string) (*SearchResult, error) {
	start := time.Now()
	normalized := s.Normalize(query)
	plan := parser.Parse(normalized)
	result := &SearchResult{
		Query:      query,
		Normalized: normalized,
		Mode:       ModeBoolean,
		Results:    []ranker.ScoredDoc{},
	}

	err := s.index.View(func(snap *indexer.Snapshot) error {
		totals := ranker.Scores{}
		for _, group := range plan.Groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			lists, missing, err := readGroup(snap, group)
			if err != nil {
				return err
			}
			if missing != "" {
				s.logger.Info("term not found", "term", missing, "group", group.String())
				result.MissingTerms = append(result.MissingTerms, missing)
				continue
			}
			if group.Conjunctive() {
				totals.Add(ranker.Intersect(lists))
			} else {
				totals.AddList(lists[0])
			}
		}
		result.Results = totals.Ranked(0)
		return nil
	})
	if err != nil {
		s.observe(ModeBoolean, start, 0, err)
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	result.TotalHits = len(result.Results)
	if result.TotalHits == 0 {
		s.logger.Info("no document found", "query", query)
	}
	s.logger.Debug("query executed",
		"query", query,
		"normalized", normalized,
		"groups", len(plan.Groups),
		"results", result.TotalHits,
	)
	s.observe(ModeBoolean, start, result.TotalHits, nil)
	return result, nil
}

// SearchTopK returns the k documents with the highest average score across
// the query's lists. A conjunctive group is one list of summed scores; each
// disjunctive term is its own list. A conjunctive group with an unknown term
// empties the whole result; an unknown disjunctive term contributes no list.
func (s *Searcher) SearchTopK(ctx context.Context, query string, k int) (*SearchResult, error) {
	start := time.Now()
	normalized := s.Normalize(query)
	plan := parser.Parse(normalized)
	result := &SearchResult{
		Query:      query,
		Normalized: normalized,
		Mode:       ModeTopK,
		Results:    []ranker.ScoredDoc{},
	}

	err := s.index.View(func(snap *indexer.Snapshot) error {
		var lists []postings.List
		for _, group := range plan.Groups {
			if err := ctx.Err(); err != nil {
				return err
			}
			groupLists, missing, err := readGroup(snap, group)
			if err != nil {
				return err
			}
			if missing != "" {
				s.logger.Info("term not found", "term", missing, "group", group.String())
				result.MissingTerms = append(result.MissingTerms, missing)
				if group.Conjunctive() {
					lists = nil
					return nil
				}
				continue
			}
			if group.Conjunctive() {
				lists = append(lists, ranker.Intersect(groupLists).ToList())
			} else {
				lists = append(lists, groupLists[0])
			}
		}
		result.Results = merger.Threshold(lists, k)
		return nil
	})
	if err != nil {
		s.observe(ModeTopK, start, 0, err)
		return nil, fmt.Errorf("top-%d search %q: %w", k, query, err)
	}

	result.TotalHits = len(result.Results)
	s.observe(ModeTopK, start, result.TotalHits, nil)
	return result, nil
}

// readGroup reads the lists of every term in group. It stops at the first
// term outside the vocabulary and returns it as missing.
func readGroup(snap *indexer.Snapshot, group parser.Group) ([]postings.List, string, error) {
	lists := make([]postings.List, 0, len(group.Terms))
	for _, term := range group.Terms {
		list, ok, err := snap.Postings(term)
		if err != nil {
			return nil, "", fmt.Errorf("reading postings of %q: %w", term, err)
		}
		if !ok {
			return nil, term, nil
		}
		lists = append(lists, list)
	}
	return lists, "", nil
}

// SimilarDocuments ranks other documents by the dot product of their term
// scores with docID's. An unknown document has no similar documents.
func (s *Searcher) SimilarDocuments(ctx context.Context, docID uint32, k int) ([]ranker.ScoredDoc, error) {
	start := time.Now()
	out := []ranker.ScoredDoc{}
	if k <= 0 {
		return out, nil
	}
	err := s.index.View(func(snap *indexer.Snapshot) error {
		type weighted struct {
			list   postings.List
			weight float64
		}
		var shared []weighted
		for _, term := range snap.Terms() {
			if err := ctx.Err(); err != nil {
				return err
			}
			list, _, err := snap.Postings(term)
			if err != nil {
				return fmt.Errorf("reading postings of %q: %w", term, err)
			}
			if w, ok := list.Find(docID); ok {
				shared = append(shared, weighted{list: list, weight: float64(w)})
			}
		}

		scores := ranker.Scores{}
		for _, sw := range shared {
			for _, p := range sw.list {
				if p.DocID == docID {
					continue
				}
				scores[p.DocID] += float64(p.Score) * sw.weight
			}
		}
		out = scores.Ranked(k)
		return nil
	})
	if err != nil {
		s.observe(ModeSimilarDocs, start, 0, err)
		return nil, fmt.Errorf("similar documents of %d: %w", docID, err)
	}
	s.observe(ModeSimilarDocs, start, len(out), nil)
	return out, nil
}

// SimilarWords ranks vocabulary terms by the dot product of their context
// vectors with term's. The term itself is never returned.
func (s *Searcher) SimilarWords(ctx context.Context, term string, k int) ([]WordScore, error) {
	start := time.Now()
	out := []WordScore{}
	terms := s.index.Pipeline().Terms(term)
	if len(terms) == 0 {
		s.observe(ModeSimilarWords, start, 0, nil)
		return out, nil
	}
	normalized := terms[0]
	err := s.index.View(func(snap *indexer.Snapshot) error {
		target, ok := snap.ContextVector(normalized)
		if !ok {
			s.logger.Info("term not found", "term", term, "normalized", normalized)
			return nil
		}
		for other, v := range snap.ContextVectors() {
			if other == normalized {
				continue
			}
			out = append(out, WordScore{Term: other, Score: semantic.Dot(target, v)})
		}
		return ctx.Err()
	})
	if err != nil {
		s.observe(ModeSimilarWords, start, 0, err)
		return nil, fmt.Errorf("similar words of %q: %w", term, err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Term < out[j].Term
	})
	if k < 0 {
		k = 0
	}
	if len(out) > k {
		out = out[:k]
	}
	s.observe(ModeSimilarWords, start, len(out), nil)
	return out, nil
}

// Stats returns the vocabulary size and document count.
func (s *Searcher) Stats() indexer.Stats {
	return s.index.Stats()
}

func (s *Searcher) observe(mode string, start time.Time, results int, err error) {
	if s.metrics == nil {
		return
	}
	status := resultHit
	switch {
	case err != nil:
		status = resultError
	case results == 0:
		status = resultZero
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(mode, status).Inc()
	s.metrics.SearchLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err == nil {
		s.metrics.SearchResultsCount.WithLabelValues(mode).Observe(float64(results))
	}
}
