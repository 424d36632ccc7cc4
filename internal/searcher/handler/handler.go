// Package handler exposes the query engine over HTTP. Boolean and top-k
// results are cached by normalized query; result documents are decorated
// with titles from the catalogue when one is configured.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BScong/text-indexing/internal/corpus"
	"github.com/BScong/text-indexing/internal/indexer"
	"github.com/BScong/text-indexing/internal/searcher/cache"
	"github.com/BScong/text-indexing/internal/searcher/executor"
	"github.com/BScong/text-indexing/internal/searcher/ranker"
	"github.com/BScong/text-indexing/pkg/config"
	apperrors "github.com/BScong/text-indexing/pkg/errors"
	"github.com/BScong/text-indexing/pkg/logger"
)

// Searcher is the query surface served by the handler.
type Searcher interface {
	Normalize(query string) string
	Search(ctx context.Context, query string) (*executor.SearchResult, error)
	SearchTopK(ctx context.Context, query string, k int) (*executor.SearchResult, error)
	SimilarDocuments(ctx context.Context, docID uint32, k int) ([]ranker.ScoredDoc, error)
	SimilarWords(ctx context.Context, term string, k int) ([]executor.WordScore, error)
	Stats() indexer.Stats
}

// TitleLookup resolves document ids to headlines.
type TitleLookup interface {
	Titles(ctx context.Context, ids []uint32) (map[uint32]string, error)
}

// DocumentReader fetches the full text of a document.
type DocumentReader interface {
	ReadDocument(id uint32) (corpus.Document, error)
}

// Hit is one result document.
type Hit struct {
	DocID uint32  `json:"doc_id"`
	Score float64 `json:"score"`
	Title string  `json:"title,omitempty"`
}

// SearchResponse is returned by the search and top-k endpoints.
type SearchResponse struct {
	Query        string   `json:"query"`
	Normalized   string   `json:"normalized"`
	Mode         string   `json:"mode"`
	TotalHits    int      `json:"total_hits"`
	Returned     int      `json:"returned"`
	Results      []Hit    `json:"results"`
	MissingTerms []string `json:"missing_terms,omitempty"`
	CacheHit     bool     `json:"cache_hit"`
	LatencyMs    int64    `json:"latency_ms"`
}

// Handler serves the search API. cache, titles and documents are optional.
type Handler struct {
	searcher     Searcher
	cache        *cache.QueryCache
	titles       TitleLookup
	documents    DocumentReader
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

func New(s Searcher, queryCache *cache.QueryCache, titles TitleLookup, documents DocumentReader, cfg config.SearchConfig) *Handler {
	return &Handler{
		searcher:     s,
		cache:        queryCache,
		titles:       titles,
		documents:    documents,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Register installs the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/topk", h.TopK)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.Document)
	mux.HandleFunc("GET /api/v1/documents/{id}/similar", h.SimilarDocuments)
	mux.HandleFunc("GET /api/v1/words/{term}/similar", h.SimilarWords)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search runs a boolean query. limit caps the number of documents returned;
// total_hits counts all matches.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit, err := h.intParam(r, "limit")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.serveQuery(w, r, query, executor.ModeBoolean, 0, limit, func(ctx context.Context) (*executor.SearchResult, error) {
		return h.searcher.Search(ctx, query)
	})
}

// TopK runs the threshold algorithm for the k best documents.
func (h *Handler) TopK(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	k, err := h.intParam(r, "k")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.serveQuery(w, r, query, executor.ModeTopK, k, k, func(ctx context.Context) (*executor.SearchResult, error) {
		return h.searcher.SearchTopK(ctx, query, k)
	})
}

func (h *Handler) serveQuery(
	w http.ResponseWriter,
	r *http.Request,
	query, mode string,
	k, limit int,
	compute func(ctx context.Context) (*executor.SearchResult, error),
) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var (
		result   *executor.SearchResult
		cacheHit bool
		err      error
	)
	if h.cache != nil {
		key := cache.Key(mode, h.searcher.Normalize(query), k)
		result, cacheHit, err = h.cache.GetOrCompute(ctx, key, func() (*executor.SearchResult, error) {
			return compute(ctx)
		})
	} else {
		result, err = compute(ctx)
	}
	if err != nil {
		h.writeFailure(w, r, "search failed", err)
		return
	}

	docs := result.Results
	if len(docs) > limit {
		docs = docs[:limit]
	}
	resp := SearchResponse{
		Query:        query,
		Normalized:   result.Normalized,
		Mode:         result.Mode,
		TotalHits:    result.TotalHits,
		Returned:     len(docs),
		Results:      h.decorate(ctx, docs),
		MissingTerms: result.MissingTerms,
		CacheHit:     cacheHit,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	log.Info("search completed",
		"query", query,
		"mode", mode,
		"total_hits", resp.TotalHits,
		"returned", resp.Returned,
		"cache_hit", cacheHit,
		"latency_ms", resp.LatencyMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// Document returns the full record of one document.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	id, err := docIDParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.documents == nil {
		h.writeError(w, http.StatusNotImplemented, "document text is not available")
		return
	}
	doc, err := h.documents.ReadDocument(id)
	if err != nil {
		h.writeFailure(w, r, "reading document failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// SimilarDocuments ranks documents sharing terms with {id}.
func (h *Handler) SimilarDocuments(w http.ResponseWriter, r *http.Request) {
	id, err := docIDParam(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	k, err := h.intParam(r, "k")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	docs, err := h.searcher.SimilarDocuments(r.Context(), id, k)
	if err != nil {
		h.writeFailure(w, r, "similarity search failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":  id,
		"results": h.decorate(r.Context(), docs),
	})
}

// SimilarWords ranks vocabulary terms by context-vector similarity.
func (h *Handler) SimilarWords(w http.ResponseWriter, r *http.Request) {
	term := r.PathValue("term")
	k, err := h.intParam(r, "k")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	words, err := h.searcher.SimilarWords(r.Context(), term, k)
	if err != nil {
		h.writeFailure(w, r, "similarity search failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"term":    term,
		"results": words,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.searcher.Stats()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"vocabulary_size": stats.VocabularySize,
		"docs_indexed":    stats.DocsIndexed,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// decorate attaches titles. A failing catalogue leaves titles empty.
func (h *Handler) decorate(ctx context.Context, docs []ranker.ScoredDoc) []Hit {
	hits := make([]Hit, len(docs))
	ids := make([]uint32, len(docs))
	for i, d := range docs {
		hits[i] = Hit{DocID: d.DocID, Score: d.Score}
		ids[i] = d.DocID
	}
	if h.titles == nil || len(docs) == 0 {
		return hits
	}
	titles, err := h.titles.Titles(ctx, ids)
	if err != nil {
		logger.FromContext(ctx).Warn("title lookup failed", "error", err)
		return hits
	}
	for i := range hits {
		hits[i].Title = titles[hits[i].DocID]
	}
	return hits
}

// intParam reads a positive integer parameter, defaulting to defaultLimit
// and capping at maxResults.
func (h *Handler) intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return h.defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return min(n, h.maxResults), nil
}

func docIDParam(r *http.Request) (uint32, error) {
	n, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("document id must be an unsigned 32-bit integer")
	}
	return uint32(n), nil
}

// writeFailure maps err to a status. Client errors echo the message; server
// errors are logged and answered generically.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		logger.FromContext(r.Context()).Error(msg, "error", err, "status_code", status)
		h.writeError(w, status, msg)
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
