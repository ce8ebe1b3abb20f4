package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/floringheorghiu/multilingual-rag/internal/embedder"
	"github.com/floringheorghiu/multilingual-rag/internal/storage"
)

// Mode defines how a query is matched.
type Mode string

const (
	ModeHybrid  Mode = "hybrid"  // vector + BM25 fused with RRF
	ModeVector  Mode = "vector"  // vector similarity only
	ModeKeyword Mode = "keyword" // BM25 only
)

const (
	DefaultLimit       = 10
	MaxLimit           = 100
	DefaultRRFConstant = 60
	DefaultCacheTTL    = time.Hour
	cacheSize          = 1000
)

var (
	// ErrEmptyQuery is returned for blank queries
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrNoEmbedder is returned for vector queries without an embedder
	ErrNoEmbedder = errors.New("vector search needs an embedder")
)

// QueryEmbedder embeds a query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text, id string) (*embedder.EmbeddingResult, error)
}

// Request describes one query against a local index.
type Request struct {
	Index       string
	Query       string
	Limit       int
	Mode        Mode
	Filters     *storage.SearchFilters
	UseCache    bool
	CacheTTL    time.Duration
	RRFConstant float64
}

// Result is one matching chunk.
type Result struct {
	ID               string  `json:"id"`
	Rank             int     `json:"rank"`
	Score            float64 `json:"score"`
	Title            string  `json:"title,omitempty"`
	FilePath         string  `json:"filepath"`
	Language         string  `json:"language"`
	OriginalLanguage string  `json:"original_language"`
	Translated       bool    `json:"translated"`
	ChunkIndex       int     `json:"chunk_index"`
	Content          string  `json:"content"`
}

// Response holds ranked results and how they were produced.
type Response struct {
	Results       []Result      `json:"results"`
	Mode          Mode          `json:"mode"`
	Duration      time.Duration `json:"duration"`
	CacheHit      bool          `json:"cache_hit"`
	VectorResults int           `json:"vector_results"`
	TextResults   int           `json:"text_results"`
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Searcher queries the local SQLite index.
type Searcher struct {
	store    storage.Storage
	embedder QueryEmbedder
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
	now      func() time.Time
}

// New creates a Searcher. emb may be nil, which limits it to keyword
// queries.
func New(store storage.Storage, emb QueryEmbedder) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{
		store:    store,
		embedder: emb,
		cache:    cache,
		now:      time.Now,
	}
}

// Search runs req.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := s.now()
	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached, ok := s.checkCache(req); ok {
			cached.CacheHit = true
			cached.Duration = s.now().Sub(start)
			return cached, nil
		}
	}

	var (
		resp *Response
		err  error
	)
	switch req.Mode {
	case ModeHybrid:
		resp, err = s.hybridSearch(ctx, req)
	case ModeVector:
		resp, err = s.vectorSearch(ctx, req)
	case ModeKeyword:
		resp, err = s.keywordSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	resp.Mode = req.Mode
	resp.Duration = s.now().Sub(start)
	if req.UseCache && len(resp.Results) > 0 {
		s.storeInCache(req, resp)
	}
	return resp, nil
}

func (s *Searcher) queryVector(ctx context.Context, query string) ([]float32, error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	emb, err := s.embedder.Embed(ctx, query, "query")
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return emb.Vector, nil
}

type searchResult struct {
	vector []storage.VectorResult
	text   []storage.TextResult
	err    error
}

// hybridSearch runs both searches concurrently and fuses them. One side may
// fail.
func (s *Searcher) hybridSearch(ctx context.Context, req Request) (*Response, error) {
	vectorCh := make(chan searchResult, 1)
	textCh := make(chan searchResult, 1)

	go func() {
		var res searchResult
		vec, err := s.queryVector(ctx, req.Query)
		if err != nil {
			res.err = err
		} else {
			res.vector, res.err = s.store.SearchVector(ctx, req.Index, vec, req.Limit*2, req.Filters)
		}
		vectorCh <- res
	}()
	go func() {
		var res searchResult
		res.text, res.err = s.store.SearchText(ctx, req.Index, req.Query, req.Limit*2, req.Filters)
		textCh <- res
	}()

	var vectorRes, textRes searchResult
	for done := 0; done < 2; done++ {
		select {
		case vectorRes = <-vectorCh:
		case textRes = <-textCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if vectorRes.err != nil && textRes.err != nil {
		return nil, fmt.Errorf("both searches failed: vector=%w, text=%v", vectorRes.err, textRes.err)
	}

	fused := applyRRF(vectorRes.vector, textRes.text, req.RRFConstant)
	results, err := s.fetchResults(ctx, req.Index, fused, req.Limit)
	if err != nil {
		return nil, err
	}
	return &Response{
		Results:       results,
		VectorResults: len(vectorRes.vector),
		TextResults:   len(textRes.text),
	}, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, req Request) (*Response, error) {
	vec, err := s.queryVector(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.SearchVector(ctx, req.Index, vec, req.Limit, req.Filters)
	if err != nil {
		return nil, err
	}
	ranked := make([]rankedResult, len(hits))
	for i, h := range hits {
		ranked[i] = rankedResult{id: h.DocumentID, score: h.SimilarityScore, rank: i + 1}
	}
	results, err := s.fetchResults(ctx, req.Index, ranked, req.Limit)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, VectorResults: len(hits)}, nil
}

func (s *Searcher) keywordSearch(ctx context.Context, req Request) (*Response, error) {
	hits, err := s.store.SearchText(ctx, req.Index, req.Query, req.Limit, req.Filters)
	if err != nil {
		return nil, err
	}
	ranked := make([]rankedResult, len(hits))
	for i, h := range hits {
		ranked[i] = rankedResult{id: h.DocumentID, score: h.BM25Score, rank: i + 1}
	}
	results, err := s.fetchResults(ctx, req.Index, ranked, req.Limit)
	if err != nil {
		return nil, err
	}
	return &Response{Results: results, TextResults: len(hits)}, nil
}

type rankedResult struct {
	id    string
	score float64
	rank  int
}

// applyRRF fuses rankings with Reciprocal Rank Fusion:
// RRF(d) = sum over rankings of 1/(k + rank(d)).
func applyRRF(vector []storage.VectorResult, text []storage.TextResult, k float64) []rankedResult {
	if k == 0 {
		k = DefaultRRFConstant
	}
	scores := make(map[string]float64, len(vector)+len(text))
	for rank, v := range vector {
		scores[v.DocumentID] += 1.0 / (k + float64(rank+1))
	}
	for rank, t := range text {
		scores[t.DocumentID] += 1.0 / (k + float64(rank+1))
	}

	results := make([]rankedResult, 0, len(scores))
	for id, score := range scores {
		results = append(results, rankedResult{id: id, score: score})
	}
	sortRankedResults(results)
	for i := range results {
		results[i].rank = i + 1
	}
	return results
}

// sortRankedResults orders by score descending, then id for stable output.
func sortRankedResults(results []rankedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id < results[j].id
	})
}

// fetchResults loads the documents behind the top ranked ids. Documents
// deleted since the search ran are skipped.
func (s *Searcher) fetchResults(ctx context.Context, index string, ranked []rankedResult, limit int) ([]Result, error) {
	limit = min(limit, len(ranked))
	results := make([]Result, 0, limit)
	for _, rr := range ranked[:limit] {
		doc, err := s.store.GetDocument(ctx, index, rr.id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load document %s: %w", rr.id, err)
		}
		results = append(results, Result{
			ID:               doc.ID,
			Rank:             rr.rank,
			Score:            rr.score,
			Title:            doc.Title,
			FilePath:         doc.FilePath,
			Language:         doc.Language,
			OriginalLanguage: doc.OriginalLanguage,
			Translated:       doc.Translated,
			ChunkIndex:       doc.ChunkIndex,
			Content:          doc.Content,
		})
	}
	return results, nil
}

func (s *Searcher) validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}
	if req.Index == "" {
		return fmt.Errorf("index name is required")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if req.RRFConstant == 0 {
		req.RRFConstant = DefaultRRFConstant
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

func (s *Searcher) checkCache(req Request) (*Response, bool) {
	key := queryKey(req)

	s.cacheMu.RLock()
	entry, ok := s.cache.Get(key)
	if !ok {
		s.cacheMu.RUnlock()
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil, false
	}
	resp := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return resp, true
}

func (s *Searcher) storeInCache(req Request, resp *Response) {
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: s.now().Add(req.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(queryKey(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Call it after re-indexing.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses.
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = append([]Result(nil), src.Results...)
	return &dst
}

func queryKey(req Request) [32]byte {
	var b strings.Builder
	b.WriteString(req.Index)
	b.WriteString("|")
	b.WriteString(req.Query)
	b.WriteString("|")
	b.WriteString(string(req.Mode))
	b.WriteString("|")
	b.WriteString(strconv.Itoa(req.Limit))
	if f := req.Filters; f != nil {
		b.WriteString("|filters:")
		b.WriteString(f.Language)
		b.WriteString("|")
		b.WriteString(f.FilePattern)
		b.WriteString("|")
		b.WriteString(strconv.FormatFloat(f.MinRelevance, 'f', 2, 64))
	}
	return sha256.Sum256([]byte(b.String()))
}
