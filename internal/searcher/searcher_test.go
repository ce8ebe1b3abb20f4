package searcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floringheorghiu/multilingual-rag/internal/embedder"
	"github.com/floringheorghiu/multilingual-rag/internal/storage"
)

const testIndex = "docs"

// mockEmbedder returns a fixed vector per query
type mockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   int
}

func (m *mockEmbedder) Embed(_ context.Context, text, id string) (*embedder.EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	vec, ok := m.vectors[text]
	if !ok {
		vec = []float32{0, 0, 1}
	}
	return &embedder.EmbeddingResult{ID: id, Vector: vec, Model: "mock"}, nil
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.CreateIndex(ctx, &storage.IndexDefinition{
		Name: testIndex,
		Fields: []storage.Field{
			{Name: "id", Type: storage.FieldString, Key: true},
			{Name: "content", Type: storage.FieldString, Searchable: true},
			{Name: "embedding", Type: storage.FieldVector, Dimensions: 3},
		},
	}))

	docs := []*storage.Document{
		{ID: "refunds_0", Content: "Refunds are processed within five business days.", Title: "refunds",
			FilePath: "policies/refunds.md", Language: "en", OriginalLanguage: "ro", Translated: true,
			TotalChunks: 1, Embedding: []float32{1, 0, 0}},
		{ID: "shipping_0", Content: "Shipping is free for orders above fifty euros.", Title: "shipping",
			FilePath: "policies/shipping.md", Language: "en", OriginalLanguage: "en",
			TotalChunks: 1, Embedding: []float32{0, 1, 0}},
		{ID: "retururi_0", Content: "Rambursarea se face in cinci zile lucratoare.", Title: "retururi",
			FilePath: "ro/retururi.txt", Language: "ro", OriginalLanguage: "ro",
			TotalChunks: 1, Embedding: []float32{0.9, 0.1, 0}},
	}
	results, err := store.UpsertDocuments(ctx, testIndex, docs)
	require.NoError(t, err)
	for _, r := range results {
		require.True(t, r.Status, r.ErrorMessage)
	}
	return store
}

func newTestSearcher(t *testing.T) (*Searcher, *mockEmbedder) {
	t.Helper()
	emb := &mockEmbedder{vectors: map[string][]float32{
		"refunds":         {1, 0, 0},
		"shipping orders": {0, 1, 0},
	}}
	return New(setupStore(t), emb), emb
}

func TestSearch_Modes(t *testing.T) {
	s, _ := newTestSearcher(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mode    Mode
		query   string
		wantTop string
	}{
		{"vector", ModeVector, "refunds", "refunds_0"},
		{"keyword", ModeKeyword, "shipping orders", "shipping_0"},
		{"hybrid", ModeHybrid, "refunds", "refunds_0"},
		{"hybrid defaults", "", "shipping orders", "shipping_0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.Search(ctx, Request{Index: testIndex, Query: tt.query, Mode: tt.mode, Limit: 2})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, tt.wantTop, resp.Results[0].ID)
			assert.Equal(t, 1, resp.Results[0].Rank)
			assert.LessOrEqual(t, len(resp.Results), 2)
			if tt.mode == "" {
				assert.Equal(t, ModeHybrid, resp.Mode)
			}
		})
	}
}

func TestSearch_ResultFields(t *testing.T) {
	s, _ := newTestSearcher(t)

	resp, err := s.Search(context.Background(), Request{Index: testIndex, Query: "refunds", Mode: ModeVector, Limit: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	assert.Equal(t, "policies/refunds.md", r.FilePath)
	assert.Equal(t, "en", r.Language)
	assert.Equal(t, "ro", r.OriginalLanguage)
	assert.True(t, r.Translated)
	assert.Contains(t, r.Content, "Refunds")
	assert.InDelta(t, 1.0, r.Score, 1e-6)
}

func TestSearch_LanguageFilter(t *testing.T) {
	s, _ := newTestSearcher(t)

	resp, err := s.Search(context.Background(), Request{
		Index:   testIndex,
		Query:   "refunds",
		Mode:    ModeVector,
		Filters: &storage.SearchFilters{Language: "ro"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "retururi_0", resp.Results[0].ID)
}

func TestSearch_HybridSurvivesEmbeddingFailure(t *testing.T) {
	s, emb := newTestSearcher(t)
	emb.err = errors.New("provider down")

	resp, err := s.Search(context.Background(), Request{Index: testIndex, Query: "shipping", Mode: ModeHybrid})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "shipping_0", resp.Results[0].ID)
	assert.Zero(t, resp.VectorResults)
	assert.Positive(t, resp.TextResults)

	_, err = s.Search(context.Background(), Request{Index: testIndex, Query: "shipping", Mode: ModeVector})
	assert.Error(t, err)
}

func TestSearch_KeywordWithoutEmbedder(t *testing.T) {
	s := New(setupStore(t), nil)

	resp, err := s.Search(context.Background(), Request{Index: testIndex, Query: "refunds", Mode: ModeKeyword})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	_, err = s.Search(context.Background(), Request{Index: testIndex, Query: "refunds", Mode: ModeVector})
	assert.ErrorIs(t, err, ErrNoEmbedder)
}

func TestSearch_Validation(t *testing.T) {
	s, _ := newTestSearcher(t)
	ctx := context.Background()

	t.Run("empty query", func(t *testing.T) {
		_, err := s.Search(ctx, Request{Index: testIndex, Query: "   "})
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})
	t.Run("missing index", func(t *testing.T) {
		_, err := s.Search(ctx, Request{Query: "refunds"})
		assert.Error(t, err)
	})
	t.Run("unknown mode", func(t *testing.T) {
		_, err := s.Search(ctx, Request{Index: testIndex, Query: "refunds", Mode: "fuzzy"})
		assert.Error(t, err)
	})
	t.Run("limit clamped", func(t *testing.T) {
		req := Request{Index: testIndex, Query: "x", Limit: 500}
		require.NoError(t, s.validateRequest(&req))
		assert.Equal(t, MaxLimit, req.Limit)
		assert.Equal(t, ModeHybrid, req.Mode)
		assert.Equal(t, float64(DefaultRRFConstant), req.RRFConstant)
	})
}

func TestSearch_Cache(t *testing.T) {
	s, emb := newTestSearcher(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	req := Request{Index: testIndex, Query: "refunds", Mode: ModeVector, UseCache: true, CacheTTL: time.Minute}

	first, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, s.CacheLen())

	second, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, emb.callCount())

	// Mutating a returned response must not leak into the cache
	second.Results[0].Content = "changed"
	third, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", third.Results[0].Content)

	now = now.Add(2 * time.Minute)
	expired, err := s.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, expired.CacheHit)
	assert.Equal(t, 2, emb.callCount())

	s.InvalidateCache()
	assert.Zero(t, s.CacheLen())
}

func TestSearch_SkipsDeletedDocuments(t *testing.T) {
	store := setupStore(t)
	s := New(store, &mockEmbedder{vectors: map[string][]float32{"refunds": {1, 0, 0}}})

	ranked := []rankedResult{{id: "missing", score: 1, rank: 1}, {id: "refunds_0", score: 0.5, rank: 2}}
	results, err := s.fetchResults(context.Background(), testIndex, ranked, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "refunds_0", results[0].ID)
}

func TestApplyRRF(t *testing.T) {
	vector := []storage.VectorResult{{DocumentID: "a"}, {DocumentID: "b"}, {DocumentID: "c"}}
	text := []storage.TextResult{{DocumentID: "b"}, {DocumentID: "d"}}

	fused := applyRRF(vector, text, 60)
	require.Len(t, fused, 4)

	// b appears in both rankings
	assert.Equal(t, "b", fused[0].id)
	assert.InDelta(t, 1.0/62+1.0/61, fused[0].score, 1e-9)
	assert.Equal(t, "a", fused[1].id)
	for i, r := range fused {
		assert.Equal(t, i+1, r.rank)
	}

	// equal scores break by id
	tied := applyRRF([]storage.VectorResult{{DocumentID: "z"}}, []storage.TextResult{{DocumentID: "y"}}, 0)
	assert.Equal(t, "y", tied[0].id)
}

func TestQueryKey(t *testing.T) {
	base := Request{Index: testIndex, Query: "q", Mode: ModeHybrid, Limit: 10}
	withFilter := base
	withFilter.Filters = &storage.SearchFilters{Language: "en"}
	otherIndex := base
	otherIndex.Index = "other"

	assert.Equal(t, queryKey(base), queryKey(base))
	assert.NotEqual(t, queryKey(base), queryKey(withFilter))
	assert.NotEqual(t, queryKey(base), queryKey(otherIndex))
}
