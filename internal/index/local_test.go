package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floringheorghiu/multilingual-rag/internal/storage"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

func newLocalWriter(t *testing.T) (*Writer, *LocalBackend) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	backend := NewLocalBackend(store)
	return NewWriter(backend, Config{IndexName: "docs", Dimension: 3}, WithRetryPolicy(fastPolicy())), backend
}

func TestLocalBackend_ReindexIsIdempotent(t *testing.T) {
	w, backend := newLocalWriter(t)
	ctx := context.Background()
	_, err := w.EnsureIndex(ctx, nil)
	require.NoError(t, err)

	chunks := make([]types.DocumentChunk, 4)
	for i := range chunks {
		chunks[i] = chunk(types.ChunkID("docs/a.txt", i, ""), "chunk text", 1, 0, 0)
		chunks[i].Metadata.ChunkIndex = i
		chunks[i].Metadata.TotalChunks = len(chunks)
	}

	for range 2 {
		res := w.IndexChunks(ctx, chunks, "", 0, nil)
		require.Equal(t, 4, res.Processed)
	}

	stats, err := backend.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.DocumentCount)

	doc, err := backend.Storage().GetDocument(ctx, "docs", chunks[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.ChunkIndex)
	assert.Equal(t, "en", doc.Language)
	assert.Equal(t, "ro", doc.OriginalLanguage)
	assert.True(t, doc.Translated)
}

func TestLocalBackend_DimensionRejectedByStore(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	backend := NewLocalBackend(store)
	ctx := context.Background()
	require.NoError(t, backend.CreateIndex(ctx, DefaultSchema("docs", 3)))

	// a writer without a dimension check lets the store reject it
	w := NewWriter(backend, Config{IndexName: "docs"}, WithRetryPolicy(fastPolicy()))
	res := w.IndexChunks(ctx, []types.DocumentChunk{
		chunk("c1", "first", 1, 0, 0),
		chunk("c2", "second", 0, 1),
	}, "", 0, nil)

	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "c2", res.Errors[0].ID)
	assert.Equal(t, types.CodeBadRequest, res.Errors[0].Code)
	assert.False(t, res.Errors[0].Retryable)
}

func TestLocalBackend_HealthAndClear(t *testing.T) {
	w, backend := newLocalWriter(t)
	ctx := context.Background()

	report := w.CheckHealth(ctx)
	assert.Equal(t, types.HealthUnhealthy, report.Status)

	_, err := w.EnsureIndex(ctx, nil)
	require.NoError(t, err)
	w.IndexChunks(ctx, []types.DocumentChunk{chunk("a", "alpha", 1, 0, 0), chunk("b", "beta", 0, 1, 0)}, "", 0, nil)

	report = w.CheckHealth(ctx)
	assert.Equal(t, types.HealthHealthy, report.Status)
	assert.Equal(t, int64(2), report.DocumentCount)

	ok, err := w.ClearIndex(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	keys, err := backend.ListKeys(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = backend.ListKeys(ctx, "missing")
	assert.ErrorIs(t, err, ErrIndexNotFound)
}
