package storage

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func testFields(dim int) []Field {
	return []Field{
		{Name: "id", Type: FieldString, Key: true, Filterable: true},
		{Name: "content", Type: FieldString, Searchable: true},
		{Name: "title", Type: FieldString, Searchable: true},
		{Name: "filepath", Type: FieldString, Filterable: true},
		{Name: "language", Type: FieldString, Filterable: true},
		{Name: "embedding", Type: FieldVector, Searchable: true, Dimensions: dim},
	}
}

func setupIndex(t *testing.T, s *SQLiteStorage, name string, dim int) {
	t.Helper()
	require.NoError(t, s.CreateIndex(context.Background(), &IndexDefinition{Name: name, Fields: testFields(dim)}))
}

func testDoc(id, content string, vec ...float32) *Document {
	return &Document{
		ID:          id,
		Content:     content,
		Title:       "guide",
		FilePath:    "docs/guide.txt",
		Language:    "en",
		ChunkIndex:  0,
		TotalChunks: 1,
		Embedding:   vec,
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	s := setupTestDB(t)
	assert.NotNil(t, s.db)

	version, err := SchemaVersion(context.Background(), s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version.String())
}

func TestCreateIndex(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	def := &IndexDefinition{Name: "docs", Fields: testFields(3)}
	require.NoError(t, s.CreateIndex(ctx, def))
	assert.False(t, def.CreatedAt.IsZero())

	got, err := s.GetIndex(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", got.Name)
	assert.Equal(t, def.Fields, got.Fields)
	assert.Equal(t, 3, got.VectorDimension())

	t.Run("recreate updates fields", func(t *testing.T) {
		require.NoError(t, s.CreateIndex(ctx, &IndexDefinition{Name: "docs", Fields: testFields(5)}))
		got, err := s.GetIndex(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 5, got.VectorDimension())
	})

	t.Run("name required", func(t *testing.T) {
		assert.Error(t, s.CreateIndex(ctx, &IndexDefinition{}))
	})
}

func TestGetIndex_NotFound(t *testing.T) {
	s := setupTestDB(t)
	_, err := s.GetIndex(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIndex(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	setupIndex(t, s, "docs", 3)

	_, err := s.UpsertDocuments(ctx, "docs", []*Document{testDoc("a", "alpha", 1, 0, 0)})
	require.NoError(t, err)

	require.NoError(t, s.DeleteIndex(ctx, "docs"))
	_, err = s.GetIndex(ctx, "docs")
	assert.ErrorIs(t, err, ErrNotFound)

	// documents go with the index
	setupIndex(t, s, "docs", 3)
	keys, err := s.ListKeys(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, keys)

	assert.ErrorIs(t, s.DeleteIndex(ctx, "missing"), ErrNotFound)
}

func TestUpsertDocuments(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	setupIndex(t, s, "docs", 3)

	results, err := s.UpsertDocuments(ctx, "docs", []*Document{
		testDoc("c1", "first chunk", 1, 0, 0),
		testDoc("c2", "second chunk", 0, 1, 0),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Status)
		assert.Equal(t, http.StatusOK, r.StatusCode)
	}

	doc, err := s.GetDocument(ctx, "docs", "c1")
	require.NoError(t, err)
	assert.Equal(t, "first chunk", doc.Content)
	assert.Equal(t, "docs/guide.txt", doc.FilePath)
	assert.Equal(t, "en", doc.Language)
	assert.Equal(t, []float32{1, 0, 0}, doc.Embedding)
}

func TestUpsertDocuments_Idempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	setupIndex(t, s, "docs", 3)

	docs := []*Document{
		testDoc("c1", "first chunk", 1, 0, 0),
		testDoc("c2", "second chunk", 0, 1, 0),
	}
	_, err := s.UpsertDocuments(ctx, "docs", docs)
	require.NoError(t, err)

	docs[0].Content = "first chunk, revised"
	_, err = s.UpsertDocuments(ctx, "docs", docs)
	require.NoError(t, err)

	stats, err := s.IndexStats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.DocumentCount)

	doc, err := s.GetDocument(ctx, "docs", "c1")
	require.NoError(t, err)
	assert.Equal(t, "first chunk, revised", doc.Content)

	// full-text index follows the update
	hits, err := s.SearchText(ctx, "docs", "revised", 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].DocumentID)
}

func TestUpsertDocuments_PartialFailure(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	setupIndex(t, s, "docs", 3)

	results, err := s.UpsertDocuments(ctx, "docs", []*Document{
		testDoc("ok", "fine", 1, 0, 0),
		testDoc("bad-dim", "wrong size", 1, 0),
		testDoc("no-content", ""),
		{Content: "no key"},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Status)

	tests := []struct {
		idx     int
		key     string
		message string
	}{
		{1, "bad-dim", "index expects 3"},
		{2, "no-content", "content is required"},
		{3, "", "document key is required"},
	}
	for _, tt := range tests {
		r := results[tt.idx]
		assert.False(t, r.Status)
		assert.Equal(t, http.StatusBadRequest, r.StatusCode)
		assert.Equal(t, tt.key, r.Key)
		assert.Contains(t, r.ErrorMessage, tt.message)
	}

	keys, err := s.ListKeys(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, keys)
}

func TestUpsertDocuments_WithoutEmbedding(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	setupIndex(t, s, "docs", 3)

	results, err := s.UpsertDocuments(ctx, "docs", []*Document{testDoc("plain", "text only")})
	require.NoError(t, err)
	assert.True(t, results[0].Status)

	doc, err := s.GetDocument(ctx, "docs", "plain")
	require.NoError(t, err)
	assert.Nil(t, doc.Embedding)
}

func TestUpsertDocuments_MissingIndex(t *testing.T) {
	s := setupTestDB(t)
	_, err := s.UpsertDocuments(context.Background(), "missing", []*Document{testDoc("a", "x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDocuments(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	setupIndex(t, s, "docs", 3)

	_, err := s.UpsertDocuments(ctx, "docs", []*Document{
		testDoc("a", "alpha", 1, 0, 0),
		testDoc("b", "beta", 0, 1, 0),
	})
	require.NoError(t, err)

	results, err := s.DeleteDocuments(ctx, "docs", []string{"a", "never-existed", ""})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Status)
	assert.True(t, results[1].Status, "deleting a missing key succeeds")
	assert.False(t, results[2].Status)
	assert.Equal(t, http.StatusBadRequest, results[2].StatusCode)

	keys, err := s.ListKeys(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	_, err = s.GetDocument(ctx, "docs", "a")
	assert.ErrorIs(t, err, ErrNotFound)

	hits, err := s.SearchText(ctx, "docs", "alpha", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexStats(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	setupIndex(t, s, "docs", 3)

	stats, err := s.IndexStats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.DocumentCount)
	assert.Equal(t, int64(0), stats.StorageSize)

	_, err = s.UpsertDocuments(ctx, "docs", []*Document{testDoc("a", "alpha", 1, 0, 0)})
	require.NoError(t, err)

	stats, err = s.IndexStats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DocumentCount)
	assert.Equal(t, int64(len("alpha")+12), stats.StorageSize)

	_, err = s.IndexStats(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIndexesAreIsolated(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	setupIndex(t, s, "one", 3)
	setupIndex(t, s, "two", 3)

	_, err := s.UpsertDocuments(ctx, "one", []*Document{testDoc("shared", "in one", 1, 0, 0)})
	require.NoError(t, err)
	_, err = s.UpsertDocuments(ctx, "two", []*Document{testDoc("shared", "in two", 0, 1, 0)})
	require.NoError(t, err)

	one, err := s.GetDocument(ctx, "one", "shared")
	require.NoError(t, err)
	two, err := s.GetDocument(ctx, "two", "shared")
	require.NoError(t, err)
	assert.Equal(t, "in one", one.Content)
	assert.Equal(t, "in two", two.Content)
}
