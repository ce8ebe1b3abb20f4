package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// searchService is a minimal Azure AI Search REST fake.
type searchService struct {
	mu      sync.Mutex
	indexes map[string]json.RawMessage
	docs    map[string]map[string]map[string]any
	reject  map[string]int
	status  int // forced status for docs/index calls
}

func newSearchService() *searchService {
	return &searchService{
		indexes: make(map[string]json.RawMessage),
		docs:    make(map[string]map[string]map[string]any),
		reject:  make(map[string]int),
	}
}

func (s *searchService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Header.Get("api-key") != "admin-key" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if r.URL.Query().Get("api-version") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "indexes" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	name := parts[1]
	rest := strings.Join(parts[2:], "/")

	switch {
	case r.Method == http.MethodPut && rest == "":
		var body json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.indexes[name] = body
		s.docs[name] = make(map[string]map[string]any)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)
	case r.Method == http.MethodGet && rest == "":
		body, ok := s.indexes[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"No index with the name 'x' was found"}}`))
			return
		}
		_, _ = w.Write(body)
	case r.Method == http.MethodGet && rest == "stats":
		_ = json.NewEncoder(w).Encode(map[string]any{"documentCount": len(s.docs[name]), "storageSize": 100})
	case r.Method == http.MethodPost && rest == "docs/index":
		s.handleIndex(w, r, name)
	case r.Method == http.MethodPost && rest == "docs/search":
		var req keySearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		keys := make([]map[string]string, 0)
		i := 0
		for k := range s.docs[name] {
			if i >= req.Skip && len(keys) < req.Top {
				keys = append(keys, map[string]string{"id": k})
			}
			i++
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": keys})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *searchService) handleIndex(w http.ResponseWriter, r *http.Request, name string) {
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	store, ok := s.docs[name]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	results := make([]map[string]any, 0, len(req.Value))
	partial := false
	for _, doc := range req.Value {
		key, _ := doc["id"].(string)
		if code, bad := s.reject[key]; bad {
			partial = true
			results = append(results, map[string]any{
				"key": key, "status": false, "statusCode": code,
				"errorMessage": fmt.Sprintf("document %s rejected", key),
			})
			continue
		}
		switch doc["@search.action"] {
		case "mergeOrUpload":
			store[key] = doc
		case "delete":
			delete(store, key)
		}
		results = append(results, map[string]any{"key": key, "status": true, "statusCode": 200})
	}
	if partial {
		w.WriteHeader(http.StatusMultiStatus)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"value": results})
}

func newTestAzure(t *testing.T) (*AzureBackend, *searchService) {
	t.Helper()
	svc := newSearchService()
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)
	backend, err := NewAzureBackend(AzureConfig{Endpoint: server.URL + "/", AdminKey: "admin-key"})
	require.NoError(t, err)
	return backend, svc
}

func TestNewAzureBackend_RequiresCredentials(t *testing.T) {
	_, err := NewAzureBackend(AzureConfig{Endpoint: "https://x.search.windows.net"})
	assert.ErrorIs(t, err, types.ErrProviderNotEnabled)
}

func TestAzureBackend_IndexLifecycle(t *testing.T) {
	backend, svc := newTestAzure(t)
	ctx := context.Background()

	_, err := backend.GetIndex(ctx, "docs")
	assert.ErrorIs(t, err, ErrIndexNotFound)

	require.NoError(t, backend.CreateIndex(ctx, DefaultSchema("docs", 3)))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(svc.indexes["docs"], &sent))
	assert.Contains(t, sent, "vectorSearch")

	schema, err := backend.GetIndex(ctx, "docs")
	require.NoError(t, err)
	for _, f := range RequiredFields {
		assert.True(t, schema.HasField(f), f)
	}
	for _, f := range schema.Fields {
		if f.Name == "embedding" {
			assert.Equal(t, 3, f.Dimensions)
		}
	}
}

func TestAzureBackend_UploadDeleteList(t *testing.T) {
	backend, svc := newTestAzure(t)
	ctx := context.Background()
	require.NoError(t, backend.CreateIndex(ctx, DefaultSchema("docs", 3)))
	svc.reject["c2"] = http.StatusBadRequest

	statuses, err := backend.Upload(ctx, "docs", []Document{
		{ID: "c1", Content: "one", Embedding: []float32{1, 0, 0}},
		{ID: "c2", Content: "two"},
		{ID: "c3", Content: "three"},
	})
	require.NoError(t, err, "207 is not a call failure")
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].Succeeded)
	assert.False(t, statuses[1].Succeeded)
	assert.Equal(t, http.StatusBadRequest, statuses[1].StatusCode)
	assert.Equal(t, "document c2 rejected", statuses[1].ErrorMessage)

	assert.Equal(t, "mergeOrUpload", svc.docs["docs"]["c1"]["@search.action"])
	assert.Equal(t, "one", svc.docs["docs"]["c1"]["content"])

	stats, err := backend.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.DocumentCount)

	keys, err := backend.ListKeys(ctx, "docs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c3"}, keys)

	statuses, err = backend.Delete(ctx, "docs", []string{"c1", "c3"})
	require.NoError(t, err)
	assert.Len(t, statuses, 2)
	keys, err = backend.ListKeys(ctx, "docs")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAzureBackend_Errors(t *testing.T) {
	backend, svc := newTestAzure(t)
	ctx := context.Background()
	require.NoError(t, backend.CreateIndex(ctx, DefaultSchema("docs", 3)))

	tests := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusTooManyRequests, types.CodeRateLimited, true},
		{http.StatusServiceUnavailable, types.CodeServiceUnavailable, true},
		{http.StatusBadRequest, types.CodeBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			svc.mu.Lock()
			svc.status = tt.status
			svc.mu.Unlock()

			_, err := backend.Upload(ctx, "docs", []Document{{ID: "x", Content: "x"}})
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
		})
	}

	t.Run("missing index", func(t *testing.T) {
		svc.mu.Lock()
		svc.status = 0
		svc.mu.Unlock()
		_, err := backend.Upload(ctx, "missing", []Document{{ID: "x", Content: "x"}})
		assert.ErrorIs(t, err, ErrIndexNotFound)
	})
}

func TestAzureBackend_WithWriter(t *testing.T) {
	backend, svc := newTestAzure(t)
	svc.reject["c2"] = http.StatusBadRequest
	w := NewWriter(backend, Config{IndexName: "docs", Dimension: 3}, WithRetryPolicy(fastPolicy()))
	ctx := context.Background()

	created, err := w.EnsureIndex(ctx, nil)
	require.NoError(t, err)
	assert.True(t, created)

	res := w.IndexChunks(ctx, []types.DocumentChunk{
		chunk("c1", "first", 1, 0, 0),
		chunk("c2", "second", 0, 1, 0),
	}, "", 0, nil)
	assert.True(t, res.Success())
	assert.Equal(t, 1, res.Processed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "c2", res.Errors[0].ID)
	assert.False(t, res.Errors[0].Retryable)

	report := w.CheckHealth(ctx)
	assert.Equal(t, types.HealthHealthy, report.Status)
	assert.Equal(t, int64(1), report.DocumentCount)

	ok, err := w.ClearIndex(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
