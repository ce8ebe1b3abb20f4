package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// Common errors
var (
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	ErrEmptyResponse       = errors.New("provider returned no embeddings")
)

// Request is one text to embed. ID is carried through to the result and
// into item errors.
type Request struct {
	ID   string
	Text string
}

// EmbeddingResult is the vector for one request.
type EmbeddingResult struct {
	ID     string
	Index  int // position in the caller's request slice
	Vector []float32
	Model  string
	Cached bool
}

// ProviderResponse is the typed result of one provider call. Vectors are in
// input order.
type ProviderResponse struct {
	Vectors     [][]float32
	Model       string
	TotalTokens int
}

// Provider is the narrow interface to an embedding service. One call embeds
// one provider-sized batch.
type Provider interface {
	CreateEmbeddings(ctx context.Context, texts []string) (*ProviderResponse, error)
	Name() string
	Model() string
	Dimension() int
	Close() error
}

// Embedder interface defines methods for generating embeddings
type Embedder interface {
	// Embed generates the embedding for a single text
	Embed(ctx context.Context, text, id string) (*EmbeddingResult, error)

	// EmbedBatch embeds requests in sub-batches of batchSize. Failures are
	// reported per item; the call itself never fails as a whole.
	EmbedBatch(ctx context.Context, reqs []Request, batchSize int, onProgress types.ProgressFunc) *types.BatchResult[EmbeddingResult]

	// Dimension returns the embedding dimension
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of vectors by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of the cached vector so callers cannot mutate the entry
func (c *Cache) Get(hash string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a vector
func (c *Cache) Set(hash string, v []float32) {
	if c == nil {
		return
	}
	c.cache.Add(hash, v)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	if c != nil {
		c.cache.Purge()
	}
}

// CacheKey keys a vector by model and text so switching models never serves
// stale vectors.
func CacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// ValidateText rejects empty text and text longer than maxChars. Both are
// validation errors with distinct codes.
func ValidateText(text string, maxChars int) error {
	if strings.TrimSpace(text) == "" {
		return types.NewError(types.KindValidation, types.CodeEmptyText, "text cannot be empty")
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return types.NewError(types.KindValidation, types.CodeTextTooLong, "text exceeds maximum length")
	}
	return nil
}
