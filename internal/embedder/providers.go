package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/floringheorghiu/multilingual-rag/internal/retry"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// Provider configuration
const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	DefaultModel      = "text-embedding-ada-002"
	DefaultAPIVersion = "2023-12-01-preview"
	DefaultOpenAIURL  = "https://api.openai.com/v1/embeddings"
	DefaultDimension  = 1536
	LocalDimension    = 384
	DefaultTimeout    = 30 * time.Second
)

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// HTTPProvider calls an OpenAI-compatible embeddings endpoint. Azure OpenAI
// deployments and the public OpenAI API differ only in URL and auth header.
type HTTPProvider struct {
	name        string
	url         string
	authHeader  string
	authValue   string
	model       string
	dimension   int
	httpClient  *http.Client
	sendModelID bool
}

// AzureConfig configures an Azure OpenAI embedding deployment.
type AzureConfig struct {
	Endpoint   string
	APIKey     string
	Deployment string
	APIVersion string
	Dimension  int
	Timeout    time.Duration
}

// NewAzureProvider creates a provider for an Azure OpenAI deployment,
// authenticated with the api-key header.
func NewAzureProvider(cfg AzureConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("azure embeddings: %w", types.ErrProviderNotEnabled)
	}
	if cfg.Deployment == "" {
		cfg.Deployment = DefaultModel
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	u := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		strings.TrimRight(cfg.Endpoint, "/"), url.PathEscape(cfg.Deployment), url.QueryEscape(cfg.APIVersion))
	return &HTTPProvider{
		name:       ProviderAzure,
		url:        u,
		authHeader: "api-key",
		authValue:  cfg.APIKey,
		model:      cfg.Deployment,
		dimension:  orDefault(cfg.Dimension, DefaultDimension),
		httpClient: &http.Client{Timeout: orDefaultDuration(cfg.Timeout, DefaultTimeout)},
	}, nil
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	URL       string
	APIKey    string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// NewOpenAIProvider creates a provider authenticated with a bearer token.
func NewOpenAIProvider(cfg OpenAIConfig) (*HTTPProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embeddings: %w", types.ErrProviderNotEnabled)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &HTTPProvider{
		name:        ProviderOpenAI,
		url:         cfg.URL,
		authHeader:  "Authorization",
		authValue:   "Bearer " + cfg.APIKey,
		model:       cfg.Model,
		dimension:   orDefault(cfg.Dimension, DefaultDimension),
		httpClient:  &http.Client{Timeout: orDefaultDuration(cfg.Timeout, DefaultTimeout)},
		sendModelID: true,
	}, nil
}

// CreateEmbeddings embeds texts in one call. Non-2xx responses are mapped
// onto the provider error taxonomy; vectors are returned in input order.
func (p *HTTPProvider) CreateEmbeddings(ctx context.Context, texts []string) (*ProviderResponse, error) {
	reqBody := embeddingRequest{Input: texts}
	if p.sendModelID {
		reqBody.Model = p.model
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(p.authHeader, p.authValue)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, retry.TransportError(ctx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.TransportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retry.StatusError(resp, data)
	}

	var apiResp embeddingResponse
	if err := json.Unmarshal(data, &apiResp); err != nil {
		return nil, types.WrapError(types.KindServerError, types.CodeUnknown, fmt.Errorf("decode response: %w", err))
	}
	if len(apiResp.Data) != len(texts) {
		return nil, types.NewError(types.KindServerError, types.CodeUnknown,
			fmt.Sprintf("%s: got %d embeddings for %d texts", ErrEmptyResponse, len(apiResp.Data), len(texts)))
	}

	sort.Slice(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })
	out := &ProviderResponse{
		Vectors:     make([][]float32, len(apiResp.Data)),
		Model:       apiResp.Model,
		TotalTokens: apiResp.Usage.TotalTokens,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	for i, d := range apiResp.Data {
		out.Vectors[i] = d.Embedding
	}
	return out, nil
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Dimension() int {
	return p.dimension
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider produces deterministic pseudo-embeddings from a hash of the
// text. It needs no network and is used for offline runs and tests.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a local provider with the given dimension.
func NewLocalProvider(dimension int) *LocalProvider {
	return &LocalProvider{dimension: orDefault(dimension, LocalDimension)}
}

func (l *LocalProvider) CreateEmbeddings(ctx context.Context, texts []string) (*ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.TimeoutError(err)
	}
	out := &ProviderResponse{Vectors: make([][]float32, len(texts)), Model: l.Model()}
	for i, text := range texts {
		out.Vectors[i] = l.vector(text)
		out.TotalTokens += (len(text) + 3) / 4
	}
	return out, nil
}

// vector expands sha256(text || counter) into dimension values in [-1, 1]
// and normalizes the result.
func (l *LocalProvider) vector(text string) []float32 {
	v := make([]float32, l.dimension)
	var block [sha256.Size]byte
	var ctr [4]byte
	for i := 0; i < l.dimension; i++ {
		if i%sha256.Size == 0 {
			binary.BigEndian.PutUint32(ctr[:], uint32(i/sha256.Size))
			block = sha256.Sum256(append([]byte(text), ctr[:]...))
		}
		v[i] = float32(block[i%sha256.Size])/127.5 - 1
	}
	return NormalizeVector(v)
}

func (l *LocalProvider) Name() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return "local-hash"
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
