package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/floringheorghiu/multilingual-rag/internal/retry"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	DefaultAPIVersion = "2023-11-01"
	DefaultTimeout    = 30 * time.Second

	// page size for key enumeration
	keyPageSize = 1000

	vectorProfile   = "vector-profile"
	vectorAlgorithm = "hnsw-config"
)

// AzureConfig configures the Azure AI Search backend.
type AzureConfig struct {
	Endpoint   string // https://<service>.search.windows.net
	AdminKey   string
	APIVersion string
	Timeout    time.Duration
}

// AzureBackend talks to the Azure AI Search REST API.
type AzureBackend struct {
	endpoint   string
	key        string
	apiVersion string
	httpClient *http.Client
}

// NewAzureBackend creates an Azure AI Search backend.
func NewAzureBackend(cfg AzureConfig) (*AzureBackend, error) {
	if cfg.Endpoint == "" || cfg.AdminKey == "" {
		return nil, fmt.Errorf("search: %w", types.ErrProviderNotEnabled)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &AzureBackend{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		key:        cfg.AdminKey,
		apiVersion: cfg.APIVersion,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (b *AzureBackend) Name() string {
	return "azure-search"
}

type azureField struct {
	Name                string `json:"name"`
	Type                string `json:"type"`
	Key                 bool   `json:"key,omitempty"`
	Searchable          bool   `json:"searchable"`
	Filterable          bool   `json:"filterable"`
	Dimensions          int    `json:"dimensions,omitempty"`
	VectorSearchProfile string `json:"vectorSearchProfile,omitempty"`
}

type azureIndex struct {
	Name         string          `json:"name"`
	Fields       []azureField    `json:"fields"`
	VectorSearch json.RawMessage `json:"vectorSearch,omitempty"`
}

var vectorSearchConfig = json.RawMessage(`{
	"algorithms": [{"name": "` + vectorAlgorithm + `", "kind": "hnsw"}],
	"profiles": [{"name": "` + vectorProfile + `", "algorithm": "` + vectorAlgorithm + `"}]
}`)

func (b *AzureBackend) CreateIndex(ctx context.Context, schema *Schema) error {
	idx := azureIndex{Name: schema.Name}
	for _, f := range schema.Fields {
		af := azureField{
			Name:       f.Name,
			Type:       f.Type,
			Key:        f.Key,
			Searchable: f.Searchable,
			Filterable: f.Filterable,
		}
		if f.Type == FieldVector {
			af.Dimensions = f.Dimensions
			af.VectorSearchProfile = vectorProfile
			idx.VectorSearch = vectorSearchConfig
		}
		idx.Fields = append(idx.Fields, af)
	}
	return b.do(ctx, http.MethodPut, "/indexes/"+url.PathEscape(schema.Name), idx, nil)
}

func (b *AzureBackend) GetIndex(ctx context.Context, name string) (*Schema, error) {
	var idx azureIndex
	if err := b.do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(name), nil, &idx); err != nil {
		return nil, notFound(err)
	}
	schema := &Schema{Name: idx.Name}
	for _, f := range idx.Fields {
		schema.Fields = append(schema.Fields, Field{
			Name:       f.Name,
			Type:       f.Type,
			Key:        f.Key,
			Searchable: f.Searchable,
			Filterable: f.Filterable,
			Dimensions: f.Dimensions,
		})
	}
	return schema, nil
}

func (b *AzureBackend) Stats(ctx context.Context, name string) (*Stats, error) {
	var st Stats
	if err := b.do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(name)+"/stats", nil, &st); err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

type uploadAction struct {
	Action string `json:"@search.action"`
	Document
}

type deleteAction struct {
	Action string `json:"@search.action"`
	ID     string `json:"id"`
}

type batchRequest[T any] struct {
	Value []T `json:"value"`
}

type batchResponse struct {
	Value []DocumentStatus `json:"value"`
}

// Upload sends docs with the mergeOrUpload action.
func (b *AzureBackend) Upload(ctx context.Context, name string, docs []Document) ([]DocumentStatus, error) {
	req := batchRequest[uploadAction]{Value: make([]uploadAction, len(docs))}
	for i, d := range docs {
		req.Value[i] = uploadAction{Action: "mergeOrUpload", Document: d}
	}
	var resp batchResponse
	if err := b.do(ctx, http.MethodPost, "/indexes/"+url.PathEscape(name)+"/docs/index", req, &resp); err != nil {
		return nil, notFound(err)
	}
	return resp.Value, nil
}

func (b *AzureBackend) Delete(ctx context.Context, name string, ids []string) ([]DocumentStatus, error) {
	req := batchRequest[deleteAction]{Value: make([]deleteAction, len(ids))}
	for i, id := range ids {
		req.Value[i] = deleteAction{Action: "delete", ID: id}
	}
	var resp batchResponse
	if err := b.do(ctx, http.MethodPost, "/indexes/"+url.PathEscape(name)+"/docs/index", req, &resp); err != nil {
		return nil, notFound(err)
	}
	return resp.Value, nil
}

type keySearchRequest struct {
	Search string `json:"search"`
	Select string `json:"select"`
	Top    int    `json:"top"`
	Skip   int    `json:"skip"`
}

type keySearchResponse struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
}

// ListKeys pages through every document id with select=id.
func (b *AzureBackend) ListKeys(ctx context.Context, name string) ([]string, error) {
	keys := make([]string, 0)
	for skip := 0; ; skip += keyPageSize {
		req := keySearchRequest{Search: "*", Select: "id", Top: keyPageSize, Skip: skip}
		var resp keySearchResponse
		if err := b.do(ctx, http.MethodPost, "/indexes/"+url.PathEscape(name)+"/docs/search", req, &resp); err != nil {
			return nil, notFound(err)
		}
		for _, v := range resp.Value {
			keys = append(keys, v.ID)
		}
		if len(resp.Value) < keyPageSize {
			return keys, nil
		}
	}
}

// do sends one request. 207 Multi-Status is a success: per-document
// failures are in the body.
func (b *AzureBackend) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	endpoint := b.endpoint + path + "?api-version=" + url.QueryEscape(b.apiVersion)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api-key", b.key)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return retry.TransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.TransportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return retry.StatusError(resp, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return types.WrapError(types.KindServerError, types.CodeUnknown, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// notFound turns a 404 into ErrIndexNotFound.
func notFound(err error) error {
	var e *types.Error
	if errors.As(err, &e) && e.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrIndexNotFound, e)
	}
	return err
}

var _ Backend = (*AzureBackend)(nil)
