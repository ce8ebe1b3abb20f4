package index

import (
	"context"
	"errors"

	"github.com/floringheorghiu/multilingual-rag/internal/storage"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

var (
	// ErrIndexNotFound is returned by a Backend when the named index doesn't exist
	ErrIndexNotFound = errors.New("index not found")
	// ErrNoIndex is returned when neither the call nor the writer names an index
	ErrNoIndex = errors.New("index name is required")
)

// Field is one field of an index schema. The JSON form is the search
// service's field definition.
type Field = storage.Field

// Field types
const (
	FieldString  = storage.FieldString
	FieldInt32   = storage.FieldInt32
	FieldBoolean = storage.FieldBoolean
	FieldVector  = storage.FieldVector
)

// Schema is a named set of fields.
type Schema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// HasField reports whether the schema defines name.
func (s *Schema) HasField(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// RequiredFields are the fields every ingestion index must carry.
var RequiredFields = []string{
	"id", "content", "title", "filepath", "url", "language", "original_language",
	"translated", "chunk_index", "total_chunks", "content_hash", "embedding",
}

// DefaultSchema returns the ingestion schema with a vector field of the
// given dimension.
func DefaultSchema(name string, dimension int) *Schema {
	return &Schema{
		Name: name,
		Fields: []Field{
			{Name: "id", Type: FieldString, Key: true, Filterable: true},
			{Name: "content", Type: FieldString, Searchable: true},
			{Name: "title", Type: FieldString, Searchable: true},
			{Name: "filepath", Type: FieldString, Filterable: true},
			{Name: "url", Type: FieldString},
			{Name: "language", Type: FieldString, Filterable: true},
			{Name: "original_language", Type: FieldString, Filterable: true},
			{Name: "translated", Type: FieldBoolean, Filterable: true},
			{Name: "chunk_index", Type: FieldInt32, Filterable: true},
			{Name: "total_chunks", Type: FieldInt32},
			{Name: "content_hash", Type: FieldString, Filterable: true},
			{Name: "embedding", Type: FieldVector, Searchable: true, Dimensions: dimension},
		},
	}
}

// Document is the index record of one chunk.
type Document struct {
	ID               string    `json:"id"`
	Content          string    `json:"content"`
	Title            string    `json:"title"`
	FilePath         string    `json:"filepath"`
	URL              string    `json:"url"`
	Language         string    `json:"language"`
	OriginalLanguage string    `json:"original_language"`
	Translated       bool      `json:"translated"`
	ChunkIndex       int       `json:"chunk_index"`
	TotalChunks      int       `json:"total_chunks"`
	ContentHash      string    `json:"content_hash"`
	Embedding        []float32 `json:"embedding,omitempty"`
}

// DocumentFromChunk builds the index record of a chunk. Language is the
// language of the indexed content: the target language when the chunk was
// translated, the original language otherwise.
func DocumentFromChunk(c *types.DocumentChunk) Document {
	m := c.Metadata
	lang := m.OriginalLanguage
	if m.Translated && m.TargetLanguage != "" {
		lang = m.TargetLanguage
	}
	title := m.Title
	if title == "" {
		title = m.FileName
	}
	return Document{
		ID:               c.ID,
		Content:          c.Content,
		Title:            title,
		FilePath:         m.FilePath,
		URL:              m.URL,
		Language:         lang,
		OriginalLanguage: m.OriginalLanguage,
		Translated:       m.Translated,
		ChunkIndex:       m.ChunkIndex,
		TotalChunks:      m.TotalChunks,
		ContentHash:      m.ContentHash,
		Embedding:        c.Embedding,
	}
}

// DocumentStatus is the per-document outcome reported by a backend.
type DocumentStatus struct {
	Key          string `json:"key"`
	Succeeded    bool   `json:"status"`
	StatusCode   int    `json:"statusCode"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Stats holds index statistics.
type Stats struct {
	DocumentCount int64 `json:"documentCount"`
	StorageSize   int64 `json:"storageSize"`
}

// Backend is a search index service. Upload merges or uploads documents
// keyed by id; Delete removes them. Both report per-document statuses and
// return an error only when the call itself failed.
type Backend interface {
	Name() string
	CreateIndex(ctx context.Context, schema *Schema) error
	GetIndex(ctx context.Context, name string) (*Schema, error)
	Stats(ctx context.Context, name string) (*Stats, error)
	Upload(ctx context.Context, name string, docs []Document) ([]DocumentStatus, error)
	Delete(ctx context.Context, name string, ids []string) ([]DocumentStatus, error)
	ListKeys(ctx context.Context, name string) ([]string, error)
}
