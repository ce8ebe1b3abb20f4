package storage

import (
	"context"
	"time"
)

// Storage defines the local search index and the ingestion run ledger
type Storage interface {
	// Index operations
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	GetIndex(ctx context.Context, name string) (*IndexDefinition, error)
	DeleteIndex(ctx context.Context, name string) error
	IndexStats(ctx context.Context, name string) (*IndexStats, error)

	// Document operations
	UpsertDocuments(ctx context.Context, index string, docs []*Document) ([]DocumentResult, error)
	DeleteDocuments(ctx context.Context, index string, ids []string) ([]DocumentResult, error)
	GetDocument(ctx context.Context, index, id string) (*Document, error)
	ListKeys(ctx context.Context, index string) ([]string, error)

	// Search operations
	SearchVector(ctx context.Context, index string, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error)
	SearchText(ctx context.Context, index string, query string, limit int, filters *SearchFilters) ([]TextResult, error)

	// Run ledger operations
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	AddRunFile(ctx context.Context, file *RunFile) error
	ListRunFiles(ctx context.Context, runID string) ([]*RunFile, error)

	// Database operations
	Close() error
}

// Field types understood by the local index
const (
	FieldString  = "Edm.String"
	FieldInt32   = "Edm.Int32"
	FieldBoolean = "Edm.Boolean"
	FieldVector  = "Collection(Edm.Single)"
)

// Field describes one field of an index schema
type Field struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Key        bool   `json:"key,omitempty"`
	Searchable bool   `json:"searchable,omitempty"`
	Filterable bool   `json:"filterable,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
}

// IndexDefinition is a named index schema
type IndexDefinition struct {
	Name      string
	Fields    []Field
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VectorDimension returns the dimension of the embedding field, or 0.
func (d *IndexDefinition) VectorDimension() int {
	for _, f := range d.Fields {
		if f.Type == FieldVector {
			return f.Dimensions
		}
	}
	return 0
}

// IndexStats holds document statistics for an index
type IndexStats struct {
	DocumentCount int64
	StorageSize   int64 // bytes of content and vectors
}

// Document is one indexed chunk
type Document struct {
	ID               string
	Content          string
	Title            string
	FilePath         string
	URL              string
	Language         string
	OriginalLanguage string
	Translated       bool
	ChunkIndex       int
	TotalChunks      int
	ContentHash      string
	Embedding        []float32
	UpdatedAt        time.Time
}

// DocumentResult is the per-document outcome of an upsert or delete, in
// the shape search services report it.
type DocumentResult struct {
	Key          string
	Status       bool
	StatusCode   int
	ErrorMessage string
}

// SearchFilters contains filters for narrowing search results
type SearchFilters struct {
	Language     string  // Exact language code
	FilePattern  string  // Glob pattern for file paths
	MinRelevance float64 // Minimum relevance score
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	DocumentID      string
	SimilarityScore float64
}

// TextResult represents a result from full-text search
type TextResult struct {
	DocumentID string
	BM25Score  float64
}

// Run statuses
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one recorded ingestion run
type Run struct {
	ID               string
	Status           string
	StartedAt        time.Time
	FinishedAt       time.Time
	TotalFiles       int
	ProcessedFiles   int
	FailedFiles      int
	UnsupportedFiles int
	TranslatedFiles  int
	TotalChunks      int
	SkippedChunks    int
	ErrorCount       int
	Success          bool
}

// RunFile is the outcome of one file within a run
type RunFile struct {
	ID         int64
	RunID      string
	FilePath   string
	State      string
	Language   string
	Translated bool
	Chunks     int
	Stage      string
	Error      string
	Duration   time.Duration
	CreatedAt  time.Time
}
