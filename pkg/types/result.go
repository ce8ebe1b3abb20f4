package types

import "time"

// ItemError describes the failure of one member of a batch. Index refers to
// the position in the caller's input slice.
type ItemError struct {
	Index     int
	ID        string
	Code      string
	Kind      ErrorKind
	Message   string
	Retryable bool
}

// NewItemError builds an ItemError from err.
func NewItemError(index int, id string, err error) ItemError {
	return ItemError{
		Index:     index,
		ID:        id,
		Code:      CodeOf(err),
		Kind:      KindOf(err),
		Message:   err.Error(),
		Retryable: IsRetryable(err),
	}
}

// BatchResult accumulates the per-item outcome of a stage call.
type BatchResult[T any] struct {
	Results   []T // successful results, in input order
	Indices   []int
	Errors    []ItemError
	Processed int
	Skipped   int
	Failed    int
}

// Add records a successful item.
func (b *BatchResult[T]) Add(index int, result T) {
	b.Results = append(b.Results, result)
	b.Indices = append(b.Indices, index)
	b.Processed++
}

// Fail records a failed item.
func (b *BatchResult[T]) Fail(e ItemError) {
	b.Errors = append(b.Errors, e)
	b.Failed++
}

// Skip records an item that was not submitted.
func (b *BatchResult[T]) Skip(e ItemError) {
	b.Errors = append(b.Errors, e)
	b.Skipped++
}

// Success reports partial-success semantics: at least one item succeeded or
// nothing failed.
func (b *BatchResult[T]) Success() bool {
	return b.Processed > 0 || (b.Failed == 0 && b.Skipped == 0)
}

// FailedIndices returns the input indices of failed and skipped items.
func (b *BatchResult[T]) FailedIndices() []int {
	out := make([]int, 0, len(b.Errors))
	for _, e := range b.Errors {
		out = append(out, e.Index)
	}
	return out
}

// Progress is a stage-level progress event.
type Progress struct {
	Stage     string
	Processed int
	Total     int
}

// ProgressFunc receives progress events. Implementations must be cheap.
type ProgressFunc func(Progress)

// ProcessedDocument is the output of the per-file stages, ready to be indexed.
type ProcessedDocument struct {
	FilePath         string
	OriginalLanguage string
	TranslatedText   string // empty when not translated
	Chunks           []DocumentChunk
	ChunkCount       int
	TotalTokens      int
}

// NewProcessedDocument builds a document from its chunks.
func NewProcessedDocument(path, language, translated string, chunks []DocumentChunk) *ProcessedDocument {
	doc := &ProcessedDocument{
		FilePath:         path,
		OriginalLanguage: language,
		TranslatedText:   translated,
		Chunks:           chunks,
		ChunkCount:       len(chunks),
	}
	for i := range chunks {
		doc.TotalTokens += chunks[i].Metadata.TokenCount
	}
	return doc
}

// HealthStatus of a search index.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the result of an index health check.
type HealthReport struct {
	Status        HealthStatus
	IndexName     string
	Exists        bool
	DocumentCount int64
	MissingFields []string
	Issues        []string
	Warnings      []string
	CheckedAt     time.Time
}
