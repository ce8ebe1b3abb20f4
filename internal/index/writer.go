package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/floringheorghiu/multilingual-rag/internal/metrics"
	"github.com/floringheorghiu/multilingual-rag/internal/retry"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	DefaultBatchSize = 100
	// Azure AI Search rejects searchable string values over 32766 bytes;
	// characters are counted here, so the bound leaves headroom.
	DefaultMaxContentChars = 32000

	StageIndexing  = "indexing"
	StageCompleted = "completed"
)

// Config configures a Writer.
type Config struct {
	IndexName       string
	Dimension       int // expected embedding length, 0 skips the check
	BatchSize       int
	MaxContentChars int
}

// Writer validates chunks and upserts them into a search index.
type Writer struct {
	backend Backend
	cfg     Config
	policy  *retry.Policy
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithRetryPolicy sets the retry policy for backend calls.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(w *Writer) { w.policy = p }
}

// NewWriter creates a Writer over backend.
func NewWriter(backend Backend, cfg Config, opts ...Option) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	w := &Writer{
		backend: backend,
		cfg:     cfg,
		policy:  retry.New(retry.DefaultConfig()),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// IndexName returns the default index.
func (w *Writer) IndexName() string {
	return w.cfg.IndexName
}

// Backend returns the backend name.
func (w *Writer) Backend() string {
	return w.backend.Name()
}

// EnsureIndex creates the index unless it already exists. It returns true
// when the index was created. A nil schema means DefaultSchema for the
// writer's index and dimension.
func (w *Writer) EnsureIndex(ctx context.Context, schema *Schema) (bool, error) {
	if schema == nil {
		schema = DefaultSchema(w.cfg.IndexName, w.cfg.Dimension)
	}
	if schema.Name == "" {
		return false, ErrNoIndex
	}
	_, err := w.backend.GetIndex(ctx, schema.Name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrIndexNotFound) {
		return false, fmt.Errorf("failed to check index %s: %w", schema.Name, err)
	}
	if _, err := retry.Do(ctx, w.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.backend.CreateIndex(ctx, schema)
	}); err != nil {
		return false, fmt.Errorf("failed to create index %s: %w", schema.Name, err)
	}
	w.logger.Info("created search index", "index", schema.Name, "backend", w.backend.Name())
	return true, nil
}

// IndexChunks upserts chunks into indexName (the writer's index when empty)
// in batches of batchSize. Invalid chunks are skipped without being sent.
// Results hold the ids of indexed chunks; per-document failures carry the
// backend's status code. The call succeeded iff Processed > 0.
func (w *Writer) IndexChunks(ctx context.Context, chunks []types.DocumentChunk, indexName string, batchSize int, onProgress types.ProgressFunc) *types.BatchResult[string] {
	if indexName == "" {
		indexName = w.cfg.IndexName
	}
	if batchSize <= 0 {
		batchSize = w.cfg.BatchSize
	}
	result := &types.BatchResult[string]{}
	emit := func(stage string, processed int) {
		if onProgress != nil {
			onProgress(types.Progress{Stage: stage, Processed: processed, Total: len(chunks)})
		}
	}

	docs := make([]Document, 0, len(chunks))
	positions := make([]int, 0, len(chunks))
	for i := range chunks {
		if err := w.validate(&chunks[i]); err != nil {
			result.Skip(types.NewItemError(i, chunks[i].ID, err))
			continue
		}
		docs = append(docs, DocumentFromChunk(&chunks[i]))
		positions = append(positions, i)
	}
	done := len(chunks) - len(docs)
	emit(StageIndexing, done)

	if indexName == "" && len(docs) > 0 {
		for j, d := range docs {
			result.Fail(types.NewItemError(positions[j], d.ID, types.WrapError(types.KindValidation, types.CodeBadRequest, ErrNoIndex)))
		}
		docs = nil
	}

	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		w.uploadBatch(ctx, indexName, docs[start:end], positions[start:end], result)
		done += end - start
		emit(StageIndexing, done)
	}

	metrics.RecordChunksIndexed(ctx, indexName, result.Processed)
	emit(StageCompleted, len(chunks))
	w.logger.Debug("index batch complete",
		"index", indexName, "total", len(chunks), "indexed", result.Processed,
		"failed", result.Failed, "skipped", result.Skipped)
	return result
}

func (w *Writer) uploadBatch(ctx context.Context, indexName string, docs []Document, positions []int, result *types.BatchResult[string]) {
	statuses, err := retry.Do(ctx, w.policy, func(ctx context.Context) ([]DocumentStatus, error) {
		return w.backend.Upload(ctx, indexName, docs)
	})
	if err != nil {
		w.logger.Warn("index upload failed", "index", indexName, "size", len(docs), "error", err)
		for j, d := range docs {
			result.Fail(types.NewItemError(positions[j], d.ID, err))
		}
		return
	}

	byKey := make(map[string]DocumentStatus, len(statuses))
	for _, s := range statuses {
		byKey[s.Key] = s
	}
	for j, d := range docs {
		s, ok := byKey[d.ID]
		switch {
		case !ok:
			result.Fail(types.NewItemError(positions[j], d.ID,
				types.NewError(types.KindServerError, types.CodeUnknown, "no status returned for document")))
		case s.Succeeded:
			result.Add(positions[j], d.ID)
		default:
			result.Fail(types.NewItemError(positions[j], d.ID, statusError(s)))
		}
	}
}

// statusError converts a failed document status into an error. 429 and 5xx
// (including 503 throttling) are retryable.
func statusError(s DocumentStatus) *types.Error {
	msg := s.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("document rejected with status %d", s.StatusCode)
	}
	return &types.Error{
		Kind:       retry.KindForStatus(s.StatusCode),
		Code:       retry.CodeForStatus(s.StatusCode),
		Message:    msg,
		StatusCode: s.StatusCode,
	}
}

func (w *Writer) validate(c *types.DocumentChunk) error {
	switch {
	case c.ID == "":
		return types.NewError(types.KindValidation, types.CodeInvalidChunk, "chunk id is required")
	case strings.TrimSpace(c.Content) == "":
		return types.WrapError(types.KindValidation, types.CodeEmptyText, types.ErrEmptyContent)
	case utf8.RuneCountInString(c.Content) > w.cfg.MaxContentChars:
		return types.NewError(types.KindValidation, types.CodeTextTooLong,
			fmt.Sprintf("content has %d characters, max %d", utf8.RuneCountInString(c.Content), w.cfg.MaxContentChars))
	case c.Embedding != nil && w.cfg.Dimension > 0 && len(c.Embedding) != w.cfg.Dimension:
		return types.WrapError(types.KindValidation, types.CodeInvalidChunk,
			fmt.Errorf("%w: got %d, want %d", types.ErrDimensionMismatch, len(c.Embedding), w.cfg.Dimension))
	}
	return nil
}

// DeleteDocuments removes ids from the writer's index in one call.
func (w *Writer) DeleteDocuments(ctx context.Context, ids []string) *types.BatchResult[string] {
	result := &types.BatchResult[string]{}
	if len(ids) == 0 {
		return result
	}
	if w.cfg.IndexName == "" {
		for i, id := range ids {
			result.Fail(types.NewItemError(i, id, types.WrapError(types.KindValidation, types.CodeBadRequest, ErrNoIndex)))
		}
		return result
	}
	statuses, err := retry.Do(ctx, w.policy, func(ctx context.Context) ([]DocumentStatus, error) {
		return w.backend.Delete(ctx, w.cfg.IndexName, ids)
	})
	if err != nil {
		for i, id := range ids {
			result.Fail(types.NewItemError(i, id, err))
		}
		return result
	}
	byKey := make(map[string]DocumentStatus, len(statuses))
	for _, s := range statuses {
		byKey[s.Key] = s
	}
	for i, id := range ids {
		s, ok := byKey[id]
		switch {
		case !ok:
			result.Fail(types.NewItemError(i, id,
				types.NewError(types.KindServerError, types.CodeUnknown, "no status returned for document")))
		case s.Succeeded:
			result.Add(i, id)
		default:
			result.Fail(types.NewItemError(i, id, statusError(s)))
		}
	}
	return result
}

// CheckHealth reports whether the writer's index exists, carries the
// required fields and holds documents. A missing field degrades the index;
// an empty index is only a warning.
func (w *Writer) CheckHealth(ctx context.Context) types.HealthReport {
	report := types.HealthReport{
		Status:    types.HealthHealthy,
		IndexName: w.cfg.IndexName,
		CheckedAt: w.now(),
	}

	schema, err := w.backend.GetIndex(ctx, w.cfg.IndexName)
	if err != nil {
		report.Status = types.HealthUnhealthy
		if errors.Is(err, ErrIndexNotFound) {
			report.Issues = append(report.Issues, fmt.Sprintf("index %q does not exist", w.cfg.IndexName))
		} else {
			report.Issues = append(report.Issues, fmt.Sprintf("cannot read index: %v", err))
		}
		return report
	}
	report.Exists = true

	for _, name := range RequiredFields {
		if !schema.HasField(name) {
			report.MissingFields = append(report.MissingFields, name)
			report.Issues = append(report.Issues, fmt.Sprintf("missing required field: %s", name))
		}
	}
	if len(report.MissingFields) > 0 {
		report.Status = types.HealthDegraded
	}

	stats, err := w.backend.Stats(ctx, w.cfg.IndexName)
	switch {
	case err != nil:
		report.Status = types.HealthDegraded
		report.Issues = append(report.Issues, fmt.Sprintf("cannot read index statistics: %v", err))
	case stats.DocumentCount == 0:
		report.Warnings = append(report.Warnings, "index contains no documents")
	default:
		report.DocumentCount = stats.DocumentCount
	}
	return report
}

// ClearIndex deletes every document of the writer's index in one call. An
// empty index is a successful no-op.
func (w *Writer) ClearIndex(ctx context.Context) (bool, error) {
	keys, err := w.backend.ListKeys(ctx, w.cfg.IndexName)
	if err != nil {
		return false, fmt.Errorf("failed to list documents: %w", err)
	}
	if len(keys) == 0 {
		w.logger.Info("index already empty", "index", w.cfg.IndexName)
		return true, nil
	}
	res := w.DeleteDocuments(ctx, keys)
	if res.Failed > 0 {
		return false, fmt.Errorf("failed to delete %d of %d documents: %s", res.Failed, len(keys), res.Errors[0].Message)
	}
	w.logger.Info("cleared index", "index", w.cfg.IndexName, "deleted", res.Processed)
	return true, nil
}
