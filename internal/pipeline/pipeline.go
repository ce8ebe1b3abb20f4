package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/floringheorghiu/multilingual-rag/internal/chunker"
	"github.com/floringheorghiu/multilingual-rag/internal/embedder"
	"github.com/floringheorghiu/multilingual-rag/internal/metrics"
	"github.com/floringheorghiu/multilingual-rag/internal/storage"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	// DefaultMaxConcurrentFiles is the file-level parallelism.
	DefaultMaxConcurrentFiles = 5
	// MaxBatchFiles caps the files in one batch regardless of parallelism.
	MaxBatchFiles = 10
	// DefaultMinTextChars is the least extracted text worth indexing.
	DefaultMinTextChars = 50
	// DefaultTargetLanguage is the language documents are translated into.
	DefaultTargetLanguage = "en"
)

// Progress stages reported to the caller.
const (
	StageBatch     = "batch"
	StageDocument  = "document"
	StageCompleted = "completed"
)

// Extractor turns a file into text.
type Extractor interface {
	SourceFile(path string) (types.SourceFile, error)
	ExtractFile(ctx context.Context, path string) (*types.ExtractedContent, error)
}

// Detector classifies text. A low-confidence answer comes back together
// with a low_confidence error.
type Detector interface {
	Detect(ctx context.Context, text string) (types.LanguageResult, error)
}

// Translator translates one document text.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (types.TranslationResult, error)
}

// Chunker splits text into chunks carrying file provenance.
type Chunker interface {
	Chunk(text string, file chunker.FileIdentity) ([]types.DocumentChunk, error)
}

// Embedder embeds chunk texts in sub-batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, reqs []embedder.Request, batchSize int, onProgress types.ProgressFunc) *types.BatchResult[embedder.EmbeddingResult]
}

// IndexWriter uploads embedded chunks.
type IndexWriter interface {
	IndexChunks(ctx context.Context, chunks []types.DocumentChunk, indexName string, batchSize int, onProgress types.ProgressFunc) *types.BatchResult[string]
}

// RunLedger records runs and their per-file outcomes.
type RunLedger interface {
	CreateRun(ctx context.Context, run *storage.Run) error
	UpdateRun(ctx context.Context, run *storage.Run) error
	AddRunFile(ctx context.Context, file *storage.RunFile) error
}

// Config configures the orchestrator.
type Config struct {
	MaxConcurrentFiles int
	MinTextChars       int
	TranslationEnabled bool
	ForceTranslation   bool // translate even when detection confidence is low
	TargetLanguage     string
}

// Stages bundles the stage components. Translator and Ledger may be nil.
type Stages struct {
	Extractor  Extractor
	Detector   Detector
	Translator Translator
	Chunker    Chunker
	Embedder   Embedder
	Writer     IndexWriter
	Ledger     RunLedger
}

// Pipeline drives files through extraction, detection, translation,
// chunking, embedding and indexing.
type Pipeline struct {
	stages Stages
	cfg    Config
	lock   runLock
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock sets the clock used for timings and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline. Extractor, Detector, Chunker, Embedder and Writer
// are required.
func New(stages Stages, cfg Config, opts ...Option) (*Pipeline, error) {
	switch {
	case stages.Extractor == nil:
		return nil, fmt.Errorf("pipeline: extractor is required")
	case stages.Detector == nil:
		return nil, fmt.Errorf("pipeline: detector is required")
	case stages.Chunker == nil:
		return nil, fmt.Errorf("pipeline: chunker is required")
	case stages.Embedder == nil:
		return nil, fmt.Errorf("pipeline: embedder is required")
	case stages.Writer == nil:
		return nil, fmt.Errorf("pipeline: index writer is required")
	}
	if cfg.MaxConcurrentFiles <= 0 {
		cfg.MaxConcurrentFiles = DefaultMaxConcurrentFiles
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = DefaultMinTextChars
	}
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = DefaultTargetLanguage
	}
	p := &Pipeline{
		stages: stages,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool {
	return p.lock.Running()
}

// batchSize is min(parallelism, hard cap).
func (p *Pipeline) batchSize() int {
	return min(p.cfg.MaxConcurrentFiles, MaxBatchFiles)
}

// ProcessDocuments ingests paths. Paths are made absolute before anything
// else, and results report them in that form. File failures are recorded in the result
// and never abort the run; the returned error is reserved for runs that
// could not start. Only one run may be active per Pipeline.
func (p *Pipeline) ProcessDocuments(ctx context.Context, paths []string, onProgress types.PipelineProgressFunc) (*types.ProcessingResult, error) {
	if !p.lock.TryAcquire() {
		return nil, types.ErrRunInProgress
	}
	defer p.lock.Release()

	paths = canonicalPaths(paths)
	start := p.now()
	run := &run{
		p:        p,
		id:       uuid.NewString(),
		paths:    paths,
		files:    make([]types.FileResult, len(paths)),
		progress: &reporter{fn: onProgress, total: len(paths)},
	}
	run.begin(ctx, start)

	p.logger.Info("ingestion run started", "run_id", run.id, "files", len(paths), "batch_size", p.batchSize())

	size := p.batchSize()
	batches := (len(paths) + size - 1) / size
	for b, lo := 0, 0; lo < len(paths); b, lo = b+1, lo+size {
		hi := min(lo+size, len(paths))
		if err := ctx.Err(); err != nil {
			run.cancelFrom(ctx, lo, types.TimeoutError(err))
			break
		}
		run.progress.batch(b+1, batches)
		if err := run.processBatch(ctx, lo, hi); err != nil {
			// partitioning failure: the remaining files never ran
			p.logger.Error("batch aborted", "run_id", run.id, "batch", b+1, "error", err)
			run.cancelFrom(ctx, lo, err)
			break
		}
	}

	result := run.summarize(p.now().Sub(start))
	run.finish(ctx, result)
	run.progress.emit(StageCompleted, 100, fmt.Sprintf("processed %d of %d files", len(result.DocumentsProcessed), result.TotalFiles))

	p.logger.Info("ingestion run finished",
		"run_id", run.id,
		"success", result.Success,
		"processed", len(result.DocumentsProcessed),
		"failed", result.ErrorFiles,
		"unsupported", result.UnsupportedFiles,
		"translated", result.TranslatedFiles,
		"chunks", result.TotalChunks,
		"duration", result.Duration)
	return result, nil
}

// run is the state of one ProcessDocuments call. Each file owns its slot
// in files; errs is shared and guarded by mu.
type run struct {
	p        *Pipeline
	id       string
	paths    []string
	files    []types.FileResult
	progress *reporter
	ledger   RunLedger // nil when runs are not recorded

	mu   sync.Mutex
	errs []types.ProcessingError
}

func (r *run) addErrors(errs ...types.ProcessingError) {
	if len(errs) == 0 {
		return
	}
	r.mu.Lock()
	r.errs = append(r.errs, errs...)
	r.mu.Unlock()
}

// processBatch takes files [lo, hi) to ready-to-index concurrently, waits
// for all of them, then indexes the batch's chunks together.
func (r *run) processBatch(ctx context.Context, lo, hi int) error {
	sem := make(chan struct{}, r.p.cfg.MaxConcurrentFiles)
	jobs := make([]*fileJob, hi-lo)

	g, gctx := errgroup.WithContext(ctx)
	for i := lo; i < hi; i++ {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				jobs[i-lo] = r.p.failedJob(r.paths[i], types.StateQueued, types.TimeoutError(gctx.Err()))
				return nil
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()
			jobs[i-lo] = r.p.prepareFile(gctx, r.paths[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("process batch: %w", err)
	}

	r.p.indexJobs(ctx, jobs)

	for j, job := range jobs {
		r.complete(ctx, lo+j, job)
	}
	return nil
}

// complete stores a terminal file outcome and reports it.
func (r *run) complete(ctx context.Context, i int, job *fileJob) {
	r.files[i] = job.result
	r.addErrors(job.errs...)
	metrics.RecordFile(ctx, outcome(job.result.State))
	r.record(ctx, job)
	r.progress.document(job.result)
}

// cancelFrom fails every file from lo on that has not reached a terminal
// state.
func (r *run) cancelFrom(ctx context.Context, lo int, err error) {
	for i := lo; i < len(r.paths); i++ {
		if r.files[i].State.Terminal() {
			continue
		}
		r.complete(ctx, i, r.p.failedJob(r.paths[i], types.StateQueued, err))
	}
}

func outcome(s types.FileState) string {
	switch s {
	case types.StateIndexed:
		return metrics.OutcomeIndexed
	case types.StateSkipped:
		return metrics.OutcomeSkipped
	default:
		return metrics.OutcomeFailed
	}
}

func (r *run) summarize(d time.Duration) *types.ProcessingResult {
	res := &types.ProcessingResult{
		RunID:              r.id,
		DocumentsProcessed: []string{},
		TotalFiles:         len(r.paths),
		Errors:             r.errs,
		Files:              r.files,
		Duration:           d,
	}
	if res.Errors == nil {
		res.Errors = []types.ProcessingError{}
	}
	for _, f := range r.files {
		switch f.State {
		case types.StateIndexed:
			res.DocumentsProcessed = append(res.DocumentsProcessed, f.FilePath)
			res.TotalChunks += f.Indexed
		case types.StateSkipped:
			res.UnsupportedFiles++
		case types.StateFailed:
			res.ErrorFiles++
		}
		if f.Translated && f.State == types.StateIndexed {
			res.TranslatedFiles++
		}
		res.SkippedChunks += f.SkippedChunks
	}
	res.Success = len(res.Errors) == 0 || len(res.DocumentsProcessed) > 0
	return res
}
