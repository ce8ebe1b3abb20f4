package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/floringheorghiu/multilingual-rag/internal/chunker"
	"github.com/floringheorghiu/multilingual-rag/internal/detector"
	"github.com/floringheorghiu/multilingual-rag/internal/embedder"
	"github.com/floringheorghiu/multilingual-rag/internal/metrics"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// UnknownLanguage is recorded when detection failed outright.
const UnknownLanguage = "unknown"

// fileJob carries one file from queued to a terminal state. It is owned by
// the goroutine processing the file until the batch is indexed.
type fileJob struct {
	result  types.FileResult
	errs    []types.ProcessingError
	doc     *types.ProcessedDocument // set once ready-to-index
	started time.Time
	stage   types.FileState // stage of the fatal error, if any
}

func (j *fileJob) fail(stage types.FileState, err error) {
	pe := types.NewProcessingError(j.result.FilePath, stage, err)
	j.errs = append(j.errs, pe)
	j.stage = stage
	j.result.State = types.StateFailed
	j.result.Error = err.Error()
}

// warn records an error the file recovered from.
func (j *fileJob) warn(stage types.FileState, err error) {
	pe := types.NewProcessingError(j.result.FilePath, stage, err)
	pe.Recoverable = true
	j.errs = append(j.errs, pe)
}

// warnChunks records each chunk dropped from a file that is still indexed.
func (j *fileJob) warnChunks(stage types.FileState, errs []types.ItemError) {
	for _, e := range errs {
		j.errs = append(j.errs, types.NewChunkError(j.result.FilePath, stage, e))
	}
}

func (p *Pipeline) newJob(path string) *fileJob {
	return &fileJob{
		started: p.now(),
		result: types.FileResult{
			FilePath: path,
			Format:   types.DocumentTypeOf(path),
			State:    types.StateQueued,
		},
	}
}

func (p *Pipeline) failedJob(path string, stage types.FileState, err error) *fileJob {
	job := p.newJob(path)
	job.fail(stage, err)
	return job
}

// stageErr turns any error observed after cancellation into a timeout.
func stageErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && types.KindOf(err) != types.KindTimeout {
		return types.TimeoutError(ctxErr)
	}
	return err
}

// prepareFile runs the per-file stages up to ready-to-index. The job comes
// back failed or skipped when a stage stops the file.
func (p *Pipeline) prepareFile(ctx context.Context, path string) *fileJob {
	job := p.newJob(path)
	defer func() {
		if job.result.State.Terminal() {
			job.result.Duration = p.now().Sub(job.started)
		}
	}()

	src, err := p.stages.Extractor.SourceFile(path)
	if err != nil {
		job.fail(types.StateExtracting, types.WrapError(types.KindValidation, types.CodeBadRequest, err))
		return job
	}
	if !src.Supported {
		p.skip(job, src.Type)
		return job
	}

	content, ok := p.extract(ctx, job)
	if !ok {
		return job
	}

	lr, ok := p.detect(ctx, job, content.Text)
	if !ok {
		return job
	}

	text, translated, ok := p.translate(ctx, job, content.Text, lr)
	if !ok {
		return job
	}

	job.result.State = types.StateChunking
	target := detector.NormalizeCode(p.cfg.TargetLanguage)
	chunks, err := p.stages.Chunker.Chunk(text, chunker.FileIdentity{
		Path:             path,
		Title:            content.Title,
		OriginalLanguage: lr.Language,
		TargetLanguage:   target,
		Translated:       translated,
		UploadedAt:       p.now(),
		ImageMapping:     content.Images,
	})
	if err == nil && len(chunks) == 0 {
		err = types.NewError(types.KindValidation, types.CodeEmptyText, "no chunks produced")
	}
	if err != nil {
		job.fail(types.StateChunking, stageErr(ctx, err))
		return job
	}
	job.result.Chunks = len(chunks)

	embedded, ok := p.embed(ctx, job, chunks)
	if !ok {
		return job
	}

	translatedText := ""
	if translated {
		translatedText = text
	}
	job.doc = types.NewProcessedDocument(path, lr.Language, translatedText, embedded)
	job.result.State = types.StateReadyToIndex
	return job
}

func (p *Pipeline) skip(job *fileJob, t types.DocumentType) {
	job.result.State = types.StateSkipped
	job.result.Error = fmt.Sprintf("unsupported format: %s", t)
	p.logger.Debug("skipping unsupported file", "path", job.result.FilePath, "format", t)
}

func (p *Pipeline) extract(ctx context.Context, job *fileJob) (*types.ExtractedContent, bool) {
	job.result.State = types.StateExtracting
	start := p.now()
	content, err := p.stages.Extractor.ExtractFile(ctx, job.result.FilePath)
	metrics.RecordStageDuration(ctx, string(types.StateExtracting), p.now().Sub(start))
	if errors.Is(err, types.ErrUnsupportedFormat) {
		p.skip(job, job.result.Format)
		return nil, false
	}
	if err != nil {
		job.fail(types.StateExtracting, stageErr(ctx, err))
		return nil, false
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(content.Text)); n < p.cfg.MinTextChars {
		job.fail(types.StateExtracting, types.WrapError(types.KindValidation, types.CodeEmptyText,
			fmt.Errorf("%w: %d characters, need %d", types.ErrInsufficientText, n, p.cfg.MinTextChars)))
		return nil, false
	}
	return content, true
}

// detect classifies the text. A low-confidence answer is kept but recorded;
// a provider failure falls back to UnknownLanguage. Only cancellation stops
// the file.
func (p *Pipeline) detect(ctx context.Context, job *fileJob, text string) (types.LanguageResult, bool) {
	job.result.State = types.StateDetecting
	start := p.now()
	lr, err := p.stages.Detector.Detect(ctx, text)
	metrics.RecordStageDuration(ctx, string(types.StateDetecting), p.now().Sub(start))

	switch {
	case err == nil:
	case ctx.Err() != nil:
		job.fail(types.StateDetecting, stageErr(ctx, err))
		return lr, false
	case types.KindOf(err) == types.KindLowConfidence:
		job.warn(types.StateDetecting, err)
		p.logger.Warn("low confidence language detection",
			"path", job.result.FilePath, "language", lr.Language, "confidence", lr.Confidence)
	default:
		job.warn(types.StateDetecting, err)
		p.logger.Warn("language detection failed, continuing without translation",
			"path", job.result.FilePath, "error", err)
		lr = types.LanguageResult{Language: UnknownLanguage}
	}
	job.result.DetectedLanguage = lr.Language
	job.result.Confidence = lr.Confidence
	return lr, true
}

// shouldTranslate applies the translation gate: enabled, a known language
// other than the target, and confident detection unless forced.
func (p *Pipeline) shouldTranslate(lr types.LanguageResult, confident bool) bool {
	if p.stages.Translator == nil || !p.cfg.TranslationEnabled {
		return false
	}
	if lr.Language == "" || lr.Language == UnknownLanguage || !lr.Supported {
		return false
	}
	if lr.Language == detector.NormalizeCode(p.cfg.TargetLanguage) {
		return false
	}
	return confident || p.cfg.ForceTranslation
}

// translate returns the text to chunk. A failed translation falls back to
// the original text.
func (p *Pipeline) translate(ctx context.Context, job *fileJob, text string, lr types.LanguageResult) (string, bool, bool) {
	if !p.shouldTranslate(lr, !hasLowConfidence(job)) {
		return text, false, true
	}

	job.result.State = types.StateTranslating
	start := p.now()
	tr, err := p.stages.Translator.Translate(ctx, text, lr.Language, p.cfg.TargetLanguage)
	metrics.RecordStageDuration(ctx, string(types.StateTranslating), p.now().Sub(start))
	if err != nil {
		if ctx.Err() != nil {
			job.fail(types.StateTranslating, stageErr(ctx, err))
			return "", false, false
		}
		job.warn(types.StateTranslating, err)
		p.logger.Warn("translation failed, indexing original text",
			"path", job.result.FilePath, "from", lr.Language, "error", err)
		return text, false, true
	}
	job.result.Translated = true
	return tr.Text, true, true
}

func hasLowConfidence(job *fileJob) bool {
	for _, e := range job.errs {
		if e.Stage == types.StateDetecting && e.Type == types.KindLowConfidence {
			return true
		}
	}
	return false
}

// embed attaches vectors to chunks. Chunks whose embedding failed are
// dropped and counted; the file fails only when none succeeded.
func (p *Pipeline) embed(ctx context.Context, job *fileJob, chunks []types.DocumentChunk) ([]types.DocumentChunk, bool) {
	job.result.State = types.StateEmbedding
	reqs := make([]embedder.Request, len(chunks))
	for i := range chunks {
		reqs[i] = embedder.Request{ID: chunks[i].ID, Text: chunks[i].Content}
	}

	start := p.now()
	res := p.stages.Embedder.EmbedBatch(ctx, reqs, 0, nil)
	metrics.RecordStageDuration(ctx, string(types.StateEmbedding), p.now().Sub(start))

	for _, r := range res.Results {
		chunks[r.Index].Embedding = r.Vector
	}
	embedded := make([]types.DocumentChunk, 0, len(res.Results))
	for i := range chunks {
		if chunks[i].Embedding != nil {
			embedded = append(embedded, chunks[i])
		}
	}

	if dropped := len(chunks) - len(embedded); dropped > 0 {
		job.result.SkippedChunks += dropped
		metrics.RecordChunksSkipped(ctx, string(types.StateEmbedding), dropped)
		p.logger.Warn("chunks skipped at embedding",
			"path", job.result.FilePath, "skipped", dropped, "total", len(chunks))
	}
	if len(embedded) == 0 {
		job.fail(types.StateEmbedding, stageErr(ctx, firstItemError(res.Errors, "no chunk could be embedded")))
		return nil, false
	}
	job.warnChunks(types.StateEmbedding, res.Errors)
	return embedded, true
}

func firstItemError(errs []types.ItemError, fallback string) error {
	if len(errs) == 0 {
		return types.NewError(types.KindUnknown, types.CodeUnknown, fallback)
	}
	e := errs[0]
	return &types.Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf("%s: %s", fallback, e.Message)}
}

// indexJobs uploads the chunks of every ready job in one writer call and
// maps the per-chunk outcome back to the owning files.
func (p *Pipeline) indexJobs(ctx context.Context, jobs []*fileJob) {
	var (
		all   []types.DocumentChunk
		owner []int
	)
	for j, job := range jobs {
		if job.result.State != types.StateReadyToIndex {
			continue
		}
		job.result.State = types.StateIndexing
		for _, c := range job.doc.Chunks {
			all = append(all, c)
			owner = append(owner, j)
		}
	}
	if len(all) == 0 {
		return
	}

	start := p.now()
	res := p.stages.Writer.IndexChunks(ctx, all, "", 0, nil)
	metrics.RecordStageDuration(ctx, string(types.StateIndexing), p.now().Sub(start))

	failed := make(map[int][]types.ItemError)
	for _, i := range res.Indices {
		jobs[owner[i]].result.Indexed++
	}
	for _, e := range res.Errors {
		j := owner[e.Index]
		jobs[j].result.SkippedChunks++
		failed[j] = append(failed[j], e)
	}
	if skipped := res.Failed + res.Skipped; skipped > 0 {
		metrics.RecordChunksSkipped(ctx, string(types.StateIndexing), skipped)
	}

	for j, job := range jobs {
		if job.result.State != types.StateIndexing {
			continue
		}
		if job.result.Indexed > 0 {
			job.result.State = types.StateIndexed
			if errs := failed[j]; len(errs) > 0 {
				job.warnChunks(types.StateIndexing, errs)
				p.logger.Warn("some chunks were not indexed",
					"path", job.result.FilePath, "indexed", job.result.Indexed, "first_error", errs[0].Message)
			}
		} else {
			job.fail(types.StateIndexing, stageErr(ctx, firstItemError(failed[j], "no chunk could be indexed")))
		}
		job.result.Duration = p.now().Sub(job.started)
	}
}
