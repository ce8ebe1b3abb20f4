package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floringheorghiu/multilingual-rag/internal/chunker"
	"github.com/floringheorghiu/multilingual-rag/internal/embedder"
	"github.com/floringheorghiu/multilingual-rag/internal/extract"
	"github.com/floringheorghiu/multilingual-rag/internal/index"
	"github.com/floringheorghiu/multilingual-rag/internal/storage"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	englishText = "The quick brown fox jumps over the lazy dog. This document explains how the ingestion pipeline works."
	frenchText  = "Bonjour tout le monde. Ce document explique comment fonctionne le pipeline d'ingestion des documents."
	testDim     = 4
)

// mockDetector answers "fr" for text containing "Bonjour", "en" otherwise.
type mockDetector struct {
	mu       sync.Mutex
	calls    int
	inflight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	gate     chan struct{}
	fn       func(text string) (types.LanguageResult, error)
}

func (m *mockDetector) Detect(ctx context.Context, text string) (types.LanguageResult, error) {
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return types.LanguageResult{}, types.TimeoutError(ctx.Err())
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.fn != nil {
		return m.fn(text)
	}
	if strings.Contains(text, "Bonjour") {
		return types.LanguageResult{Language: "fr", Confidence: 0.95, Supported: true}, nil
	}
	return types.LanguageResult{Language: "en", Confidence: 0.95, Supported: true}, nil
}

type mockTranslator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockTranslator) Translate(ctx context.Context, text, from, to string) (types.TranslationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return types.TranslationResult{}, m.err
	}
	return types.TranslationResult{
		Text:           "[" + to + "] " + text,
		SourceLanguage: from,
		TargetLanguage: to,
		Confidence:     1,
	}, nil
}

func (m *mockTranslator) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockEmbedder fails every text containing "FAILEMBED".
type mockEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, reqs []embedder.Request, batchSize int, onProgress types.ProgressFunc) *types.BatchResult[embedder.EmbeddingResult] {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	res := &types.BatchResult[embedder.EmbeddingResult]{}
	for i, r := range reqs {
		if strings.Contains(r.Text, "FAILEMBED") {
			res.Fail(types.NewItemError(i, r.ID, types.NewError(types.KindServerError, types.CodeServerError, "embedding service unavailable")))
			continue
		}
		res.Add(i, embedder.EmbeddingResult{ID: r.ID, Index: i, Vector: []float32{1, 0, 0, 0}, Model: "mock"})
	}
	return res
}

// recordingWriter accepts every chunk except those reject matches.
type recordingWriter struct {
	mu     sync.Mutex
	calls  int
	chunks []types.DocumentChunk
	reject func(c types.DocumentChunk) bool
}

func (w *recordingWriter) IndexChunks(ctx context.Context, chunks []types.DocumentChunk, indexName string, batchSize int, onProgress types.ProgressFunc) *types.BatchResult[string] {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	res := &types.BatchResult[string]{}
	for i, c := range chunks {
		if w.reject != nil && w.reject(c) {
			res.Fail(types.NewItemError(i, c.ID, &types.Error{
				Kind: types.KindClientError, Code: types.CodeBadRequest, Message: "invalid document", StatusCode: 400,
			}))
			continue
		}
		w.chunks = append(w.chunks, c)
		res.Add(i, c.ID)
	}
	return res
}

func (w *recordingWriter) getCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestChunker(t *testing.T, size int) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(chunker.Config{ChunkSize: size, Overlap: 0})
	require.NoError(t, err)
	return c
}

type harness struct {
	detector   *mockDetector
	translator *mockTranslator
	embedder   *mockEmbedder
	writer     *recordingWriter
	stages     Stages
	cfg        Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		detector:   &mockDetector{},
		translator: &mockTranslator{},
		embedder:   &mockEmbedder{},
		writer:     &recordingWriter{},
		cfg: Config{
			MaxConcurrentFiles: 5,
			TranslationEnabled: true,
			TargetLanguage:     "en",
		},
	}
	h.stages = Stages{
		Extractor:  extract.New(nil),
		Detector:   h.detector,
		Translator: h.translator,
		Chunker:    newTestChunker(t, 1000),
		Embedder:   h.embedder,
		Writer:     h.writer,
	}
	return h
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(h.stages, h.cfg)
	require.NoError(t, err)
	return p
}

func TestNew(t *testing.T) {
	h := newHarness(t)

	p := h.pipeline(t)
	assert.Equal(t, 5, p.batchSize())
	assert.False(t, p.Running())

	t.Run("batch size is capped", func(t *testing.T) {
		h.cfg.MaxConcurrentFiles = 50
		assert.Equal(t, MaxBatchFiles, h.pipeline(t).batchSize())
	})

	t.Run("defaults", func(t *testing.T) {
		p, err := New(h.stages, Config{})
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxConcurrentFiles, p.cfg.MaxConcurrentFiles)
		assert.Equal(t, DefaultMinTextChars, p.cfg.MinTextChars)
		assert.Equal(t, DefaultTargetLanguage, p.cfg.TargetLanguage)
	})

	t.Run("missing stages", func(t *testing.T) {
		stages := h.stages
		stages.Embedder = nil
		_, err := New(stages, h.cfg)
		assert.Error(t, err)

		stages = h.stages
		stages.Translator = nil
		stages.Ledger = nil
		_, err = New(stages, h.cfg)
		assert.NoError(t, err)
	})
}

func TestProcessDocuments_MixedFiles(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	p := h.pipeline(t)

	paths := []string{
		writeDoc(t, dir, "en.txt", englishText),
		writeDoc(t, dir, "fr.md", frenchText),
		writeDoc(t, dir, "image.png", "not an image"),
		writeDoc(t, dir, "short.txt", "too short"),
	}

	result, err := p.ProcessDocuments(context.Background(), paths, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 4, result.TotalFiles)
	assert.ElementsMatch(t, []string{paths[0], paths[1]}, result.DocumentsProcessed)
	assert.Equal(t, 1, result.UnsupportedFiles)
	assert.Equal(t, 1, result.ErrorFiles)
	assert.Equal(t, 1, result.TranslatedFiles)
	assert.Equal(t, 2, result.TotalChunks)
	assert.Equal(t, 0, result.SkippedChunks)

	require.Len(t, result.Errors, 1)
	pe := result.Errors[0]
	assert.Equal(t, paths[3], pe.FilePath)
	assert.Equal(t, types.StateExtracting, pe.Stage)
	assert.Equal(t, types.KindValidation, pe.Type)
	assert.False(t, pe.Recoverable)
	assert.Contains(t, pe.Message, types.ErrInsufficientText.Error())

	require.Len(t, result.Files, 4)
	assert.Equal(t, types.StateIndexed, result.Files[0].State)
	assert.Equal(t, "en", result.Files[0].DetectedLanguage)
	assert.False(t, result.Files[0].Translated)
	assert.Equal(t, types.StateIndexed, result.Files[1].State)
	assert.True(t, result.Files[1].Translated)
	assert.Equal(t, types.StateSkipped, result.Files[2].State)
	assert.Equal(t, types.StateFailed, result.Files[3].State)

	assert.Equal(t, 1, h.translator.getCalls())
	assert.Equal(t, 1, h.writer.getCalls(), "one batch, one writer call")

	for _, c := range h.writer.chunks {
		require.Len(t, c.Embedding, testDim)
		if c.Metadata.FilePath == paths[1] {
			assert.True(t, c.Metadata.Translated)
			assert.Equal(t, "fr", c.Metadata.OriginalLanguage)
			assert.True(t, strings.HasPrefix(c.Content, "[en] "))
		}
	}
}

func TestProcessDocuments_TranslationGate(t *testing.T) {
	lowConfidence := func(string) (types.LanguageResult, error) {
		return types.LanguageResult{Language: "fr", Confidence: 0.2, Supported: true},
			&types.Error{Kind: types.KindLowConfidence, Code: types.CodeLowConfidence, Message: "below threshold"}
	}

	tests := []struct {
		name           string
		text           string
		detect         func(string) (types.LanguageResult, error)
		enabled        bool
		force          bool
		noTranslator   bool
		wantTranslated bool
		wantErrors     int
	}{
		{name: "foreign confident", text: frenchText, enabled: true, wantTranslated: true},
		{name: "already target language", text: englishText, enabled: true},
		{name: "disabled", text: frenchText, enabled: false},
		{name: "no translator", text: frenchText, enabled: true, noTranslator: true},
		{name: "low confidence", text: frenchText, enabled: true, detect: lowConfidence, wantErrors: 1},
		{name: "low confidence forced", text: frenchText, enabled: true, force: true, detect: lowConfidence, wantTranslated: true, wantErrors: 1},
		{
			name: "unsupported language", text: frenchText, enabled: true,
			detect: func(string) (types.LanguageResult, error) {
				return types.LanguageResult{Language: "fr", Confidence: 0.9, Supported: false}, nil
			},
		},
		{
			name: "forced never sends target language", text: englishText, enabled: true, force: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.detector.fn = tt.detect
			h.cfg.TranslationEnabled = tt.enabled
			h.cfg.ForceTranslation = tt.force
			if tt.noTranslator {
				h.stages.Translator = nil
			}
			path := writeDoc(t, t.TempDir(), "doc.txt", tt.text)

			result, err := h.pipeline(t).ProcessDocuments(context.Background(), []string{path}, nil)
			require.NoError(t, err)

			require.Len(t, result.Files, 1)
			assert.Equal(t, types.StateIndexed, result.Files[0].State)
			assert.Equal(t, tt.wantTranslated, result.Files[0].Translated)
			if !tt.noTranslator {
				want := 0
				if tt.wantTranslated {
					want = 1
				}
				assert.Equal(t, want, h.translator.getCalls())
			}
			assert.Len(t, result.Errors, tt.wantErrors)
			assert.True(t, result.Success)
		})
	}
}

func TestProcessDocuments_Fallbacks(t *testing.T) {
	t.Run("translation failure indexes original text", func(t *testing.T) {
		h := newHarness(t)
		h.translator.err = types.NewError(types.KindQuotaExceeded, types.CodeQuotaExceeded, "quota exceeded")
		path := writeDoc(t, t.TempDir(), "fr.txt", frenchText)

		result, err := h.pipeline(t).ProcessDocuments(context.Background(), []string{path}, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, []string{path}, result.DocumentsProcessed)
		assert.Equal(t, 0, result.TranslatedFiles)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, types.StateTranslating, result.Errors[0].Stage)
		assert.Equal(t, types.KindQuotaExceeded, result.Errors[0].Type)
		assert.True(t, result.Errors[0].Recoverable)

		require.Len(t, h.writer.chunks, 1)
		assert.Equal(t, frenchText, h.writer.chunks[0].Content)
		assert.False(t, h.writer.chunks[0].Metadata.Translated)
	})

	t.Run("detection failure uses unknown language", func(t *testing.T) {
		h := newHarness(t)
		h.detector.fn = func(string) (types.LanguageResult, error) {
			return types.LanguageResult{}, types.NewError(types.KindServerError, types.CodeServerError, "detector down")
		}
		path := writeDoc(t, t.TempDir(), "fr.txt", frenchText)

		result, err := h.pipeline(t).ProcessDocuments(context.Background(), []string{path}, nil)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, UnknownLanguage, result.Files[0].DetectedLanguage)
		assert.Equal(t, 0, h.translator.getCalls())
		require.Len(t, result.Errors, 1)
		assert.Equal(t, types.StateDetecting, result.Errors[0].Stage)
		assert.True(t, result.Errors[0].Recoverable)
	})
}

func longText(sentences int, marker int) string {
	var sb strings.Builder
	for i := 0; i < sentences; i++ {
		if i == marker {
			fmt.Fprintf(&sb, "Sentence %d carries the FAILEMBED marker for this test. ", i)
			continue
		}
		fmt.Fprintf(&sb, "Sentence %d talks about the ingestion pipeline and its stages. ", i)
	}
	return sb.String()
}

func TestProcessDocuments_EmbeddingFailures(t *testing.T) {
	t.Run("failed chunks are skipped", func(t *testing.T) {
		h := newHarness(t)
		h.stages.Chunker = newTestChunker(t, 20)
		path := writeDoc(t, t.TempDir(), "long.txt", longText(12, 5))

		result, err := h.pipeline(t).ProcessDocuments(context.Background(), []string{path}, nil)
		require.NoError(t, err)

		f := result.Files[0]
		assert.Equal(t, types.StateIndexed, f.State)
		assert.Greater(t, f.Chunks, 1)
		assert.GreaterOrEqual(t, f.SkippedChunks, 1)
		assert.Equal(t, f.Chunks, f.Indexed+f.SkippedChunks)
		assert.Equal(t, f.SkippedChunks, result.SkippedChunks)
		assert.True(t, result.Success)

		indexed := make(map[string]bool)
		for _, c := range h.writer.chunks {
			assert.NotContains(t, c.Content, "FAILEMBED")
			indexed[c.ID] = true
		}
		require.Len(t, result.Errors, f.SkippedChunks, "every dropped chunk is reported")
		for _, e := range result.Errors {
			assert.Equal(t, path, e.FilePath)
			assert.NotEmpty(t, e.ChunkID)
			assert.False(t, indexed[e.ChunkID])
			assert.Equal(t, types.StateEmbedding, e.Stage)
			assert.Equal(t, types.KindServerError, e.Type)
			assert.Equal(t, types.CodeServerError, e.Code)
			assert.True(t, e.Recoverable)
			assert.True(t, e.Retryable)
		}
	})

	t.Run("most chunks failing still reports each one", func(t *testing.T) {
		h := newHarness(t)
		h.stages.Chunker = newTestChunker(t, 20)
		var sb strings.Builder
		for i := 0; i < 12; i++ {
			if i%2 == 1 || i == 10 {
				fmt.Fprintf(&sb, "Sentence %d carries the FAILEMBED marker for this test.\n\n", i)
				continue
			}
			fmt.Fprintf(&sb, "Sentence %d talks about the ingestion pipeline and its stages.\n\n", i)
		}
		path := writeDoc(t, t.TempDir(), "mixed.txt", sb.String())

		result, err := h.pipeline(t).ProcessDocuments(context.Background(), []string{path}, nil)
		require.NoError(t, err)

		f := result.Files[0]
		require.Equal(t, types.StateIndexed, f.State)
		assert.Greater(t, f.SkippedChunks, f.Indexed)
		ids := make(map[string]bool)
		for _, e := range result.Errors {
			ids[e.ChunkID] = true
		}
		assert.Len(t, ids, f.SkippedChunks)
		assert.NotContains(t, ids, "")
	})

	t.Run("file fails when no chunk is embedded", func(t *testing.T) {
		h := newHarness(t)
		path := writeDoc(t, t.TempDir(), "bad.txt", englishText+" FAILEMBED")

		result, err := h.pipeline(t).ProcessDocuments(context.Background(), []string{path}, nil)
		require.NoError(t, err)

		assert.False(t, result.Success)
		assert.Equal(t, 1, result.ErrorFiles)
		assert.Equal(t, 1, result.SkippedChunks)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, types.StateEmbedding, result.Errors[0].Stage)
		assert.Equal(t, types.KindServerError, result.Errors[0].Type)
		assert.Equal(t, 0, h.writer.getCalls(), "nothing ready to index")
	})
}

func TestProcessDocuments_PartialIndexFailure(t *testing.T) {
	h := newHarness(t)
	h.stages.Chunker = newTestChunker(t, 20)
	h.writer.reject = func(c types.DocumentChunk) bool { return c.Metadata.ChunkIndex == 0 }
	path := writeDoc(t, t.TempDir(), "long.txt", longText(8, -1))

	result, err := h.pipeline(t).ProcessDocuments(context.Background(), []string{path}, nil)
	require.NoError(t, err)

	f := result.Files[0]
	assert.Equal(t, types.StateIndexed, f.State)
	assert.Equal(t, 1, f.SkippedChunks)
	require.Len(t, result.Errors, 1)
	e := result.Errors[0]
	assert.Equal(t, types.StateIndexing, e.Stage)
	assert.Equal(t, types.ChunkID(path, 0, ""), e.ChunkID)
	assert.Equal(t, types.CodeBadRequest, e.Code)
	assert.True(t, e.Recoverable)
	assert.False(t, e.Retryable)
}

func TestProcessDocuments_PathSpellings(t *testing.T) {
	dir := t.TempDir()
	abs := writeDoc(t, dir, "doc.txt", englishText)
	t.Chdir(dir)

	h := newHarness(t)
	p := h.pipeline(t)
	spellings := []string{
		abs,
		"doc.txt",
		"./doc.txt",
		filepath.Join("..", filepath.Base(dir), ".", "doc.txt"),
	}
	for _, path := range spellings {
		result, err := p.ProcessDocuments(context.Background(), []string{path}, nil)
		require.NoError(t, err, path)
		assert.Equal(t, []string{abs}, result.DocumentsProcessed, path)
		assert.Equal(t, abs, result.Files[0].FilePath)
	}

	ids := make(map[string]bool)
	for _, c := range h.writer.chunks {
		ids[c.ID] = true
		assert.Equal(t, abs, c.Metadata.FilePath)
		assert.Equal(t, types.ChunkID(abs, c.Metadata.ChunkIndex, ""), c.ID)
	}
	assert.Len(t, h.writer.chunks, len(spellings))
	assert.Len(t, ids, 1, "one file, one identity")
}

func TestProcessDocuments_IndexFailureIsolated(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	good := writeDoc(t, dir, "good.txt", englishText)
	bad := writeDoc(t, dir, "bad.txt", englishText+" Rejected by the index.")
	h.writer.reject = func(c types.DocumentChunk) bool { return c.Metadata.FilePath == bad }

	result, err := h.pipeline(t).ProcessDocuments(context.Background(), []string{good, bad}, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{good}, result.DocumentsProcessed)
	assert.Equal(t, 1, result.ErrorFiles)
	assert.Equal(t, types.StateFailed, result.Files[1].State)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.StateIndexing, result.Errors[0].Stage)
	assert.Equal(t, types.KindClientError, result.Errors[0].Type)
	assert.False(t, result.Errors[0].Recoverable)
}

func TestProcessDocuments_Batches(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	h.cfg.MaxConcurrentFiles = 2
	h.detector.delay = 10 * time.Millisecond

	var paths []string
	for i := 0; i < 5; i++ {
		paths = append(paths, writeDoc(t, dir, fmt.Sprintf("doc%d.txt", i), englishText))
	}

	var (
		mu     sync.Mutex
		events []types.PipelineProgress
	)
	result, err := h.pipeline(t).ProcessDocuments(context.Background(), paths, func(p types.PipelineProgress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Len(t, result.DocumentsProcessed, 5)
	assert.Equal(t, 3, h.writer.getCalls(), "batches of 2, 2 and 1")
	assert.LessOrEqual(t, h.detector.maxSeen.Load(), int32(2))

	var batches, documents int
	last := -1
	for _, e := range events {
		switch e.Stage {
		case StageBatch:
			batches++
		case StageDocument:
			documents++
		}
		assert.GreaterOrEqual(t, e.Progress, last, "progress never goes back")
		last = e.Progress
	}
	assert.Equal(t, 3, batches)
	assert.Equal(t, 5, documents)
	require.NotEmpty(t, events)
	assert.Equal(t, StageCompleted, events[len(events)-1].Stage)
	assert.Equal(t, 100, events[len(events)-1].Progress)
}

func TestProcessDocuments_RunInProgress(t *testing.T) {
	h := newHarness(t)
	h.detector.gate = make(chan struct{})
	p := h.pipeline(t)
	path := writeDoc(t, t.TempDir(), "doc.txt", englishText)

	done := make(chan *types.ProcessingResult)
	go func() {
		res, _ := p.ProcessDocuments(context.Background(), []string{path}, nil)
		done <- res
	}()

	require.Eventually(t, p.Running, time.Second, 5*time.Millisecond)
	_, err := p.ProcessDocuments(context.Background(), []string{path}, nil)
	assert.True(t, errors.Is(err, types.ErrRunInProgress))

	close(h.detector.gate)
	res := <-done
	assert.True(t, res.Success)
	assert.False(t, p.Running())
}

func TestProcessDocuments_Cancelled(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	paths := []string{
		writeDoc(t, dir, "a.txt", englishText),
		writeDoc(t, dir, "b.txt", englishText),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := h.pipeline(t).ProcessDocuments(ctx, paths, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.ErrorFiles)
	require.Len(t, result.Errors, 2)
	for _, e := range result.Errors {
		assert.Equal(t, types.KindTimeout, e.Type)
		assert.False(t, e.Recoverable)
	}
	assert.Equal(t, 0, h.writer.getCalls())
}

func TestProcessDocuments_CancelledMidFile(t *testing.T) {
	h := newHarness(t)
	h.detector.gate = make(chan struct{})
	path := writeDoc(t, t.TempDir(), "a.txt", englishText)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result, err := h.pipeline(t).ProcessDocuments(ctx, []string{path}, nil)
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, types.StateDetecting, result.Errors[0].Stage)
	assert.Equal(t, types.KindTimeout, result.Errors[0].Type)
	assert.Equal(t, types.StateFailed, result.Files[0].State)
}

func TestProcessDocuments_Empty(t *testing.T) {
	h := newHarness(t)
	result, err := h.pipeline(t).ProcessDocuments(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TotalFiles)
	assert.NotNil(t, result.Errors)
	assert.NotNil(t, result.DocumentsProcessed)
}

func TestProcessDocuments_LocalIndexAndLedger(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend := index.NewLocalBackend(store)
	writer := index.NewWriter(backend, index.Config{IndexName: "docs", Dimension: testDim})
	created, err := writer.EnsureIndex(ctx, nil)
	require.NoError(t, err)
	require.True(t, created)

	h := newHarness(t)
	h.stages.Writer = writer
	h.stages.Ledger = store
	p := h.pipeline(t)

	dir := t.TempDir()
	paths := []string{
		writeDoc(t, dir, "en.txt", englishText),
		writeDoc(t, dir, "fr.txt", frenchText),
		writeDoc(t, dir, "notes.csv", "a,b,c"),
	}

	first, err := p.ProcessDocuments(ctx, paths, nil)
	require.NoError(t, err)
	require.True(t, first.Success)

	stats, err := backend.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(first.TotalChunks), stats.DocumentCount)

	// re-ingesting the same files leaves one document per chunk
	second, err := p.ProcessDocuments(ctx, paths, nil)
	require.NoError(t, err)
	stats, err = backend.Stats(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(second.TotalChunks), stats.DocumentCount)
	assert.Equal(t, first.TotalChunks, second.TotalChunks)

	keys, err := backend.ListKeys(ctx, "docs")
	require.NoError(t, err)
	for _, key := range keys {
		doc, err := store.GetDocument(ctx, "docs", key)
		require.NoError(t, err)
		if doc.FilePath == paths[1] {
			assert.Equal(t, "en", doc.Language)
			assert.Equal(t, "fr", doc.OriginalLanguage)
		}
	}

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, storage.RunCompleted, r.Status)
		assert.Equal(t, 3, r.TotalFiles)
		assert.Equal(t, 2, r.ProcessedFiles)
		assert.Equal(t, 1, r.UnsupportedFiles)
		assert.True(t, r.Success)
	}

	files, err := store.ListRunFiles(ctx, first.RunID)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	writeDoc(t, root, "a.txt", "a")
	writeDoc(t, root, "b.pdf", "b")
	writeDoc(t, root, "c.png", "c")
	writeDoc(t, root, ".hidden.txt", "h")
	writeDoc(t, filepath.Join(root, "sub"), "d.md", "d")
	writeDoc(t, filepath.Join(root, ".git"), "e.txt", "e")

	files, err := Discover(root, extract.New([]string{"txt", "md"}).Supported)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "sub", "d.md"),
	}, files)

	all, err := Discover(root, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = Discover(filepath.Join(root, "missing"), nil)
	assert.Error(t, err)

	t.Chdir(filepath.Join(root, "sub"))
	rel, err := Discover("..", extract.New([]string{"txt", "md"}).Supported)
	require.NoError(t, err)
	assert.Equal(t, files, rel, "relative roots yield absolute paths")
}

func TestRunLock(t *testing.T) {
	var l runLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	assert.True(t, l.Running())
	l.Release()
	assert.False(t, l.Running())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
