package types

import (
	"fmt"
	"time"
)

// FileState is the position of a file in the ingestion state machine.
type FileState string

const (
	StateQueued       FileState = "queued"
	StateExtracting   FileState = "extracting"
	StateDetecting    FileState = "detecting"
	StateTranslating  FileState = "translating"
	StateChunking     FileState = "chunking"
	StateEmbedding    FileState = "embedding"
	StateReadyToIndex FileState = "ready-to-index"
	StateIndexing     FileState = "indexing"

	StateIndexed FileState = "indexed"
	StateSkipped FileState = "skipped"
	StateFailed  FileState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s FileState) Terminal() bool {
	return s == StateIndexed || s == StateSkipped || s == StateFailed
}

// ProcessingError is a failure recorded by the orchestrator. ChunkID is set
// when a single chunk failed inside a file that was otherwise indexed.
type ProcessingError struct {
	Type        ErrorKind `json:"type"`
	Code        string    `json:"code,omitempty"`
	FilePath    string    `json:"file_path"`
	ChunkID     string    `json:"chunk_id,omitempty"`
	Message     string    `json:"message"`
	Stage       FileState `json:"stage"`
	Recoverable bool      `json:"recoverable"`
	Retryable   bool      `json:"retryable"`
}

func (e ProcessingError) Error() string {
	if e.ChunkID != "" {
		return fmt.Sprintf("%s (chunk %s): %s at %s: %s", e.FilePath, e.ChunkID, e.Type, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s at %s: %s", e.FilePath, e.Type, e.Stage, e.Message)
}

// NewProcessingError converts a stage error into a ProcessingError.
func NewProcessingError(path string, stage FileState, err error) ProcessingError {
	return ProcessingError{
		Type:        KindOf(err),
		Code:        CodeOf(err),
		FilePath:    path,
		Message:     err.Error(),
		Stage:       stage,
		Recoverable: IsRetryable(err),
		Retryable:   IsRetryable(err),
	}
}

// NewChunkError records the failure of one chunk of a file that still
// reached the index.
func NewChunkError(path string, stage FileState, e ItemError) ProcessingError {
	return ProcessingError{
		Type:        e.Kind,
		Code:        e.Code,
		FilePath:    path,
		ChunkID:     e.ID,
		Message:     e.Message,
		Stage:       stage,
		Recoverable: true,
		Retryable:   e.Retryable,
	}
}

// FileResult is the per-file outcome of a run.
type FileResult struct {
	FilePath         string        `json:"file_path"`
	Format           DocumentType  `json:"format"`
	State            FileState     `json:"state"`
	DetectedLanguage string        `json:"detected_language"`
	Confidence       float64       `json:"confidence"`
	Translated       bool          `json:"translated"`
	Chunks           int           `json:"chunks"`
	Indexed          int           `json:"indexed"`
	SkippedChunks    int           `json:"skipped_chunks"`
	Error            string        `json:"error,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// ProcessingResult summarises one ProcessDocuments run.
type ProcessingResult struct {
	RunID              string            `json:"run_id"`
	Success            bool              `json:"success"`
	DocumentsProcessed []string          `json:"documents_processed"`
	TotalFiles         int               `json:"total_files"`
	UnsupportedFiles   int               `json:"unsupported_files"`
	ErrorFiles         int               `json:"error_files"`
	TranslatedFiles    int               `json:"translated_files"`
	TotalChunks        int               `json:"total_chunks"`
	SkippedChunks      int               `json:"skipped_chunks"`
	Errors             []ProcessingError `json:"errors"`
	Files              []FileResult      `json:"files"`
	Duration           time.Duration     `json:"duration"`
}

// PipelineProgress is a run-level progress event.
type PipelineProgress struct {
	Stage    string
	Progress int // 0-100
	Message  string
}

// PipelineProgressFunc receives run-level progress events.
type PipelineProgressFunc func(PipelineProgress)
