package pipeline

import (
	"context"
	"time"

	"github.com/floringheorghiu/multilingual-rag/internal/storage"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// Ledger writes outlive cancellation of the run context so a cancelled run
// is still recorded. Ledger failures are logged and never fail the run.

func (r *run) begin(ctx context.Context, start time.Time) {
	if r.p.stages.Ledger == nil {
		return
	}
	err := r.p.stages.Ledger.CreateRun(context.WithoutCancel(ctx), &storage.Run{
		ID:         r.id,
		Status:     storage.RunRunning,
		StartedAt:  start,
		TotalFiles: len(r.paths),
	})
	if err != nil {
		r.p.logger.Warn("run ledger disabled for this run", "run_id", r.id, "error", err)
		return
	}
	r.ledger = r.p.stages.Ledger
}

func (r *run) record(ctx context.Context, job *fileJob) {
	if r.ledger == nil {
		return
	}
	f := job.result
	err := r.ledger.AddRunFile(context.WithoutCancel(ctx), &storage.RunFile{
		RunID:      r.id,
		FilePath:   f.FilePath,
		State:      string(f.State),
		Language:   f.DetectedLanguage,
		Translated: f.Translated,
		Chunks:     f.Indexed,
		Stage:      string(job.stage),
		Error:      f.Error,
		Duration:   f.Duration,
	})
	if err != nil {
		r.p.logger.Warn("failed to record run file", "run_id", r.id, "path", f.FilePath, "error", err)
	}
}

func (r *run) finish(ctx context.Context, res *types.ProcessingResult) {
	if r.ledger == nil {
		return
	}
	status := storage.RunCompleted
	if !res.Success {
		status = storage.RunFailed
	}
	err := r.ledger.UpdateRun(context.WithoutCancel(ctx), &storage.Run{
		ID:               r.id,
		Status:           status,
		FinishedAt:       r.p.now(),
		TotalFiles:       res.TotalFiles,
		ProcessedFiles:   len(res.DocumentsProcessed),
		FailedFiles:      res.ErrorFiles,
		UnsupportedFiles: res.UnsupportedFiles,
		TranslatedFiles:  res.TranslatedFiles,
		TotalChunks:      res.TotalChunks,
		SkippedChunks:    res.SkippedChunks,
		ErrorCount:       len(res.Errors),
		Success:          res.Success,
	})
	if err != nil {
		r.p.logger.Warn("failed to finish run record", "run_id", r.id, "error", err)
	}
}
