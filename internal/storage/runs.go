package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateRun records a new run. StartedAt defaults to now and Status to running.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at, total_files) VALUES (?, ?, ?, ?)`,
		run.ID, run.Status, run.StartedAt, run.TotalFiles)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun stores the counters and status of run
func (s *SQLiteStorage) UpdateRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs SET
			status = ?, finished_at = ?, total_files = ?, processed_files = ?,
			failed_files = ?, unsupported_files = ?, translated_files = ?,
			total_chunks = ?, skipped_chunks = ?, error_count = ?, success = ?
		WHERE id = ?
	`
	var finished interface{}
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt
	}
	res, err := s.db.ExecContext(ctx, query,
		run.Status, finished, run.TotalFiles, run.ProcessedFiles,
		run.FailedFiles, run.UnsupportedFiles, run.TranslatedFiles,
		run.TotalChunks, run.SkippedChunks, run.ErrorCount, run.Success,
		run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, status, started_at, finished_at, total_files, processed_files,
	failed_files, unsupported_files, translated_files, total_chunks, skipped_chunks,
	error_count, success`

func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]*Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Status, &run.StartedAt, &finished,
		&run.TotalFiles, &run.ProcessedFiles, &run.FailedFiles, &run.UnsupportedFiles,
		&run.TranslatedFiles, &run.TotalChunks, &run.SkippedChunks, &run.ErrorCount, &run.Success)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// AddRunFile appends a file outcome to a run
func (s *SQLiteStorage) AddRunFile(ctx context.Context, file *RunFile) error {
	query := `
		INSERT INTO run_files (run_id, file_path, state, language, translated, chunks, stage, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	err := s.db.QueryRowContext(ctx, query,
		file.RunID, file.FilePath, file.State, file.Language, file.Translated, file.Chunks,
		file.Stage, file.Error, file.Duration.Milliseconds(), file.CreatedAt,
	).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to record run file: %w", err)
	}
	return nil
}

// ListRunFiles returns the file outcomes of a run in insertion order
func (s *SQLiteStorage) ListRunFiles(ctx context.Context, runID string) ([]*RunFile, error) {
	query := `
		SELECT id, run_id, file_path, state, language, translated, chunks, stage, error, duration_ms, created_at
		FROM run_files
		WHERE run_id = ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]*RunFile, 0)
	for rows.Next() {
		var f RunFile
		var lang, stage, errMsg sql.NullString
		var ms int64
		if err := rows.Scan(&f.ID, &f.RunID, &f.FilePath, &f.State, &lang, &f.Translated,
			&f.Chunks, &stage, &errMsg, &ms, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.Language = lang.String
		f.Stage = stage.String
		f.Error = errMsg.String
		f.Duration = time.Duration(ms) * time.Millisecond
		files = append(files, &f)
	}
	return files, rows.Err()
}

// isUniqueViolation reports a primary key or unique constraint failure.
// Both drivers word it the same way.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
