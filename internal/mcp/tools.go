package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/floringheorghiu/multilingual-rag/internal/detector"
	"github.com/floringheorghiu/multilingual-rag/internal/pipeline"
	"github.com/floringheorghiu/multilingual-rag/internal/searcher"
	"github.com/floringheorghiu/multilingual-rag/internal/storage"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams       = -32602 // Invalid method parameters
	ErrorCodeInternalError       = -32603 // Internal JSON-RPC error
	ErrorCodePathNotFound        = -32001 // Path does not exist or is not readable
	ErrorCodeIngestionInProgress = -32002 // Another ingestion run is already running
	ErrorCodeIndexUnavailable    = -32003 // Index missing or unreachable
	ErrorCodeEmptyQuery          = -32004 // Query parameter is empty
	ErrorCodeNoDocuments         = -32005 // No supported files found
)

const maxReportedErrors = 5

// handleIngestDocuments handles the ingest_documents tool invocation
func (s *Server) handleIngestDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	paths := getStringSlice(args, "paths")
	dir := getStringDefault(args, "directory", "")
	if len(paths) == 0 && dir == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "paths or directory is required", map[string]interface{}{
			"param":  "paths",
			"reason": "missing or empty",
		})
	}

	for _, p := range paths {
		if err := validatePath(p, false); err != nil {
			return nil, pathError("paths", p, err)
		}
	}
	if dir != "" {
		if err := validatePath(dir, true); err != nil {
			return nil, pathError("directory", dir, err)
		}
		found, err := pipeline.Discover(dir, s.deps.Supported)
		if err != nil {
			return nil, newMCPError(ErrorCodePathNotFound, "failed to scan directory", map[string]interface{}{
				"error": err.Error(),
			})
		}
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, newMCPError(ErrorCodeNoDocuments, "no supported files found", map[string]interface{}{
			"directory": dir,
		})
	}

	if s.deps.Pipeline.Running() {
		return nil, newMCPError(ErrorCodeIngestionInProgress, "ingestion already in progress", nil)
	}

	result, err := s.deps.Pipeline.ProcessDocuments(ctx, paths, nil)
	if errors.Is(err, types.ErrRunInProgress) {
		return nil, newMCPError(ErrorCodeIngestionInProgress, "ingestion already in progress", nil)
	}
	if err != nil && result == nil {
		return nil, newMCPError(ErrorCodeInternalError, "ingestion failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if s.deps.Searcher != nil {
		s.deps.Searcher.InvalidateCache()
	}

	response := map[string]interface{}{
		"run_id":           result.RunID,
		"success":          result.Success,
		"total_files":      result.TotalFiles,
		"processed_files":  len(result.DocumentsProcessed),
		"unsupported":      result.UnsupportedFiles,
		"error_files":      result.ErrorFiles,
		"translated_files": result.TranslatedFiles,
		"total_chunks":     result.TotalChunks,
		"skipped_chunks":   result.SkippedChunks,
		"duration_ms":      result.Duration.Milliseconds(),
	}
	if err != nil {
		response["cancelled"] = true
		response["reason"] = err.Error()
	}
	if n := len(result.Errors); n > 0 {
		response["errors"] = result.Errors[:min(n, maxReportedErrors)]
		if n > maxReportedErrors {
			response["error_count"] = n
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexHealth handles the index_health tool invocation
func (s *Server) handleIndexHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report := s.deps.Writer.CheckHealth(ctx)

	response := map[string]interface{}{
		"status":         string(report.Status),
		"index":          report.IndexName,
		"backend":        s.deps.Writer.Backend(),
		"exists":         report.Exists,
		"document_count": report.DocumentCount,
		"checked_at":     report.CheckedAt.Format(time.RFC3339),
	}
	if len(report.MissingFields) > 0 {
		response["missing_fields"] = report.MissingFields
	}
	if len(report.Issues) > 0 {
		response["issues"] = report.Issues
	}
	if len(report.Warnings) > 0 {
		response["warnings"] = report.Warnings
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearIndex handles the clear_index tool invocation
func (s *Server) handleClearIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	if !getBoolDefault(args, "confirm", false) {
		return nil, newMCPError(ErrorCodeInvalidParams, "confirm must be true to clear the index", map[string]interface{}{
			"param": "confirm",
		})
	}
	if s.deps.Pipeline.Running() {
		return nil, newMCPError(ErrorCodeIngestionInProgress, "cannot clear the index during ingestion", nil)
	}

	if _, err := s.deps.Writer.ClearIndex(ctx); err != nil {
		return nil, newMCPError(ErrorCodeIndexUnavailable, "failed to clear index", map[string]interface{}{
			"index": s.deps.Writer.IndexName(),
			"error": err.Error(),
		})
	}
	if s.deps.Searcher != nil {
		s.deps.Searcher.InvalidateCache()
	}

	response := map[string]interface{}{
		"cleared": true,
		"index":   s.deps.Writer.IndexName(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeleteDocuments handles the delete_documents tool invocation
func (s *Server) handleDeleteDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	ids := getStringSlice(args, "ids")
	if len(ids) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "ids parameter is required", map[string]interface{}{
			"param":  "ids",
			"reason": "missing or empty",
		})
	}

	res := s.deps.Writer.DeleteDocuments(ctx, ids)
	if s.deps.Searcher != nil && res.Processed > 0 {
		s.deps.Searcher.InvalidateCache()
	}

	response := map[string]interface{}{
		"deleted": res.Processed,
		"failed":  res.Failed,
	}
	if len(res.Errors) > 0 {
		failures := make([]map[string]interface{}, 0, len(res.Errors))
		for _, e := range res.Errors {
			failures = append(failures, map[string]interface{}{
				"id":      e.ID,
				"code":    e.Code,
				"message": e.Message,
			})
		}
		response["errors"] = failures
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDetectLanguage handles the detect_language tool invocation
func (s *Server) handleDetectLanguage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	text := getStringDefault(args, "text", "")
	if text == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "text parameter is required", map[string]interface{}{
			"param":  "text",
			"reason": "missing or empty",
		})
	}

	lr, err := s.deps.Detector.Detect(ctx, text)
	lowConfidence := detector.IsLowConfidence(err)
	if err != nil && !lowConfidence {
		return nil, newMCPError(ErrorCodeInternalError, "language detection failed", map[string]interface{}{
			"error": err.Error(),
			"code":  types.CodeOf(err),
		})
	}

	response := map[string]interface{}{
		"language":       lr.Language,
		"confidence":     lr.Confidence,
		"supported":      lr.Supported,
		"low_confidence": lowConfidence,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListRuns handles the list_runs tool invocation
func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	if runID := getStringDefault(args, "run_id", ""); runID != "" {
		files, err := s.deps.Ledger.ListRunFiles(ctx, runID)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to list run files", map[string]interface{}{
				"error": err.Error(),
			})
		}
		rows := make([]map[string]interface{}, 0, len(files))
		for _, f := range files {
			row := map[string]interface{}{
				"file_path":   f.FilePath,
				"state":       f.State,
				"language":    f.Language,
				"translated":  f.Translated,
				"chunks":      f.Chunks,
				"duration_ms": f.Duration.Milliseconds(),
			}
			if f.Error != "" {
				row["stage"] = f.Stage
				row["error"] = f.Error
			}
			rows = append(rows, row)
		}
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{"run_id": runID, "files": rows})), nil
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	runs, err := s.deps.Ledger.ListRuns(ctx, limit)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list runs", map[string]interface{}{
			"error": err.Error(),
		})
	}
	rows := make([]map[string]interface{}, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, runSummary(r))
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"runs": rows})), nil
}

func runSummary(r *storage.Run) map[string]interface{} {
	row := map[string]interface{}{
		"id":                r.ID,
		"status":            r.Status,
		"success":           r.Success,
		"started_at":        r.StartedAt.Format(time.RFC3339),
		"total_files":       r.TotalFiles,
		"processed_files":   r.ProcessedFiles,
		"failed_files":      r.FailedFiles,
		"unsupported_files": r.UnsupportedFiles,
		"translated_files":  r.TranslatedFiles,
		"total_chunks":      r.TotalChunks,
		"skipped_chunks":    r.SkippedChunks,
		"error_count":       r.ErrorCount,
	}
	if !r.FinishedAt.IsZero() {
		row["finished_at"] = r.FinishedAt.Format(time.RFC3339)
	}
	return row
}

// handleSearchIndex handles the search_index tool invocation
func (s *Server) handleSearchIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	searchMode := getStringDefault(args, "search_mode", string(searcher.ModeHybrid))
	switch searcher.Mode(searchMode) {
	case searcher.ModeHybrid, searcher.ModeVector, searcher.ModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   searchMode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	var filters *storage.SearchFilters
	if raw, ok := args["filters"].(map[string]interface{}); ok {
		filters = &storage.SearchFilters{
			Language:     getStringDefault(raw, "language", ""),
			FilePattern:  getStringDefault(raw, "file_pattern", ""),
			MinRelevance: getFloatDefault(raw, "min_relevance", 0),
		}
	}

	resp, err := s.deps.Searcher.Search(ctx, searcher.Request{
		Index:    s.deps.Writer.IndexName(),
		Query:    query,
		Limit:    limit,
		Mode:     searcher.Mode(searchMode),
		Filters:  filters,
		UseCache: true,
	})
	if errors.Is(err, searcher.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"results":     resp.Results,
		"count":       len(resp.Results),
		"search_mode": string(resp.Mode),
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func pathError(param, path string, err error) error {
	code := ErrorCodeInvalidParams
	if errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrPathNotReadable) {
		code = ErrorCodePathNotFound
	}
	return newMCPError(code, "invalid path", map[string]interface{}{
		"param":  param,
		"path":   path,
		"reason": err.Error(),
	})
}

// validatePath checks that path is absolute, exists and is a directory or a
// regular file as requested.
func validatePath(path string, wantDir bool) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	switch {
	case wantDir && !info.IsDir():
		return ErrNotDirectory
	case !wantDir && info.IsDir():
		return ErrIsDirectory
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array, dropping non-string and empty
// entries.
func getStringSlice(args map[string]interface{}, key string) []string {
	var out []string
	switch raw := args[key].(type) {
	case []interface{}:
		for _, v := range raw {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range raw {
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
	ErrIsDirectory     = errors.New("path is a directory, use the directory parameter")
)
