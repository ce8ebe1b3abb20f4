package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/floringheorghiu/multilingual-rag/internal/searcher"
	"github.com/floringheorghiu/multilingual-rag/internal/storage"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "multilingual-rag"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Ingester runs ingestion over a set of files.
type Ingester interface {
	ProcessDocuments(ctx context.Context, paths []string, onProgress types.PipelineProgressFunc) (*types.ProcessingResult, error)
	Running() bool
}

// IndexManager maintains the search index.
type IndexManager interface {
	IndexName() string
	Backend() string
	CheckHealth(ctx context.Context) types.HealthReport
	ClearIndex(ctx context.Context) (bool, error)
	DeleteDocuments(ctx context.Context, ids []string) *types.BatchResult[string]
}

// LanguageDetector identifies the language of a text.
type LanguageDetector interface {
	Detect(ctx context.Context, text string) (types.LanguageResult, error)
}

// RunLedger lists past ingestion runs.
type RunLedger interface {
	ListRuns(ctx context.Context, limit int) ([]*storage.Run, error)
	ListRunFiles(ctx context.Context, runID string) ([]*storage.RunFile, error)
}

// Querier searches the local index.
type Querier interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
	InvalidateCache()
}

// Deps are the components exposed as tools. Ledger and Searcher are
// optional; their tools are not registered when nil.
type Deps struct {
	Pipeline  Ingester
	Writer    IndexManager
	Detector  LanguageDetector
	Ledger    RunLedger
	Searcher  Querier
	Supported func(path string) bool
	Logger    *slog.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	deps   Deps
	logger *slog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Writer == nil || deps.Detector == nil {
		return nil, errors.New("pipeline, writer and detector are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		deps:   deps,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(ingestDocumentsTool(), s.handleIngestDocuments)
	s.mcp.AddTool(indexHealthTool(), s.handleIndexHealth)
	s.mcp.AddTool(clearIndexTool(), s.handleClearIndex)
	s.mcp.AddTool(deleteDocumentsTool(), s.handleDeleteDocuments)
	s.mcp.AddTool(detectLanguageTool(), s.handleDetectLanguage)

	if s.deps.Ledger != nil {
		s.mcp.AddTool(listRunsTool(), s.handleListRuns)
	}
	if s.deps.Searcher != nil {
		s.mcp.AddTool(searchIndexTool(), s.handleSearchIndex)
	}
}
