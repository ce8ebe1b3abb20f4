package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ingestDocumentsTool returns the tool definition for ingest_documents
func ingestDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_documents",
		Description: "Extract, translate, chunk, embed and index documents (pdf, docx, txt, md, html)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"paths": map[string]interface{}{
					"type":        "array",
					"description": "Absolute paths of files to ingest",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"directory": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of a directory to ingest recursively (supported formats only)",
				},
			},
		},
	}
}

// indexHealthTool returns the tool definition for index_health
func indexHealthTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_health",
		Description: "Check that the search index exists, has the required fields and holds documents",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// clearIndexTool returns the tool definition for clear_index
func clearIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_index",
		Description: "Delete every document from the search index. The index itself is kept.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"confirm": map[string]interface{}{
					"type":        "boolean",
					"description": "Must be true",
				},
			},
			Required: []string{"confirm"},
		},
	}
}

// deleteDocumentsTool returns the tool definition for delete_documents
func deleteDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_documents",
		Description: "Delete chunks from the search index by id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ids": map[string]interface{}{
					"type":        "array",
					"description": "Chunk ids to delete",
					"items": map[string]interface{}{
						"type": "string",
					},
					"minItems": 1,
				},
			},
			Required: []string{"ids"},
		},
	}
}

// detectLanguageTool returns the tool definition for detect_language
func detectLanguageTool() mcp.Tool {
	return mcp.Tool{
		Name:        "detect_language",
		Description: "Detect the language of a text sample",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to classify",
				},
			},
			Required: []string{"text"},
		},
	}
}

// listRunsTool returns the tool definition for list_runs
func listRunsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_runs",
		Description: "List recent ingestion runs, or the files of one run",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of runs to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "If set, list the per-file outcomes of this run",
				},
			},
		},
	}
}

// searchIndexTool returns the tool definition for search_index
func searchIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_index",
		Description: "Search the local index with natural language or keyword queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional filters to narrow search",
					"properties": map[string]interface{}{
						"language": map[string]interface{}{
							"type":        "string",
							"description": "Indexed language code (e.g., 'en')",
						},
						"file_pattern": map[string]interface{}{
							"type":        "string",
							"description": "Glob pattern for file paths (e.g., 'docs/*')",
						},
						"min_relevance": map[string]interface{}{
							"type":        "number",
							"description": "Minimum relevance score threshold (0.0-1.0)",
							"minimum":     0.0,
							"maximum":     1.0,
						},
					},
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (BM25 only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
			},
			Required: []string{"query"},
		},
	}
}
