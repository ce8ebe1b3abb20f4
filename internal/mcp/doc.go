// Package mcp implements the Model Context Protocol (MCP) server for the
// ingestion pipeline.
//
// The server exposes these tools to MCP clients:
//   - ingest_documents: Run the pipeline over files or a directory
//   - index_health: Check the search index
//   - clear_index: Delete every document from the index
//   - delete_documents: Delete chunks by id
//   - detect_language: Detect the language of a text sample
//   - list_runs: Browse the ingestion run ledger (local storage only)
//   - search_index: Query the local index (local backend only)
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr or the configured log file; stdout carries protocol
// messages only.
//
// # Basic Usage
//
//	ragingest serve
//
// # Tool: ingest_documents
//
//	Request:
//	{
//	  "name": "ingest_documents",
//	  "arguments": {
//	    "directory": "/srv/docs/handbook"
//	  }
//	}
//
//	Response:
//	{
//	  "run_id": "6f1c...",
//	  "success": true,
//	  "total_files": 12,
//	  "processed_files": 11,
//	  "unsupported": 1,
//	  "translated_files": 4,
//	  "total_chunks": 87,
//	  "skipped_chunks": 0,
//	  "duration_ms": 5321
//	}
//
// Recoverable problems (a failed translation indexed in the original
// language, a low-confidence detection) appear under "errors" without
// failing the file.
//
// # Tool: search_index
//
//	Request:
//	{
//	  "name": "search_index",
//	  "arguments": {
//	    "query": "refund policy",
//	    "limit": 5,
//	    "filters": {"file_pattern": "policies/*"}
//	  }
//	}
//
// Results carry the chunk content with its indexed and original language.
//
// # Error Handling
//
// Tool errors are returned as MCPError values with JSON-RPC codes:
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  path not found
//	-32002  ingestion already in progress
//	-32003  index unavailable
//	-32004  empty query
//	-32005  no supported files found
package mcp
