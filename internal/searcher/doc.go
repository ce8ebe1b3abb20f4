// Package searcher queries the local SQLite index built by the ingestion
// pipeline.
//
// Three modes are supported:
//   - Hybrid: vector similarity and BM25 fused with Reciprocal Rank Fusion (default)
//   - Vector: cosine similarity against the query embedding
//   - Keyword: BM25 over the FTS5 table
//
// Usage:
//
//	s := searcher.New(store, embeddingService)
//	resp, err := s.Search(ctx, searcher.Request{
//	    Index: "multilingual-documents",
//	    Query: "how are refunds processed",
//	    Limit: 5,
//	})
//
// Translated chunks are stored in the target language, so a query in that
// language matches documents originally written in any language. Filters
// narrow results by indexed language or by a glob over file paths.
//
// Responses can be cached in an LRU keyed by the request; call
// InvalidateCache after re-indexing.
package searcher
