// Package index writes processed chunks into a search index.
//
// A Writer sits in front of a Backend. Two backends are provided: the Azure
// AI Search REST API and a local SQLite index from internal/storage.
//
//	backend, err := index.NewAzureBackend(index.AzureConfig{
//	    Endpoint: "https://my-search.search.windows.net",
//	    AdminKey: key,
//	})
//	w := index.NewWriter(backend, index.Config{IndexName: "docs", Dimension: 1536})
//	if _, err := w.EnsureIndex(ctx, nil); err != nil {
//	    return err
//	}
//	res := w.IndexChunks(ctx, chunks, "", 0, nil)
//
// Documents are uploaded with the mergeOrUpload action keyed by chunk id,
// so indexing the same file twice leaves one document per chunk.
//
// Chunks with empty or oversized content, or with an embedding of the wrong
// dimension, are skipped before upload. The backend's per-document statuses
// become item errors; 429 and 5xx are marked retryable.
package index
