// Package types provides the domain types shared by the ingestion stages.
//
// A document flows through the pipeline as a chain of immutable values:
//
//	SourceFile -> ExtractedContent -> LanguageResult (+ TranslationResult)
//	    -> []DocumentChunk -> ProcessedDocument -> index records
//
// # Chunk identity
//
// ChunkID derives a stable key from the file path, chunk index and an
// optional content hash, so re-ingesting an unchanged file overwrites the
// same index records instead of duplicating them:
//
//	id := types.ChunkID("docs/guide.pdf", 3, "")
//
// # Errors
//
// Every stage returns *Error values carrying an ErrorKind. The kind alone
// decides retryability:
//
//	if types.IsRetryable(err) {
//	    // retry with backoff
//	}
//
// Batch calls never fail as a whole for item-level problems; they return a
// BatchResult with per-item ItemError entries that keep the input index.
package types
