// Package pipeline orchestrates document ingestion.
//
// Each file moves through
//
//	queued -> extracting -> detecting -> (translating) -> chunking -> embedding -> ready-to-index
//
// and ends indexed, skipped (unsupported format) or failed. Files are taken
// in batches of min(MaxConcurrentFiles, 10). Files in a batch are processed
// concurrently with errgroup and a semaphore; once all of them have settled,
// their chunks go to the index writer in one call. A file failure is
// recorded as a types.ProcessingError tagged with the stage and never stops
// its siblings.
//
// Translation runs only when it is enabled, the detected language is
// supported and differs from the target, and the detection was confident.
// ForceTranslation lifts the confidence requirement. A failed detection or
// translation is recorded as a recoverable error and the original text is
// indexed.
//
// Chunks whose embedding failed are dropped and counted in SkippedChunks.
// A file fails at embedding only when none of its chunks were embedded.
//
// Cancelling the context fails every unfinished file with a timeout error.
package pipeline
