// Package chunker divides document text into bounded, overlapping chunks for
// embedding and indexing.
//
// # Basic Usage
//
//	c, err := chunker.New(chunker.Config{ChunkSize: 1000, Overlap: 100})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chunks, err := c.Chunk(text, chunker.FileIdentity{Path: "docs/guide.pdf"})
//
// # Chunking Strategy
//
// Text is cut at sentence ends and blank lines. A sentence that does not fit
// is cut between words, and a word that does not fit is cut between runes,
// so no chunk exceeds ChunkSize tokens whatever the input looks like.
//
// Chunk bodies are packed to ChunkSize - Overlap tokens. Each chunk after the
// first is then prefixed with the trailing words of the previous body, and
// Metadata.OverlapBytes records the prefix length so DocumentChunk.Body can
// recover the non-overlapping text.
//
// # Identity
//
// Chunk ids come from types.ChunkID(path, index, hash). With HashInID unset
// the hash is empty and re-ingesting a file overwrites the same index keys.
//
// # Token Counting
//
// The default counter estimates tokens as bytes / 4. Pass
// WithCounter(tokens.ForModel(model)) to count with the model's tokenizer.
package chunker
