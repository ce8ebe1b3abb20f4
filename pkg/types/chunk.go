package types

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DocumentType is the format of a source document, derived from its extension.
type DocumentType string

const (
	DocPDF      DocumentType = "pdf"
	DocDOCX     DocumentType = "docx"
	DocText     DocumentType = "txt"
	DocMarkdown DocumentType = "md"
	DocHTML     DocumentType = "html"
	DocUnknown  DocumentType = "unknown"
)

var extensionTypes = map[string]DocumentType{
	"pdf":      DocPDF,
	"docx":     DocDOCX,
	"txt":      DocText,
	"text":     DocText,
	"md":       DocMarkdown,
	"markdown": DocMarkdown,
	"html":     DocHTML,
	"htm":      DocHTML,
}

// DocumentTypeOf maps a file path to its document type.
func DocumentTypeOf(path string) DocumentType {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return DocUnknown
}

// DocumentChunk is a bounded slice of a document, the unit of embedding and indexing.
type DocumentChunk struct {
	ID        string
	Content   string
	Embedding []float32 // nil until embedded
	Metadata  ChunkMetadata
}

// ChunkMetadata carries provenance for a chunk.
type ChunkMetadata struct {
	FilePath         string
	FileName         string
	ChunkIndex       int
	TotalChunks      int
	OriginalLanguage string
	TargetLanguage   string // run target; the text is in it only when Translated
	Translated       bool
	DocumentType     DocumentType
	TokenCount       int
	ByteSize         int
	OverlapBytes     int // length of the prefix copied from the previous chunk
	UploadedAt       time.Time
	ProcessedAt      time.Time
	ContentHash      string
	Title            string
	URL              string
	ImageMapping     map[string]string
}

// Body returns the chunk content without the overlap copied from its predecessor.
func (c *DocumentChunk) Body() string {
	if c.Metadata.OverlapBytes <= 0 || c.Metadata.OverlapBytes > len(c.Content) {
		return c.Content
	}
	return strings.TrimLeft(c.Content[c.Metadata.OverlapBytes:], " ")
}

// Validate checks the structural invariants of a chunk.
func (c *DocumentChunk) Validate() error {
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}
	if c.Metadata.FilePath == "" {
		return ErrMissingFilePath
	}
	if c.Metadata.ChunkIndex < 0 || c.Metadata.ChunkIndex >= c.Metadata.TotalChunks {
		return ErrInvalidChunkIndex
	}
	return nil
}

// ChunkID derives the stable identity of a chunk. The same path, index and
// hash always produce the same id; the result is a valid search index key.
func ChunkID(path string, index int, contentHash string) string {
	key := path + "::" + strconv.Itoa(index)
	if contentHash != "" {
		key += "::" + contentHash
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}

// HashContent returns the hex SHA-256 of text.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
