package chunker

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/floringheorghiu/multilingual-rag/internal/tokens"
	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	// DefaultChunkSize is the target maximum token count per chunk
	DefaultChunkSize = 1000

	// DefaultOverlap is the number of tokens repeated from the previous chunk
	DefaultOverlap = 100

	// DefaultMinChunkChars is the size below which a trailing chunk is merged
	DefaultMinChunkChars = 50

	minBodyTokens = 8
)

// ErrInvalidConfig is returned for chunk sizes that cannot hold any text.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Config configures a Chunker. Sizes are in tokens.
type Config struct {
	ChunkSize     int
	Overlap       int
	MinChunkChars int
	HashInID      bool // include the document hash in chunk ids
}

// FileIdentity is the provenance attached to every chunk of a document.
type FileIdentity struct {
	Path             string
	Title            string
	URL              string
	OriginalLanguage string
	TargetLanguage   string
	Translated       bool
	UploadedAt       time.Time
	ImageMapping     map[string]string
}

// Chunker splits document text into bounded, overlapping chunks
type Chunker struct {
	cfg     Config
	counter tokens.Counter
	now     func() time.Time
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithCounter sets the token counter.
func WithCounter(c tokens.Counter) Option {
	return func(ch *Chunker) { ch.counter = c }
}

// WithClock sets the clock used for processing timestamps.
func WithClock(now func() time.Time) Option {
	return func(ch *Chunker) { ch.now = now }
}

// New creates a new Chunker instance
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MinChunkChars == 0 {
		cfg.MinChunkChars = DefaultMinChunkChars
	}
	if cfg.Overlap < 0 || cfg.ChunkSize-cfg.Overlap < minBodyTokens {
		return nil, fmt.Errorf("%w: chunk size %d with overlap %d", ErrInvalidConfig, cfg.ChunkSize, cfg.Overlap)
	}
	c := &Chunker{
		cfg:     cfg,
		counter: tokens.Estimate{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits text into chunks of at most ChunkSize tokens. Sentences are
// kept whole when they fit; longer sentences are split on words and words on
// runes. Indices and totals are assigned once the split is complete.
func (c *Chunker) Chunk(text string, file FileIdentity) ([]types.DocumentChunk, error) {
	if file.Path == "" {
		return nil, types.ErrMissingFilePath
	}
	text = norm.NFC.String(text)
	if strings.TrimSpace(text) == "" {
		return nil, types.NewError(types.KindValidation, types.CodeEmptyText, types.ErrEmptyContent.Error())
	}

	budget := c.cfg.ChunkSize - c.cfg.Overlap
	bodies := c.pack(c.units(text, budget), budget)
	bodies = c.mergeTrailing(bodies, budget)

	docHash := ""
	if c.cfg.HashInID {
		docHash = types.HashContent(text)
	}
	processedAt := c.now()
	uploadedAt := file.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = processedAt
	}

	chunks := make([]types.DocumentChunk, len(bodies))
	for i, body := range bodies {
		overlap := ""
		if i > 0 {
			overlap = c.overlapTail(bodies[i-1])
		}
		content, overlapBytes := c.withOverlap(overlap, body)

		chunks[i] = types.DocumentChunk{
			ID:      types.ChunkID(file.Path, i, docHash),
			Content: content,
			Metadata: types.ChunkMetadata{
				FilePath:         file.Path,
				FileName:         filepath.Base(file.Path),
				ChunkIndex:       i,
				TotalChunks:      len(bodies),
				OriginalLanguage: file.OriginalLanguage,
				TargetLanguage:   file.TargetLanguage,
				Translated:       file.Translated,
				DocumentType:     types.DocumentTypeOf(file.Path),
				TokenCount:       c.counter.Count(content),
				ByteSize:         len(content),
				OverlapBytes:     overlapBytes,
				UploadedAt:       uploadedAt,
				ProcessedAt:      processedAt,
				ContentHash:      types.HashContent(content),
				Title:            file.Title,
				URL:              file.URL,
				ImageMapping:     file.ImageMapping,
			},
		}
	}
	return chunks, nil
}

// units splits text into sentence-level pieces that each fit the budget.
// Concatenating the units yields text unchanged.
func (c *Chunker) units(text string, budget int) []string {
	var out []string
	for _, sentence := range splitSentences(text) {
		if c.counter.Count(sentence) <= budget {
			out = append(out, sentence)
			continue
		}
		for _, word := range splitWords(sentence) {
			if c.counter.Count(word) <= budget {
				out = append(out, word)
				continue
			}
			out = append(out, c.bisect(word, budget)...)
		}
	}
	return out
}

// bisect halves s on rune boundaries until every piece fits, then greedily
// re-joins neighbours.
func (c *Chunker) bisect(s string, budget int) []string {
	var split func(string) []string
	split = func(s string) []string {
		n := utf8.RuneCountInString(s)
		if n <= 1 || c.counter.Count(s) <= budget {
			return []string{s}
		}
		mid := 0
		for i := range s {
			if mid == n/2 {
				return append(split(s[:i]), split(s[i:])...)
			}
			mid++
		}
		return []string{s}
	}
	return c.packRaw(split(s), budget)
}

// pack concatenates consecutive units while the result fits the budget and
// trims the resulting chunk bodies.
func (c *Chunker) pack(units []string, budget int) []string {
	var out []string
	for _, b := range c.packRaw(units, budget) {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (c *Chunker) packRaw(units []string, budget int) []string {
	var out []string
	var cur strings.Builder
	for _, u := range units {
		if cur.Len() > 0 && c.counter.Count(cur.String()+u) > budget {
			out = append(out, cur.String())
			cur.Reset()
		}
		cur.WriteString(u)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// mergeTrailing folds a short final chunk into its predecessor when the
// result still fits.
func (c *Chunker) mergeTrailing(bodies []string, budget int) []string {
	n := len(bodies)
	if n < 2 || len(bodies[n-1]) >= c.cfg.MinChunkChars {
		return bodies
	}
	merged := bodies[n-2] + " " + bodies[n-1]
	if c.counter.Count(merged) > budget {
		return bodies
	}
	return append(bodies[:n-2], merged)
}

// overlapTail returns the longest run of trailing words of prev that fits
// the overlap budget.
func (c *Chunker) overlapTail(prev string) string {
	if c.cfg.Overlap <= 0 {
		return ""
	}
	words := strings.Fields(prev)
	start := len(words)
	for start > 0 && c.counter.Count(strings.Join(words[start-1:], " ")) <= c.cfg.Overlap {
		start--
	}
	return strings.Join(words[start:], " ")
}

// withOverlap prefixes body with the overlap, shortening the overlap until
// the chunk fits ChunkSize.
func (c *Chunker) withOverlap(overlap, body string) (string, int) {
	for overlap != "" {
		content := overlap + " " + body
		if c.counter.Count(content) <= c.cfg.ChunkSize {
			return content, len(overlap)
		}
		if i := strings.IndexByte(overlap, ' '); i >= 0 {
			overlap = overlap[i+1:]
		} else {
			overlap = ""
		}
	}
	return body, 0
}

// splitSentences cuts after sentence terminators followed by whitespace and
// after blank lines. Each piece keeps its trailing whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	pos := 0 // byte offset of runes[i]
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		pos += utf8.RuneLen(r)
		boundary := (isTerminator(r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1]))) ||
			(r == '\n' && i+1 < len(runes) && runes[i+1] == '\n')
		if !boundary {
			continue
		}
		// absorb following whitespace
		for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			i++
			pos += utf8.RuneLen(runes[i])
		}
		out = append(out, text[start:pos])
		start = pos
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？', '؟', '।':
		return true
	}
	return false
}

// splitWords cuts s after each whitespace run; pieces keep their trailing
// whitespace.
func splitWords(s string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			out = append(out, s[start:i])
			start = i
			inSpace = false
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// ComputeChunkHash returns the SHA-256 hash of content, hex encoded
func ComputeChunkHash(content string) string {
	return types.HashContent(content)
}

// EstimateTokenCount estimates tokens as chars / 4
func EstimateTokenCount(text string) int {
	return tokens.Estimate{}.Count(text)
}
