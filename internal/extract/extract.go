// Package extract pulls plain text out of source documents.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// DefaultMaxFileSize bounds the bytes read from one file.
const DefaultMaxFileSize = 100 << 20

var (
	// ErrContentMismatch is returned when a file's content contradicts its extension
	ErrContentMismatch = errors.New("file content does not match its extension")
	// ErrFileTooLarge is returned for files over the size bound
	ErrFileTooLarge = errors.New("file exceeds maximum size")
)

// Extractor extracts text from one document format.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*types.ExtractedContent, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte) (*types.ExtractedContent, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (*types.ExtractedContent, error) {
	return f(ctx, data)
}

// Registry maps document types to extractors. Only enabled formats are
// supported.
type Registry struct {
	extractors  map[types.DocumentType]Extractor
	enabled     map[types.DocumentType]bool
	maxFileSize int64
}

// New creates a Registry with the built-in extractors, enabling formats
// (extensions such as "pdf" or "md"). An empty list enables every built-in
// format.
func New(formats []string) *Registry {
	r := &Registry{
		extractors: map[types.DocumentType]Extractor{
			types.DocText:     ExtractorFunc(extractText),
			types.DocMarkdown: ExtractorFunc(extractMarkdown),
			types.DocHTML:     ExtractorFunc(extractHTML),
			types.DocPDF:      ExtractorFunc(extractPDF),
			types.DocDOCX:     ExtractorFunc(extractDOCX),
		},
		enabled:     make(map[types.DocumentType]bool),
		maxFileSize: DefaultMaxFileSize,
	}
	if len(formats) == 0 {
		for t := range r.extractors {
			r.enabled[t] = true
		}
		return r
	}
	for _, f := range formats {
		t := types.DocumentTypeOf("x." + strings.TrimPrefix(strings.ToLower(f), "."))
		if _, ok := r.extractors[t]; ok {
			r.enabled[t] = true
		}
	}
	return r
}

// Register adds or replaces the extractor for t and enables it.
func (r *Registry) Register(t types.DocumentType, e Extractor) {
	r.extractors[t] = e
	r.enabled[t] = true
}

// Supported reports whether path has an enabled format.
func (r *Registry) Supported(path string) bool {
	return r.enabled[types.DocumentTypeOf(path)]
}

// SourceFile describes path as the orchestrator sees it.
func (r *Registry) SourceFile(path string) (types.SourceFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return types.SourceFile{}, err
	}
	t := types.DocumentTypeOf(path)
	return types.SourceFile{
		Path:      path,
		Size:      info.Size(),
		Type:      t,
		Supported: r.enabled[t],
	}, nil
}

// ExtractFile reads path and extracts its text with the extractor for its
// extension. Content is sniffed first so a binary file with a text
// extension, or a text file named .pdf, fails early.
func (r *Registry) ExtractFile(ctx context.Context, path string) (*types.ExtractedContent, error) {
	t := types.DocumentTypeOf(path)
	e, ok := r.extractors[t]
	if !ok || !r.enabled[t] {
		return nil, types.WrapError(types.KindUnsupported, types.CodeBadRequest,
			fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() > r.maxFileSize {
		return nil, types.WrapError(types.KindValidation, types.CodeTextTooLong,
			fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size()))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, types.TimeoutError(err)
	}

	if err := checkContent(t, data); err != nil {
		return nil, types.WrapError(types.KindValidation, types.CodeBadRequest, fmt.Errorf("%s: %w", path, err))
	}
	content, err := e.Extract(ctx, data)
	if err != nil {
		var te *types.Error
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, types.WrapError(types.KindValidation, types.CodeBadRequest, fmt.Errorf("failed to extract %s: %w", path, err))
	}
	return content, nil
}

// checkContent compares the sniffed MIME type with the expected format.
func checkContent(t types.DocumentType, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	mt := mimetype.Detect(data)
	switch t {
	case types.DocPDF:
		if !mt.Is("application/pdf") {
			return fmt.Errorf("%w: expected pdf, found %s", ErrContentMismatch, mt.String())
		}
	case types.DocDOCX:
		if !isZip(mt) {
			return fmt.Errorf("%w: expected docx, found %s", ErrContentMismatch, mt.String())
		}
	case types.DocText, types.DocMarkdown, types.DocHTML:
		if !isText(mt) {
			return fmt.Errorf("%w: expected text, found %s", ErrContentMismatch, mt.String())
		}
	}
	return nil
}

func isZip(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}
