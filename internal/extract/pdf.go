package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

// extractPDF reads the text layer page by page. Scanned pages without a
// text layer yield nothing; OCR is not attempted.
func extractPDF(ctx context.Context, data []byte) (content *types.ExtractedContent, err error) {
	// the reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			content, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, types.TimeoutError(err)
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	content = &types.ExtractedContent{Text: collapseWhitespace(sb.String())}
	if title := pdfTitle(reader); title != "" {
		content.Title = title
	}
	return content, nil
}

func pdfTitle(r *pdf.Reader) string {
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return ""
	}
	return strings.TrimSpace(info.Key("Title").Text())
}
