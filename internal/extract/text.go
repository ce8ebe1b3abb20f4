package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText returns data as UTF-8. Input that isn't valid UTF-8 is
// transcoded from the encoding charset detection settles on.
func decodeText(data []byte, contentType string) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return normalizeNewlines(string(data)), nil
	}
	enc, name, _ := charset.DetermineEncoding(data, contentType)
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("transcode from %s: %w", name, err)
	}
	if !utf8.Valid(decoded) {
		return "", fmt.Errorf("transcoded result is not valid utf-8")
	}
	return normalizeNewlines(string(decoded)), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func extractText(_ context.Context, data []byte) (*types.ExtractedContent, error) {
	text, err := decodeText(data, "text/plain")
	if err != nil {
		return nil, err
	}
	return &types.ExtractedContent{Text: strings.TrimSpace(text)}, nil
}

var (
	mdHeading = regexp.MustCompile(`(?m)^#\s+(.+?)\s*#*\s*$`)
	mdImage   = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)
)

// extractMarkdown keeps the markdown source as text. The first level-one
// heading is the title; image references are collected by alt text.
func extractMarkdown(_ context.Context, data []byte) (*types.ExtractedContent, error) {
	text, err := decodeText(data, "text/markdown")
	if err != nil {
		return nil, err
	}
	content := &types.ExtractedContent{Text: strings.TrimSpace(text)}
	if m := mdHeading.FindStringSubmatch(text); m != nil {
		content.Title = m[1]
	}
	for _, m := range mdImage.FindAllStringSubmatch(text, -1) {
		if content.Images == nil {
			content.Images = make(map[string]string)
		}
		key := m[1]
		if key == "" {
			key = m[2]
		}
		content.Images[key] = m[2]
	}
	return content, nil
}
