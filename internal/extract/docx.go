package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	dcNS   = "http://purl.org/dc/elements/1.1/"

	documentPart = "word/document.xml"
	corePart     = "docProps/core.xml"
)

var errNoDocumentPart = errors.New("docx archive has no " + documentPart)

// extractDOCX reads word/document.xml from the archive. Paragraphs become
// lines; the title comes from docProps/core.xml when present.
func extractDOCX(ctx context.Context, data []byte) (*types.ExtractedContent, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	var body, core *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case documentPart:
			body = f
		case corePart:
			core = f
		}
	}
	if body == nil {
		return nil, errNoDocumentPart
	}

	text, err := readPart(body, func(r io.Reader) (string, error) { return documentText(ctx, r) })
	if err != nil {
		return nil, err
	}
	content := &types.ExtractedContent{Text: collapseWhitespace(text)}
	if core != nil {
		// core properties are optional and a broken part doesn't lose the body
		if title, err := readPart(core, coreTitle); err == nil {
			content.Title = title
		}
	}
	return content, nil
}

func readPart(f *zip.File, read func(io.Reader) (string, error)) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return read(rc)
}

func documentText(ctx context.Context, r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false
	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return "", types.TimeoutError(err)
			}
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", documentPart, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteString("\t")
			case "br", "cr":
				sb.WriteString("\n")
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

func coreTitle(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != dcNS || start.Name.Local != "title" {
			continue
		}
		var title string
		if err := dec.DecodeElement(&title, &start); err != nil {
			return "", err
		}
		return strings.TrimSpace(title), nil
	}
}
