// Package extract turns stored document bytes into plain text, dispatched
// over the closed document type set.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"

	"ragcore/internal/registry"
)

// ErrNotImplemented marks a recognized type whose extractor does not exist
// yet. Surfacing it beats silently indexing garbage.
var ErrNotImplemented = errors.New("extractor not implemented")

// Text extracts plain text from data according to the document type.
func Text(t registry.Type, data []byte) (string, error) {
	switch t {
	case registry.TypeText:
		return fromPlain(data)
	case registry.TypeMarkdown:
		// Markdown is indexed as-is; its syntax is light enough that
		// chunking and embedding work directly on the source.
		return fromPlain(data)
	case registry.TypeHTML:
		return fromHTML(data)
	case registry.TypePDF:
		return fromPDF(data)
	case registry.TypeDOCX:
		return "", fmt.Errorf("docx: %w", ErrNotImplemented)
	default:
		return "", fmt.Errorf("%w: %q", registry.ErrUnsupportedType, t)
	}
}

func fromPlain(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content is not valid UTF-8")
	}
	return string(data), nil
}

func fromHTML(data []byte) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(data), &url.URL{})
	if err != nil {
		return "", fmt.Errorf("html extraction: %w", err)
	}
	return strings.TrimSpace(article.TextContent), nil
}

func fromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf extraction: %w", err)
	}

	var b strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() || page.V.Key("Contents").Kind() == pdf.Null {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract.
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}
