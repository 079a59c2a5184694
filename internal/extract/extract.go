// Package extract turns uploaded documents into plain text.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmpty means the document had no bytes or yielded no text.
	ErrEmpty = errors.New("document is empty")
	// ErrUnsupportedFormat means no extractor handles the document type.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrUnreadable means the document looked valid but could not be read.
	ErrUnreadable = errors.New("document is unreadable")
)

// Extractor converts a document to plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, data []byte) (string, error)

func (f Func) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}

// PlainText accepts UTF-8 text documents as-is.
type PlainText struct{}

func (PlainText) Extract(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("%w: not UTF-8 text", ErrUnreadable)
	}
	text := Normalize(string(data))
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// Chain tries each extractor in order and returns the first non-empty text.
// When all fail the last error is returned.
type Chain []Extractor

func (c Chain) Extract(ctx context.Context, data []byte) (string, error) {
	if len(c) == 0 {
		return "", ErrUnsupportedFormat
	}
	var lastErr error
	for _, e := range c {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := e.Extract(ctx, data)
		if err == nil && text != "" {
			return text, nil
		}
		if err == nil {
			err = ErrEmpty
		}
		lastErr = err
	}
	return "", lastErr
}

// Detecting sniffs the content type and dispatches to the matching extractor.
type Detecting struct {
	PDF  Extractor
	Text Extractor
}

// NewDetecting returns a Detecting extractor that reads PDFs in-process and
// falls back to the pdftotext binary at path when that fails. An empty path
// disables the fallback.
func NewDetecting(pdftotextPath string) *Detecting {
	pdfChain := Chain{PDF{}}
	if pdftotextPath != "" {
		pdfChain = append(pdfChain, NewPDFToText(pdftotextPath))
	}
	return &Detecting{PDF: pdfChain, Text: PlainText{}}
}

func (d *Detecting) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}

	switch kind := sniff(data); kind {
	case "application/pdf":
		if d.PDF == nil {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind)
		}
		return d.PDF.Extract(ctx, data)
	case "text/plain":
		if d.Text == nil {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind)
		}
		return d.Text.Extract(ctx, data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, kind)
	}
}

func sniff(data []byte) string {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return "application/pdf"
	}
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	manyBlank     = regexp.MustCompile(`\n{3,}`)
)

// Clean replaces invalid UTF-8 and drops NUL bytes, which PostgreSQL TEXT
// columns reject.
func Clean(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}

// Normalize unifies line endings, drops page-break form feeds and trailing
// blanks, and squeezes runs of empty lines. Line structure is kept because
// question numbering depends on it. The result is Clean.
func Normalize(s string) string {
	s = Clean(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = manyBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
