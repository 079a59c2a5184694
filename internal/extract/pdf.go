package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

// PDF reads the text layer of a PDF in-process.
type PDF struct{}

func (PDF) Extract(ctx context.Context, data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: pdf parser: %v", ErrUnreadable, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: pdf reader: %v", ErrUnreadable, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: pdf plaintext: %v", ErrUnreadable, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("%w: pdf read: %v", ErrUnreadable, err)
	}

	text = Normalize(string(b))
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

// Runner lets tests stub external commands.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		slog.Debug("exec ok",
			"cmd", name,
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

// PDFToText runs poppler's pdftotext over the document on stdin.
type PDFToText struct {
	path   string
	runner Runner
}

// PDFToTextOption configures a PDFToText extractor.
type PDFToTextOption func(*PDFToText)

// WithRunner replaces the command runner.
func WithRunner(r Runner) PDFToTextOption {
	return func(p *PDFToText) {
		p.runner = r
	}
}

// NewPDFToText creates an extractor that invokes the binary at path.
func NewPDFToText(path string, opts ...PDFToTextOption) *PDFToText {
	p := &PDFToText{path: path, runner: execRunner{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PDFToText) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	// pdftotext -layout -enc UTF-8 -eol unix - -
	out, errb, err := p.runner.Run(ctx, data, p.path, "-layout", "-enc", "UTF-8", "-eol", "unix", "-", "-")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: pdftotext: %v: %s", ErrUnreadable, err, truncate(string(errb), 512))
	}
	text := Normalize(string(out))
	if text == "" {
		return "", ErrEmpty
	}
	return text, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
