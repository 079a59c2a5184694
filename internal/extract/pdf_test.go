package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRunner struct {
	stdout, stderr []byte
	err            error

	gotStdin []byte
	gotName  string
	gotArgs  []string
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.gotStdin = stdin
	f.gotName = name
	f.gotArgs = args
	return f.stdout, f.stderr, f.err
}

func TestPDFToText_Extract(t *testing.T) {
	r := &fakeRunner{stdout: []byte("Question 1\f\fQuestion 2   \n")}
	p := NewPDFToText("/usr/bin/pdftotext", WithRunner(r))

	got, err := p.Extract(context.Background(), []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "Question 1\n\nQuestion 2" {
		t.Errorf("Extract() = %q", got)
	}
	if r.gotName != "/usr/bin/pdftotext" {
		t.Errorf("ran %q, want /usr/bin/pdftotext", r.gotName)
	}
	if string(r.gotStdin) != "%PDF-1.4" {
		t.Errorf("stdin = %q, want document bytes", r.gotStdin)
	}
	if strings.Join(r.gotArgs, " ") != "-layout -enc UTF-8 -eol unix - -" {
		t.Errorf("args = %v", r.gotArgs)
	}
}

func TestPDFToText_CommandFails(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("Syntax Error: Couldn't find trailer dictionary")}
	p := NewPDFToText("pdftotext", WithRunner(r))

	_, err := p.Extract(context.Background(), []byte("%PDF-1.4"))
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("Extract() error = %v, want ErrUnreadable", err)
	}
	if !strings.Contains(err.Error(), "trailer dictionary") {
		t.Errorf("error should carry stderr, got %v", err)
	}
}

func TestPDFToText_NoText(t *testing.T) {
	p := NewPDFToText("pdftotext", WithRunner(&fakeRunner{stdout: []byte("\f\f\n")}))

	_, err := p.Extract(context.Background(), []byte("%PDF-1.4"))
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("Extract() error = %v, want ErrEmpty", err)
	}
}

func TestPDFToText_EmptyInputSkipsCommand(t *testing.T) {
	r := &fakeRunner{}
	p := NewPDFToText("pdftotext", WithRunner(r))

	if _, err := p.Extract(context.Background(), nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("Extract() error = %v, want ErrEmpty", err)
	}
	if r.gotName != "" {
		t.Error("command should not run for empty input")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdef", 3); got != "abc...(truncated)" {
		t.Errorf("truncate() = %q", got)
	}
}
