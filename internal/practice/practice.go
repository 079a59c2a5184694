// Package practice generates fresh practice questions modelled on a
// question from the bank.
package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/p-n-ai/pai-papers/internal/ai"
	"github.com/p-n-ai/pai-papers/internal/classify"
	"github.com/p-n-ai/pai-papers/internal/ingest"
	"github.com/p-n-ai/pai-papers/internal/structuring"
)

const (
	DefaultCount = 3
	MaxCount     = 10
)

// ErrInvalidCount is returned when the requested number of variants is out
// of range.
var ErrInvalidCount = errors.New("variant count out of range")

// Variant is one generated practice question.
type Variant struct {
	QuestionText string              `json:"questionText"`
	Answer       string              `json:"answer"`
	Marks        int                 `json:"marks"`
	Difficulty   classify.Difficulty `json:"difficulty"`
	Topics       []string            `json:"topics"`
}

type variantsDoc struct {
	Variants []struct {
		QuestionText string `json:"questionText"`
		Answer       string `json:"answer"`
		Marks        int    `json:"marks"`
	} `json:"variants"`
}

const variantsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["variants"],
  "properties": {
    "variants": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["questionText", "answer", "marks"],
        "properties": {
          "questionText": {"type": "string", "minLength": 1},
          "answer": {"type": "string"},
          "marks": {"type": "integer", "minimum": 0, "maximum": 1000}
        }
      }
    }
  }
}`

const systemPrompt = `You write new mathematics practice questions in the style of an examination board.

Given a source question, write %d new questions that test the same skill with different numbers or context.
Return a single JSON object and nothing else:
{"variants": [{"questionText": "...", "answer": "final answer with brief working", "marks": 3}]}

Rules:
- Keep the mark allocation close to the source question.
- Do not copy the source question.
- Each question must be answerable without a diagram.`

// Generator asks a model for practice variants of stored questions.
type Generator struct {
	ai        ai.Completer
	validator *structuring.Validator
	model     string
	maxTokens int
}

// NewGenerator creates a Generator. Model may be empty to use the router's
// default.
func NewGenerator(completer ai.Completer, model string) (*Generator, error) {
	v, err := structuring.NewValidator("variants", variantsSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Generator{ai: completer, validator: v, model: model, maxTokens: 4096}, nil
}

// Variants returns up to count new questions modelled on q. Each variant is
// labelled with the generated-question difficulty rule and inherits q's
// topics. Nothing is persisted.
func (g *Generator) Variants(ctx context.Context, q *ingest.Question, count int) ([]Variant, error) {
	if count == 0 {
		count = DefaultCount
	}
	if count < 1 || count > MaxCount {
		return nil, fmt.Errorf("%w: %d (want 1 to %d)", ErrInvalidCount, count, MaxCount)
	}

	resp, err := g.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, count)},
			{Role: "user", Content: sourcePrompt(q)},
		},
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: 0.7,
		Task:        ai.TaskGeneration,
		JSON:        true,
		Meter:       "practice:" + q.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("generate variants: %w", err)
	}

	var doc variantsDoc
	if err := g.validator.Decode(resp.Content, &doc); err != nil {
		return nil, err
	}

	out := make([]Variant, 0, len(doc.Variants))
	for _, v := range doc.Variants {
		if len(out) == count {
			break
		}
		out = append(out, Variant{
			QuestionText: strings.TrimSpace(v.QuestionText),
			Answer:       strings.TrimSpace(v.Answer),
			Marks:        v.Marks,
			Difficulty:   classify.GeneratedDifficulty(v.Marks),
			Topics:       append([]string{}, q.Topics...),
		})
	}

	slog.Info("practice variants generated",
		"question_id", q.ID,
		"requested", count,
		"returned", len(out),
		"tokens", resp.TotalTokens(),
	)
	return out, nil
}

func sourcePrompt(q *ingest.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Level: %s\n", q.SubjectLevel)
	if len(q.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(q.Topics, ", "))
	}
	fmt.Fprintf(&b, "Marks: %d\n\nQuestion:\n%s\n", q.TotalMarks, q.QuestionText)
	for _, sp := range q.Subparts {
		fmt.Fprintf(&b, "%s %s [%d]\n", sp.Label, sp.Text, sp.Marks)
	}
	if q.Answer != "" {
		fmt.Fprintf(&b, "\nMarking scheme answer:\n%s\n", q.Answer)
	}
	return b.String()
}
