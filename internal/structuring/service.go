package structuring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/p-n-ai/pai-papers/internal/ai"
)

// ErrNoText is returned when there is nothing to structure.
var ErrNoText = errors.New("no text to structure")

// Service structures paper text through an AI completer. It makes exactly
// one completion call per operation.
type Service struct {
	ai          ai.Completer
	model       string
	maxTokens   int
	temperature float64
}

// Option configures a Service.
type Option func(*Service)

// WithModel sets the model name sent with each request.
func WithModel(model string) Option {
	return func(s *Service) {
		s.model = model
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Service) {
		s.temperature = t
	}
}

// NewService creates a structuring service.
func NewService(completer ai.Completer, opts ...Option) *Service {
	s := &Service{
		ai:        completer,
		maxTokens: 8192,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StructureQuestions turns question paper text into per-question records.
func (s *Service) StructureQuestions(ctx context.Context, text string, meta PaperMetadata) (StructuredQuestions, error) {
	var out StructuredQuestions
	if err := s.structure(ctx, "questions", questionsSystemPrompt, "question paper", text, meta, questionsValidator, &out); err != nil {
		return StructuredQuestions{}, err
	}
	if out.Questions == nil {
		out.Questions = []StructuredQuestion{}
	}
	return out, nil
}

// StructureAnswers turns marking scheme text into per-question answer sets.
func (s *Service) StructureAnswers(ctx context.Context, text string, meta PaperMetadata) (StructuredAnswers, error) {
	var out StructuredAnswers
	if err := s.structure(ctx, "answers", answersSystemPrompt, "marking scheme", text, meta, answersValidator, &out); err != nil {
		return StructuredAnswers{}, err
	}
	if out.Answers == nil {
		out.Answers = []AnswerSet{}
	}
	return out, nil
}

func (s *Service) structure(ctx context.Context, kind, system, docName, text string, meta PaperMetadata, v *Validator, out any) error {
	if strings.TrimSpace(text) == "" {
		return ErrNoText
	}

	resp, err := s.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userPrompt(docName, meta, text)},
		},
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Task:        ai.TaskStructuring,
		JSON:        true,
		Meter:       meta.BatchID,
	})
	if err != nil {
		return fmt.Errorf("structure %s: %w", kind, err)
	}

	return v.Decode(resp.Content, out)
}
