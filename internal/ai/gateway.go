// Package ai provides a provider-agnostic gateway to the language models
// that structure exam papers and generate practice questions.
package ai

import (
	"context"
	"errors"
)

// TaskType defines the kind of AI task for routing purposes.
type TaskType int

const (
	TaskStructuring TaskType = iota
	TaskGeneration
	TaskHealth
)

func (t TaskType) String() string {
	switch t {
	case TaskStructuring:
		return "structuring"
	case TaskGeneration:
		return "generation"
	case TaskHealth:
		return "health"
	default:
		return "unknown"
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Task        TaskType  `json:"task,omitempty"`

	// JSON asks the provider for a bare JSON object when it supports it.
	JSON bool `json:"json,omitempty"`
	// Meter is the usage key charged for this request, typically a batch ID.
	Meter string `json:"meter,omitempty"`
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ErrTruncated is returned when a completion stopped at the output token
// limit.
var ErrTruncated = errors.New("completion truncated at token limit")

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxTokens   int    `json:"max_tokens"`
	Description string `json:"description"`
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Models() []ModelInfo
	HealthCheck(ctx context.Context) error
}

// Completer is the narrow view of a Router used by callers that only need
// completions.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
