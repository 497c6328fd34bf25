package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/conversation"
	"github.com/loqalabs/loqa-voice/internal/tools"
)

// ErrNoChoices is returned when a completion carries no candidates.
var ErrNoChoices = errors.New("llm: completion returned no choices")

// Request describes one call to a text generation backend.
type Request struct {
	System      string
	Messages    []conversation.Message
	Tools       []tools.Definition
	ToolChoice  string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// Completion is a non-streamed response, possibly requesting tool calls.
type Completion struct {
	Content      string
	ToolCalls    []conversation.ToolCall
	FinishReason string
}

// Delta is one streamed increment. Content may be empty.
type Delta struct {
	Content string
}

// Backend is a pluggable text generation service.
type Backend interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Stream(ctx context.Context, req Request, consumer func(Delta) error) error
}

// FromConfig builds the backend selected by cfg.Mode.
func FromConfig(ctx context.Context, cfg config.LLMConfig) (Backend, error) {
	switch cfg.Mode {
	case "openai":
		return NewOpenAI(cfg), nil
	case "gemini":
		return NewGemini(ctx, cfg)
	case "mock":
		return NewMock(), nil
	}
	return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// IsClientError reports whether err carries a 400-class status, which backends return for
// malformed tool call generation.
func IsClientError(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return false
	}
	code := sc.StatusCode()
	return code >= 400 && code < 500
}

// StatusError attaches an HTTP status to a backend error.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string   { return fmt.Sprintf("status %d: %v", e.Code, e.Err) }
func (e *StatusError) Unwrap() error   { return e.Err }
func (e *StatusError) StatusCode() int { return e.Code }
