// Package stt turns captured utterances into text.
package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/config"
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, buf *audio.Buffer) (TranscriptResult, error)
}

// FromConfig builds the recognizer selected by cfg.Mode.
func FromConfig(ctx context.Context, cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "openai":
		return NewOpenAIRecognizer(cfg), nil
	case "google":
		return NewGoogleRecognizer(ctx, cfg)
	case "exec":
		return NewExecRecognizer(cfg)
	case "mock":
		return NewMockRecognizer("hello"), nil
	}
	return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
}
