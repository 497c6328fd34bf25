package stt

import (
	"context"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/audio"
)

// MockRecognizer returns scripted transcripts in order, repeating the last one.
type MockRecognizer struct {
	mu      sync.Mutex
	scripts []string
	calls   int
}

func NewMockRecognizer(scripts ...string) *MockRecognizer {
	return &MockRecognizer{scripts: scripts}
}

func (m *MockRecognizer) Transcribe(ctx context.Context, _ *audio.Buffer) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.scripts) == 0 {
		return TranscriptResult{}, nil
	}
	idx := min(m.calls-1, len(m.scripts)-1)
	return TranscriptResult{Text: m.scripts[idx], Confidence: 1}, nil
}

func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
