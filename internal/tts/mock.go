package tts

import (
	"context"
	"sync"
)

// MockSynth produces two bytes of silence per input rune and records what it was sent.
type MockSynth struct {
	mu       sync.Mutex
	sessions []*MockSession
}

func NewMockSynth() *MockSynth { return &MockSynth{} }

func (m *MockSynth) Open(ctx context.Context, cfg SessionConfig) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &MockSession{audioPipe: newAudioPipe(), Config: cfg, input: make(chan string, 64)}
	go s.run()
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

// Sessions returns every session opened so far.
func (m *MockSynth) Sessions() []*MockSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockSession(nil), m.sessions...)
}

type MockSession struct {
	*audioPipe
	Config SessionConfig

	mu     sync.Mutex
	inputs []string
	input  chan string
	ended  bool
}

func (s *MockSession) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionClosed
	}
	s.inputs = append(s.inputs, text)
	select {
	case s.input <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *MockSession) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.input)
	}
	return nil
}

func (s *MockSession) run() {
	for text := range s.input {
		if text == "" {
			continue
		}
		if !s.deliver(make([]byte, 2*len([]rune(text)))) {
			s.finish(nil)
			return
		}
	}
	s.finish(nil)
}

// Inputs returns the text sent so far, heartbeats included.
func (s *MockSession) Inputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

func (s *MockSession) Close() error {
	s.stop()
	return s.CloseSend()
}
