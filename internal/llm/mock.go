package llm

import (
	"context"
	"strings"
	"time"

	"github.com/loqalabs/loqa-voice/internal/conversation"
)

type mockBackend struct{}

// NewMock returns a backend that never calls tools and streams back the last user message.
func NewMock() Backend { return &mockBackend{} }

func (m *mockBackend) Complete(ctx context.Context, _ Request) (Completion, error) {
	select {
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return Completion{FinishReason: "stop"}, nil
}

func (m *mockBackend) Stream(ctx context.Context, req Request, consumer func(Delta) error) error {
	var last string
	for _, msg := range req.Messages {
		if msg.Role == conversation.RoleUser {
			last = msg.Content
		}
	}
	reply := "You said: " + strings.TrimSpace(last)
	for i, word := range strings.Fields(reply) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		if i > 0 {
			word = " " + word
		}
		if err := consumer(Delta{Content: word}); err != nil {
			return err
		}
	}
	return nil
}
