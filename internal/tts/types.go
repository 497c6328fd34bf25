// Package tts feeds generated text into streaming speech synthesis and plays the audio as it
// returns.
package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// ErrSessionClosed is returned when sending on a finished session.
var ErrSessionClosed = errors.New("tts: session closed")

// SessionConfig is sent once when a synthesis session opens.
type SessionConfig struct {
	Voice        string
	Language     string
	Model        string
	SampleRate   int
	Channels     int
	SpeakingRate float64
	Stability    float64
	Similarity   float64
}

func SessionConfigFromConfig(cfg config.TTSConfig) SessionConfig {
	return SessionConfig{
		Voice:        cfg.Voice,
		Language:     cfg.Language,
		Model:        cfg.Model,
		SampleRate:   cfg.SampleRate,
		Channels:     cfg.Channels,
		SpeakingRate: cfg.SpeakingRate,
		Stability:    cfg.Stability,
		Similarity:   cfg.Similarity,
	}
}

// Session is one streaming synthesis exchange. Text goes in through Send, raw 16-bit PCM
// comes out of Audio in arrival order. Audio is closed when synthesis ends; Err then reports
// why.
type Session interface {
	// Send forwards incremental text. An empty string is a keep-alive.
	Send(ctx context.Context, text string) error
	// CloseSend marks the end of the text input.
	CloseSend() error
	Audio() <-chan []byte
	Err() error
	Close() error
}

// Synthesizer opens synthesis sessions.
type Synthesizer interface {
	Open(ctx context.Context, cfg SessionConfig) (Session, error)
}

// FromConfig builds the synthesizer selected by cfg.Mode.
func FromConfig(ctx context.Context, cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "elevenlabs":
		return NewElevenLabs(cfg.Endpoint, config.APIKey(cfg.APIKeyEnv))
	case "google":
		return NewGoogle(ctx)
	case "exec":
		return NewExecSynth(cfg.Command)
	case "mock":
		return NewMockSynth(), nil
	}
	return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
}

// audioPipe is the output half shared by session implementations.
type audioPipe struct {
	chunks chan []byte
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func newAudioPipe() *audioPipe {
	return &audioPipe{chunks: make(chan []byte, 16), done: make(chan struct{})}
}

// deliver hands a chunk to the consumer, giving up when the session is closed.
func (p *audioPipe) deliver(chunk []byte) bool {
	select {
	case p.chunks <- chunk:
		return true
	case <-p.done:
		return false
	}
}

// finish closes the audio channel once, recording err. Only the producing goroutine calls it.
func (p *audioPipe) finish(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.mu.Unlock()
	close(p.chunks)
}

func (p *audioPipe) Audio() <-chan []byte { return p.chunks }

func (p *audioPipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *audioPipe) stop() {
	p.once.Do(func() { close(p.done) })
}

func (p *audioPipe) stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
