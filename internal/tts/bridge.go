package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/fragment"
)

// DefaultHeartbeat is how long the bridge waits for a fragment before keeping the synthesis
// session alive with an empty input.
const DefaultHeartbeat = 3 * time.Second

// Player plays raw 16-bit PCM.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

type flusher interface {
	Flush() error
}

// Bridge speaks a turn's fragments as they are generated.
type Bridge struct {
	synth     Synthesizer
	player    Player
	cfg       SessionConfig
	wait      time.Duration
	logger    *slog.Logger
	heartbeat func()
	firstByte func(time.Duration)
}

func NewBridge(synth Synthesizer, player Player, cfg SessionConfig, wait time.Duration, logger *slog.Logger) *Bridge {
	if wait <= 0 {
		wait = DefaultHeartbeat
	}
	return &Bridge{
		synth:  synth,
		player: player,
		cfg:    cfg,
		wait:   wait,
		logger: logger.With(slog.String("component", "tts-bridge")),
	}
}

// OnHeartbeat registers a callback run whenever a keep-alive is sent.
func (b *Bridge) OnHeartbeat(fn func()) { b.heartbeat = fn }

// OnFirstAudio registers a callback run with the latency of the first audio chunk.
func (b *Bridge) OnFirstAudio(fn func(time.Duration)) { b.firstByte = fn }

// Speak opens a synthesis session and forwards fragments from q until the terminal sentinel,
// playing audio chunks concurrently in arrival order. It returns once all audio has played.
func (b *Bridge) Speak(ctx context.Context, q *fragment.Queue) error {
	start := time.Now()
	session, err := b.synth.Open(ctx, b.cfg)
	if err != nil {
		return fmt.Errorf("open synthesis session: %w", err)
	}

	played := make(chan error, 1)
	go func() {
		played <- b.play(ctx, session, start)
	}()
	finished := false
	defer func() {
		if !finished {
			session.Close()
			<-played
		}
	}()

	if err := b.forward(ctx, q, session); err != nil {
		finished = true
		session.Close()
		if playErr := <-played; playErr != nil && errors.Is(err, ErrSessionClosed) {
			return playErr
		}
		return err
	}
	if err := session.CloseSend(); err != nil {
		return fmt.Errorf("close synthesis input: %w", err)
	}

	var playErr error
	select {
	case playErr = <-played:
	case <-ctx.Done():
		return ctx.Err()
	}
	finished = true
	session.Close()
	if playErr != nil {
		return playErr
	}
	if f, ok := b.player.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush playback: %w", err)
		}
	}
	return nil
}

func (b *Bridge) forward(ctx context.Context, q *fragment.Queue, session Session) error {
	for {
		f, err := q.Receive(ctx, b.wait)
		if errors.Is(err, fragment.ErrTimeout) {
			b.logger.Debug("no fragment received, sending keep-alive", slog.Duration("wait", b.wait))
			if b.heartbeat != nil {
				b.heartbeat()
			}
			if err := session.Send(ctx, ""); err != nil {
				return fmt.Errorf("send keep-alive: %w", err)
			}
			continue
		}
		if err != nil {
			return err
		}
		if f.Final {
			return nil
		}
		if err := session.Send(ctx, f.Text); err != nil {
			return fmt.Errorf("send fragment: %w", err)
		}
	}
}

func (b *Bridge) play(ctx context.Context, session Session, start time.Time) error {
	first := true
	for chunk := range session.Audio() {
		if first && b.firstByte != nil {
			b.firstByte(time.Since(start))
		}
		first = false
		if err := b.player.Play(ctx, chunk); err != nil {
			session.Close()
			for range session.Audio() {
			}
			return fmt.Errorf("play audio: %w", err)
		}
	}
	if err := session.Err(); err != nil {
		return fmt.Errorf("synthesis: %w", err)
	}
	return nil
}
