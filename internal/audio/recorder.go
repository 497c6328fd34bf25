package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Stream delivers blocks of interleaved samples from an open input device.
type Stream interface {
	// Read blocks until the next block is available.
	Read() ([]float32, error)
	Close() error
}

// Microphone opens capture streams.
type Microphone interface {
	Open(ctx context.Context) (Stream, error)
	SampleRate() int
	Channels() int
}

// RecorderConfig holds the loudness gate parameters.
type RecorderConfig struct {
	Sensitivity      float64
	Threshold        int
	NotSpokenTimeout time.Duration
	FinishedTimeout  time.Duration
	QueueSize        int
}

// Recorder captures one utterance per Record call.
type Recorder struct {
	mic    Microphone
	cfg    RecorderConfig
	logger *slog.Logger
	clock  func() time.Time
	poll   time.Duration
}

func NewRecorder(mic Microphone, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Recorder{
		mic:    mic,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "audio-recorder")),
		clock:  time.Now,
		poll:   50 * time.Millisecond,
	}
}

type recordingSession struct {
	start             time.Time
	frames            []Frame
	hasDetectedSpeech bool
	lastLoud          time.Time
}

func (s *recordingSession) add(f Frame, threshold int) {
	s.frames = append(s.frames, f)
	if f.Loudness > threshold {
		s.hasDetectedSpeech = true
		s.lastLoud = f.Timestamp
	}
}

// expired reports whether the active timeout has elapsed at now. Only one timeout applies,
// selected by whether speech has been detected.
func (s *recordingSession) expired(now time.Time, cfg RecorderConfig) bool {
	if s.hasDetectedSpeech {
		return now.Sub(s.lastLoud) >= cfg.FinishedTimeout
	}
	return now.Sub(s.start) >= cfg.NotSpokenTimeout
}

// Record opens the microphone and blocks until the user has finished speaking or never
// started. It returns a nil buffer when no speech was detected. The device is released before
// Record returns on every path.
func (r *Recorder) Record(ctx context.Context) (*Buffer, error) {
	stream, err := r.mic.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	session := &recordingSession{start: r.clock()}

	frames := make(chan Frame, r.cfg.QueueSize)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			samples, err := stream.Read()
			if err != nil {
				readErr <- err
				return
			}
			f := Frame{Samples: samples, Timestamp: r.clock(), Loudness: Loudness(samples, r.cfg.Sensitivity)}
			select {
			case frames <- f:
			case <-done:
				return
			}
		}
	}()
	// Closing the stream unblocks a reader stuck in Read on a stalled device.
	defer func() {
		close(done)
		if err := stream.Close(); err != nil {
			r.logger.Warn("failed to close input stream", slog.String("error", err.Error()))
		}
		wg.Wait()
	}()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-readErr:
			return nil, fmt.Errorf("read microphone: %w", err)
		case f := <-frames:
			session.add(f, r.cfg.Threshold)
			if session.expired(f.Timestamp, r.cfg) {
				return r.finish(session), nil
			}
		case <-ticker.C:
			if session.expired(r.clock(), r.cfg) {
				return r.finish(session), nil
			}
		}
	}
}

func (r *Recorder) finish(s *recordingSession) *Buffer {
	if !s.hasDetectedSpeech {
		r.logger.Debug("no speech detected", slog.Int("frames", len(s.frames)))
		return nil
	}
	total := 0
	for _, f := range s.frames {
		total += len(f.Samples)
	}
	samples := make([]float32, 0, total)
	for _, f := range s.frames {
		samples = append(samples, f.Samples...)
	}
	buf := &Buffer{Samples: samples, SampleRate: r.mic.SampleRate(), Channels: r.mic.Channels()}
	r.logger.Debug("utterance captured", slog.Int("frames", len(s.frames)), slog.Duration("duration", buf.Duration()))
	return buf
}
