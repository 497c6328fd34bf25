package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Initialize starts the PortAudio host API. The returned function terminates it.
func Initialize() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// DetectSampleRate returns the default input device's sample rate, or fallback when the
// device cannot be queried.
func DetectSampleRate(fallback int, logger *slog.Logger) int {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil || dev == nil || dev.DefaultSampleRate <= 0 {
		logger.Warn("could not detect input sample rate, using default", slog.Int("sample_rate", fallback))
		return fallback
	}
	rate := int(dev.DefaultSampleRate)
	logger.Info("detected input device", slog.String("device", dev.Name), slog.Int("sample_rate", rate))
	return rate
}

// CheckInput fails with ErrNoDevice when no default input device exists.
func CheckInput() error {
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return nil
}

// PortAudioInput opens the default input device.
type PortAudioInput struct {
	sampleRate      int
	channels        int
	framesPerBuffer int
}

func NewPortAudioInput(sampleRate, channels, framesPerBuffer int) *PortAudioInput {
	return &PortAudioInput{sampleRate: sampleRate, channels: channels, framesPerBuffer: framesPerBuffer}
}

func (p *PortAudioInput) SampleRate() int { return p.sampleRate }
func (p *PortAudioInput) Channels() int   { return p.channels }

func (p *PortAudioInput) Open(_ context.Context) (Stream, error) {
	buf := make([]float32, p.framesPerBuffer*p.channels)
	stream, err := portaudio.OpenDefaultStream(p.channels, 0, float64(p.sampleRate), p.framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input stream: %v", ErrNoDevice, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []float32
	once   sync.Once
}

func (s *portAudioStream) Read() ([]float32, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *portAudioStream) Close() error {
	var err error
	s.once.Do(func() {
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

// Speaker plays 16-bit little-endian PCM on the default output device in fixed-size blocks.
type Speaker struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	pending []int16
	odd     []byte
}

func NewSpeaker(sampleRate, channels, framesPerBuffer int) (*Speaker, error) {
	buf := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open output stream: %v", ErrNoDevice, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return &Speaker{stream: stream, buf: buf}, nil
}

// Play writes pcm to the device, blocking until every complete block has been queued. A
// trailing partial block is held until the next call or Flush.
func (s *Speaker) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = AppendPCM16(s.pending, &s.odd, pcm)
	for len(s.pending) >= len(s.buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		copy(s.buf, s.pending[:len(s.buf)])
		s.pending = s.pending[len(s.buf):]
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}

// Flush pads the held partial block with silence and plays it.
func (s *Speaker) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.odd = nil
	if len(s.pending) == 0 {
		return nil
	}
	n := copy(s.buf, s.pending)
	clear(s.buf[n:])
	s.pending = s.pending[:0]
	if err := s.stream.Write(); err != nil {
		return fmt.Errorf("write output stream: %w", err)
	}
	return nil
}

func (s *Speaker) Close() error {
	flushErr := s.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stream.Stop(); err != nil {
		return err
	}
	if err := s.stream.Close(); err != nil {
		return err
	}
	return flushErr
}

// AppendPCM16 decodes little-endian bytes onto dst. A dangling odd byte is kept in carry and
// joined with the first byte of the next chunk.
func AppendPCM16(dst []int16, carry *[]byte, pcm []byte) []int16 {
	if len(*carry) > 0 && len(pcm) > 0 {
		joined := []byte{(*carry)[0], pcm[0]}
		dst = append(dst, int16(binary.LittleEndian.Uint16(joined)))
		pcm = pcm[1:]
		*carry = nil
	}
	for len(pcm) >= 2 {
		dst = append(dst, int16(binary.LittleEndian.Uint16(pcm)))
		pcm = pcm[2:]
	}
	if len(pcm) == 1 {
		*carry = []byte{pcm[0]}
	}
	return dst
}
