// Package audio implements microphone capture with a loudness-gated recorder, speaker
// playback and the WAV encoding used to hand utterances to transcription backends.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNoDevice is returned when no usable audio device is available.
var ErrNoDevice = errors.New("audio: no device available")

// Frame is one block of samples read from the input device.
type Frame struct {
	Samples   []float32
	Timestamp time.Time
	Loudness  int
}

// Loudness scales the L2 norm of samples by sensitivity and truncates it.
func Loudness(samples []float32, sensitivity float64) int {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return int(math.Sqrt(sum) * sensitivity)
}

// Buffer is a finished utterance: interleaved float32 samples in [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Samples) / b.Channels
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// PCM16 converts the buffer to little-endian signed 16-bit PCM, clipping out of range samples.
func (b *Buffer) PCM16() []byte {
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := float64(s) * math.MaxInt16
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// WriteWAV encodes the buffer as a 16-bit PCM WAV file at path, replacing any existing file.
func (b *Buffer) WriteWAV(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer file.Close()
	return WritePCM16WAV(file, b.PCM16(), b.SampleRate, b.Channels)
}

// WritePCM16WAV encodes little-endian 16-bit PCM into a WAV container.
func WritePCM16WAV(file *os.File, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
