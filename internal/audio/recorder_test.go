package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeMic replays a loudness script, one frame per read, advancing the clock by step per
// frame. Reads past the script return silence.
type fakeMic struct {
	clock     *fakeClock
	step      time.Duration
	script    []float32
	frameLen  int
	failAfter int

	mu     sync.Mutex
	opened int
	closed int
}

func (m *fakeMic) SampleRate() int { return 16000 }
func (m *fakeMic) Channels() int   { return 1 }

func (m *fakeMic) Open(context.Context) (Stream, error) {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
	return &fakeStream{mic: m}, nil
}

type fakeStream struct {
	mic  *fakeMic
	read int
}

func (s *fakeStream) Read() ([]float32, error) {
	m := s.mic
	if m.failAfter > 0 && s.read >= m.failAfter {
		return nil, errors.New("device unplugged")
	}
	var amp float32
	if s.read < len(m.script) {
		amp = m.script[s.read]
	}
	s.read++
	m.clock.Advance(m.step)
	samples := make([]float32, m.frameLen)
	for i := range samples {
		samples[i] = amp
	}
	return samples, nil
}

func (s *fakeStream) Close() error {
	s.mic.mu.Lock()
	s.mic.closed++
	s.mic.mu.Unlock()
	return nil
}

func newTestRecorder(mic *fakeMic) *Recorder {
	r := NewRecorder(mic, RecorderConfig{
		Sensitivity:      15,
		Threshold:        5,
		NotSpokenTimeout: 5 * time.Second,
		FinishedTimeout:  1500 * time.Millisecond,
		QueueSize:        4,
	}, newLogger())
	r.clock = mic.clock.Now
	r.poll = time.Hour
	return r
}

func TestRecordSilenceReturnsNoUtterance(t *testing.T) {
	mic := &fakeMic{clock: &fakeClock{now: time.Unix(0, 0)}, step: 100 * time.Millisecond, frameLen: 100}
	rec := newTestRecorder(mic)

	buf, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if buf != nil {
		t.Fatalf("expected no utterance, got %d samples", len(buf.Samples))
	}
	if mic.opened != 1 || mic.closed != 1 {
		t.Fatalf("expected stream opened and closed once, got %d/%d", mic.opened, mic.closed)
	}
}

func TestRecordCapturesUtterance(t *testing.T) {
	// 0.1 amplitude over 100 samples: norm 1.0, loudness 15 (> 5).
	script := []float32{0, 0.1, 0.1, 0.1}
	mic := &fakeMic{clock: &fakeClock{now: time.Unix(0, 0)}, step: 100 * time.Millisecond, frameLen: 100, script: script}
	rec := newTestRecorder(mic)

	buf, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if buf == nil {
		t.Fatal("expected an utterance")
	}
	// Last loud frame at 400ms; the frame stamped 1900ms is the first past the 1.5s timeout.
	if want := 19 * 100; len(buf.Samples) != want {
		t.Fatalf("expected %d samples, got %d", want, len(buf.Samples))
	}
	if buf.Samples[100] != 0.1 || buf.Samples[0] != 0 {
		t.Fatalf("frames not concatenated in capture order")
	}
	if buf.SampleRate != 16000 || buf.Channels != 1 {
		t.Fatalf("unexpected format %d/%d", buf.SampleRate, buf.Channels)
	}
	if mic.closed != 1 {
		t.Fatalf("expected stream closed")
	}
}

func TestRecordQuietFramesBelowThreshold(t *testing.T) {
	// 0.03 amplitude: norm 0.3, loudness 4, never counted as speech.
	script := make([]float32, 80)
	for i := range script {
		script[i] = 0.03
	}
	mic := &fakeMic{clock: &fakeClock{now: time.Unix(0, 0)}, step: 100 * time.Millisecond, frameLen: 100, script: script}
	rec := newTestRecorder(mic)

	buf, err := rec.Record(context.Background())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if buf != nil {
		t.Fatal("expected quiet audio to be treated as no utterance")
	}
}

func TestRecordReleasesDeviceOnCancel(t *testing.T) {
	mic := &fakeMic{clock: &fakeClock{now: time.Unix(0, 0)}, frameLen: 10}
	rec := newTestRecorder(mic)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := rec.Record(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if mic.closed != 1 {
		t.Fatalf("expected stream closed after cancellation")
	}
}

func TestRecordPropagatesReadError(t *testing.T) {
	mic := &fakeMic{clock: &fakeClock{now: time.Unix(0, 0)}, step: time.Millisecond, frameLen: 10, failAfter: 3}
	rec := newTestRecorder(mic)

	if _, err := rec.Record(context.Background()); err == nil {
		t.Fatal("expected read error")
	}
	if mic.closed != 1 {
		t.Fatalf("expected stream closed after read error")
	}
}

func TestRecordRepeatedCalls(t *testing.T) {
	mic := &fakeMic{clock: &fakeClock{now: time.Unix(0, 0)}, step: time.Second, frameLen: 10}
	rec := newTestRecorder(mic)
	for i := 0; i < 5; i++ {
		if buf, err := rec.Record(context.Background()); err != nil || buf != nil {
			t.Fatalf("call %d: unexpected result %v %v", i, buf, err)
		}
	}
	if mic.opened != 5 || mic.closed != 5 {
		t.Fatalf("expected balanced open/close, got %d/%d", mic.opened, mic.closed)
	}
}

// stalledMic never delivers a frame; Read blocks until the stream is closed.
type stalledMic struct {
	mu     sync.Mutex
	closed int
}

func (m *stalledMic) SampleRate() int { return 16000 }
func (m *stalledMic) Channels() int   { return 1 }

func (m *stalledMic) Open(context.Context) (Stream, error) {
	return &stalledStream{mic: m, release: make(chan struct{})}, nil
}

type stalledStream struct {
	mic     *stalledMic
	release chan struct{}
	once    sync.Once
}

func (s *stalledStream) Read() ([]float32, error) {
	<-s.release
	return nil, errors.New("stream closed")
}

func (s *stalledStream) Close() error {
	s.once.Do(func() {
		close(s.release)
		s.mic.mu.Lock()
		s.mic.closed++
		s.mic.mu.Unlock()
	})
	return nil
}

func recordWithin(t *testing.T, rec *Recorder, ctx context.Context, limit time.Duration) (*Buffer, error) {
	t.Helper()
	type result struct {
		buf *Buffer
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf, err := rec.Record(ctx)
		done <- result{buf, err}
	}()
	select {
	case res := <-done:
		return res.buf, res.err
	case <-time.After(limit):
		t.Fatalf("Record still blocked after %s", limit)
		return nil, nil
	}
}

func TestRecordStalledDeviceTimesOut(t *testing.T) {
	mic := &stalledMic{}
	rec := NewRecorder(mic, RecorderConfig{
		Sensitivity:      15,
		Threshold:        5,
		NotSpokenTimeout: 100 * time.Millisecond,
		FinishedTimeout:  100 * time.Millisecond,
	}, newLogger())
	rec.poll = 10 * time.Millisecond

	buf, err := recordWithin(t, rec, context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if buf != nil {
		t.Fatal("expected no utterance from a stalled device")
	}
	if mic.closed != 1 {
		t.Fatalf("expected stream closed once, got %d", mic.closed)
	}
}

func TestRecordStalledDeviceCancel(t *testing.T) {
	mic := &stalledMic{}
	rec := NewRecorder(mic, RecorderConfig{
		Sensitivity:      15,
		Threshold:        5,
		NotSpokenTimeout: time.Hour,
		FinishedTimeout:  time.Hour,
	}, newLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := recordWithin(t, rec, ctx, 2*time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if mic.closed != 1 {
		t.Fatalf("expected stream closed once, got %d", mic.closed)
	}
}
