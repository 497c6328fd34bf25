package tts

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execSynth runs a local command per session. The command reads JSON lines on stdin (first
// the session config, then {"text": ...} inputs) and writes {"pcm_base64": ..., "final": bool}
// lines on stdout. Closing stdin ends the input.
type execSynth struct {
	cmd []string
}

type execConfigLine struct {
	Voice      string `json:"voice"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execTextLine struct {
	Text string `json:"text"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Open(ctx context.Context, cfg SessionConfig) (Session, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cmdCtx, e.cmd[0], e.cmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start tts command: %w", err)
	}
	s := &execSession{
		audioPipe: newAudioPipe(),
		cmd:       cmd,
		stdin:     stdin,
		enc:       json.NewEncoder(stdin),
		cancel:    cancel,
	}
	if err := s.enc.Encode(execConfigLine{Voice: cfg.Voice, Language: cfg.Language, SampleRate: cfg.SampleRate, Channels: cfg.Channels}); err != nil {
		s.Close()
		return nil, fmt.Errorf("write tts config: %w", err)
	}
	go s.readLoop(stdout)
	return s, nil
}

type execSession struct {
	*audioPipe
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *json.Encoder
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func (s *execSession) Send(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.stopped() {
		return ErrSessionClosed
	}
	if err := s.enc.Encode(execTextLine{Text: text}); err != nil {
		return fmt.Errorf("write tts input: %w", err)
	}
	return nil
}

func (s *execSession) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stdin.Close()
}

func (s *execSession) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var err error
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err = json.Unmarshal(line, &resp); err != nil {
			err = fmt.Errorf("decode tts output: %w", err)
			break
		}
		pcm, decErr := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if decErr != nil {
			err = fmt.Errorf("decode tts audio: %w", decErr)
			break
		}
		if len(pcm) > 0 && !s.deliver(pcm) {
			break
		}
		if resp.Final {
			break
		}
	}
	if err == nil {
		err = scanner.Err()
	}
	s.CloseSend()
	waitErr := s.cmd.Wait()
	if err == nil && waitErr != nil && !s.stopped() {
		err = fmt.Errorf("tts command failed: %w", waitErr)
	}
	s.finish(err)
}

func (s *execSession) Close() error {
	s.stop()
	s.CloseSend()
	s.cancel()
	return nil
}
