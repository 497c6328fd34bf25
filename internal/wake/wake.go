// Package wake blocks until the user asks for attention.
package wake

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/mattn/go-shellwords"
)

// ErrInputClosed is returned by the enter detector once its input reaches EOF.
var ErrInputClosed = errors.New("wake: input closed")

// Detector waits for a wake signal.
type Detector interface {
	Wait(ctx context.Context) error
}

// FromConfig builds the detector selected by cfg.Mode.
func FromConfig(cfg config.WakeConfig, logger *slog.Logger) (Detector, error) {
	switch cfg.Mode {
	case "", "none":
		return Immediate{}, nil
	case "enter":
		return NewEnter(os.Stdin, os.Stdout), nil
	case "exec":
		return NewExec(cfg.Command, logger)
	}
	return nil, fmt.Errorf("unsupported wake mode %q", cfg.Mode)
}

// Immediate never waits.
type Immediate struct{}

func (Immediate) Wait(ctx context.Context) error { return ctx.Err() }

// Enter waits for a line on its input.
type Enter struct {
	in     io.Reader
	prompt io.Writer
	once   sync.Once
	lines  chan struct{}
}

func NewEnter(in io.Reader, prompt io.Writer) *Enter {
	return &Enter{in: in, prompt: prompt, lines: make(chan struct{})}
}

func (e *Enter) Wait(ctx context.Context) error {
	e.once.Do(func() { go e.scan() })
	if e.prompt != nil {
		fmt.Fprint(e.prompt, "Press Enter to talk... ")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-e.lines:
		if !ok {
			return ErrInputClosed
		}
		return nil
	}
}

// scan outlives individual Wait calls so a cancelled wait does not lose the next line.
func (e *Enter) scan() {
	defer close(e.lines)
	scanner := bufio.NewScanner(e.in)
	for scanner.Scan() {
		e.lines <- struct{}{}
	}
}

// Exec runs an external detector and treats exit status 0 as a detection.
type Exec struct {
	cmd    []string
	logger *slog.Logger
}

func NewExec(command string, logger *slog.Logger) (*Exec, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse wake command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("wake command is empty")
	}
	return &Exec{cmd: args, logger: logger.With(slog.String("component", "wake"))}, nil
}

func (e *Exec) Wait(ctx context.Context) error {
	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wake command failed: %w: %s", err, stderr.String())
	}
	e.logger.Debug("wake word detected", slog.String("command", e.cmd[0]))
	return nil
}
