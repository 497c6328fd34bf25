package wake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnterWaitsForEachLine(t *testing.T) {
	var prompt strings.Builder
	d := NewEnter(strings.NewReader("\n\n"), &prompt)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := d.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if err := d.Wait(ctx); !errors.Is(err, ErrInputClosed) {
		t.Fatalf("expected ErrInputClosed, got %v", err)
	}
	if strings.Count(prompt.String(), "Press Enter") != 3 {
		t.Fatalf("expected a prompt per wait, got %q", prompt.String())
	}
}

func TestEnterHonoursCancellation(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	d := NewEnter(r, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestExecDetector(t *testing.T) {
	ok, err := NewExec("true", newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := ok.Wait(context.Background()); err != nil {
		t.Fatalf("expected detection, got %v", err)
	}

	fail, err := NewExec("sh -c 'echo nope >&2; exit 3'", newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := fail.Wait(context.Background()); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected failure with stderr, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	d, err := FromConfig(config.WakeConfig{Mode: "none"}, newLogger())
	if err != nil {
		t.Fatalf("none: %v", err)
	}
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("immediate wait: %v", err)
	}
	if _, err := FromConfig(config.WakeConfig{Mode: "exec"}, newLogger()); err == nil {
		t.Fatal("expected error for exec without command")
	}
	if _, err := FromConfig(config.WakeConfig{Mode: "porcupine"}, newLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
