package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voice/internal/conversation"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoArgs struct {
	Text string `json:"text"`
}

func echoTool(name string) Tool {
	return NewFunc(Definition{
		Name:        name,
		Description: "echo",
		Parameters:  ObjectSchema(map[string]any{"text": map[string]any{"type": "string"}}),
	}, func(_ context.Context, a echoArgs) (string, error) {
		return a.Text, nil
	})
}

func failingTool(name string) Tool {
	return NewFunc(Definition{Name: name, Description: "fails"}, func(context.Context, NoArgs) (string, error) {
		return "", errors.New("boom")
	})
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(echoTool("echo")); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, err := reg.Get("missing"); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistryDefinitionsKeepOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"b", "a", "c"} {
		if err := reg.Register(echoTool(name)); err != nil {
			t.Fatal(err)
		}
	}
	defs := reg.Definitions()
	if len(defs) != 3 || defs[0].Name != "b" || defs[1].Name != "a" || defs[2].Name != "c" {
		t.Fatalf("unexpected definition order: %+v", defs)
	}
}

func TestFuncDecodesStrictly(t *testing.T) {
	tool := echoTool("echo")
	out, err := tool.Call(context.Background(), json.RawMessage(`{"text":"hi"}`))
	if err != nil || out != "hi" {
		t.Fatalf("unexpected result %q %v", out, err)
	}
	if _, err := tool.Call(context.Background(), json.RawMessage(`{"text":"hi","extra":1}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := tool.Call(context.Background(), json.RawMessage(`{}`)); err == nil || !strings.Contains(err.Error(), "text") {
		t.Fatalf("expected missing argument error, got %v", err)
	}
	if _, err := tool.Call(context.Background(), json.RawMessage(`{"text":5}`)); err == nil {
		t.Fatal("expected type error")
	}
}

func TestFuncAcceptsEmptyArguments(t *testing.T) {
	tool := DateTime(func() time.Time { return time.Date(2024, 3, 1, 15, 4, 0, 0, time.UTC) })
	for _, raw := range []string{"", "null", "{}"} {
		out, err := tool.Call(context.Background(), json.RawMessage(raw))
		if err != nil {
			t.Fatalf("args %q: %v", raw, err)
		}
		if out != "Friday, March 1, 2024 at 3:04 PM UTC" {
			t.Fatalf("unexpected datetime %q", out)
		}
	}
}

func TestExecutorUnknownToolYieldsErrorResult(t *testing.T) {
	exec := NewExecutor(NewRegistry(), time.Second, newLogger())
	res := exec.Execute(context.Background(), conversation.ToolCall{ID: "call_1", Name: "nope"})
	if res.CallID != ErrorResultID || res.Name != ErrorResultName || res.Content != ErrorResultMessage {
		t.Fatalf("expected uniform error result, got %+v", res)
	}
	if !errors.Is(res.Err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool cause, got %v", res.Err)
	}
	msg := res.Message()
	if msg.Role != conversation.RoleTool || msg.ToolCallID != ErrorResultID {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestExecutorRunsAllCallsInOrder(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(echoTool("echo"))
	_ = reg.Register(failingTool("fail"))
	_ = reg.Register(NewFunc(Definition{Name: "panic"}, func(context.Context, NoArgs) (string, error) {
		panic("kaboom")
	}))
	exec := NewExecutor(reg, time.Second, newLogger())

	var observed []string
	exec.OnResult(func(call conversation.ToolCall, _ Result) { observed = append(observed, call.Name) })

	calls := []conversation.ToolCall{
		{ID: "1", Name: "fail"},
		{ID: "2", Name: "echo", Arguments: json.RawMessage(`{"text":"second"}`)},
		{ID: "3", Name: "panic"},
		{ID: "4", Name: "echo", Arguments: json.RawMessage(`{bad json`)},
	}
	results := exec.ExecuteAll(context.Background(), calls)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[0].CallID != ErrorResultID {
		t.Fatalf("expected failure for first call, got %+v", results[0])
	}
	if results[1].CallID != "2" || results[1].Content != "second" || results[1].Err != nil {
		t.Fatalf("expected echo result, got %+v", results[1])
	}
	if results[2].CallID != ErrorResultID || results[3].CallID != ErrorResultID {
		t.Fatalf("expected error results for panic and bad json, got %+v %+v", results[2], results[3])
	}
	if strings.Join(observed, ",") != "fail,echo,panic,echo" {
		t.Fatalf("unexpected observation order %v", observed)
	}
}

func TestExecutorAppliesTimeout(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(NewFunc(Definition{Name: "slow"}, func(ctx context.Context, _ NoArgs) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))
	exec := NewExecutor(reg, 10*time.Millisecond, newLogger())
	res := exec.Execute(context.Background(), conversation.ToolCall{ID: "1", Name: "slow"})
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", res.Err)
	}
}
