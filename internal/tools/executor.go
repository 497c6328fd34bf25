package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/conversation"
)

// Uniform result returned for any failed call.
const (
	ErrorResultID      = "tool_error"
	ErrorResultName    = "tool_error"
	ErrorResultMessage = "The tool call failed. Let the user know the tool could not be used and answer as well as you can without it."
)

// Result is the outcome of one call.
type Result struct {
	CallID  string
	Name    string
	Content string
	Err     error
	Elapsed time.Duration
}

// Message converts the result into a tool-role conversation entry.
func (r Result) Message() conversation.Message {
	return conversation.Message{
		Role:       conversation.RoleTool,
		Content:    r.Content,
		ToolCallID: r.CallID,
		Name:       r.Name,
	}
}

// ErrorResult is the single error-shaped result the model receives when anything goes wrong.
func ErrorResult(err error) Result {
	return Result{CallID: ErrorResultID, Name: ErrorResultName, Content: ErrorResultMessage, Err: err}
}

// Executor runs model-requested calls against a Registry. It never returns an error: failures
// become ErrorResult values.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	observe  func(conversation.ToolCall, Result)
}

func NewExecutor(registry *Registry, timeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		registry: registry,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "tool-executor")),
	}
}

// OnResult registers a callback invoked after every call.
func (e *Executor) OnResult(fn func(conversation.ToolCall, Result)) {
	e.observe = fn
}

func (e *Executor) Registry() *Registry { return e.registry }

func (e *Executor) Execute(ctx context.Context, call conversation.ToolCall) (res Result) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = ErrorResult(panicError{value: p})
		}
		res.Elapsed = time.Since(start)
		if res.Err != nil {
			e.logger.Warn("tool call failed", slog.String("tool", call.Name), slog.String("call_id", call.ID), slogError(res.Err))
		} else {
			e.logger.Info("tool call completed", slog.String("tool", call.Name), slog.Duration("elapsed", res.Elapsed))
		}
		if e.observe != nil {
			e.observe(call, res)
		}
	}()

	tool, err := e.registry.Get(call.Name)
	if err != nil {
		return ErrorResult(err)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	out, err := tool.Call(ctx, call.Arguments)
	if err != nil {
		return ErrorResult(err)
	}
	return Result{CallID: call.ID, Name: call.Name, Content: out}
}

// ExecuteAll runs calls sequentially in request order. A failed call does not stop the rest.
func (e *Executor) ExecuteAll(ctx context.Context, calls []conversation.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, e.Execute(ctx, call))
	}
	return results
}

type panicError struct{ value any }

func (p panicError) Error() string { return "tool panicked: " + slogValue(p.value) }

func slogValue(v any) string { return slog.AnyValue(v).String() }

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
