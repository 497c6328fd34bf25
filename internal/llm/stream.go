package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/conversation"
	"github.com/loqalabs/loqa-voice/internal/fragment"
	"github.com/loqalabs/loqa-voice/internal/tools"
)

// Options are the sampling parameters of the two phases of a generation.
type Options struct {
	System              string
	ToolTemperature     float64
	ToolTemperatureStep float64
	ToolTemperatureMin  float64
	ToolAttempts        int
	Temperature         float64
	TopP                float64
	MaxTokens           int
}

func OptionsFromConfig(cfg config.LLMConfig, system string) Options {
	return Options{
		System:              system,
		ToolTemperature:     cfg.ToolTemperature,
		ToolTemperatureStep: cfg.ToolTemperatureStep,
		ToolTemperatureMin:  cfg.ToolTemperatureMin,
		ToolAttempts:        cfg.ToolAttempts,
		Temperature:         cfg.Temperature,
		TopP:                cfg.TopP,
		MaxTokens:           cfg.MaxTokens,
	}
}

// ToolTemperatures returns the temperature used by each tool phase attempt: start, lowered by
// step per attempt, never below floor.
func ToolTemperatures(start, step, floor float64, attempts int) []float64 {
	temps := make([]float64, 0, attempts)
	for i := 0; i < attempts; i++ {
		t := math.Round((start-step*float64(i))*100) / 100
		temps = append(temps, math.Max(t, floor))
	}
	return temps
}

// Hooks observe a generation. Any field may be nil.
type Hooks struct {
	ToolRetry      func(attempt int, temperature float64, err error)
	ToolPhaseError func(err error)
	Fragment       func(text string)
}

// Generator runs the tool phase and the streamed final phase of a turn.
type Generator struct {
	backend  Backend
	executor *tools.Executor
	opts     Options
	hooks    Hooks
	logger   *slog.Logger
}

func NewGenerator(backend Backend, executor *tools.Executor, opts Options, logger *slog.Logger) *Generator {
	if opts.ToolAttempts <= 0 {
		opts.ToolAttempts = 1
	}
	return &Generator{
		backend:  backend,
		executor: executor,
		opts:     opts,
		logger:   logger.With(slog.String("component", "llm-generator")),
	}
}

func (g *Generator) SetHooks(h Hooks) { g.hooks = h }

// Generate answers the conversation, pushing the final answer onto out as it streams. Tool
// results are appended to conv before the final phase. The terminal sentinel is pushed onto
// out on every return path.
func (g *Generator) Generate(ctx context.Context, conv *conversation.Context, out *fragment.Queue) (string, error) {
	defer out.Finish()

	if g.executor != nil && g.executor.Registry().Len() > 0 {
		g.toolPhase(ctx, conv)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.finalPhase(ctx, conv, out)
}

func (g *Generator) toolPhase(ctx context.Context, conv *conversation.Context) {
	temps := ToolTemperatures(g.opts.ToolTemperature, g.opts.ToolTemperatureStep, g.opts.ToolTemperatureMin, g.opts.ToolAttempts)
	defs := g.executor.Registry().Definitions()

	var (
		completion Completion
		err        error
	)
	for attempt, temp := range temps {
		completion, err = g.backend.Complete(ctx, Request{
			System:      g.opts.System,
			Messages:    conv.Messages(),
			Tools:       defs,
			ToolChoice:  "auto",
			Temperature: temp,
			TopP:        g.opts.TopP,
			MaxTokens:   g.opts.MaxTokens,
		})
		if err == nil {
			break
		}
		if !IsClientError(err) || ctx.Err() != nil || attempt == len(temps)-1 {
			break
		}
		g.logger.Warn("tool call generation rejected, retrying",
			slog.Int("attempt", attempt+1),
			slog.Float64("temperature", temp),
			slogError(err))
		if g.hooks.ToolRetry != nil {
			g.hooks.ToolRetry(attempt+1, temp, err)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		g.logger.Warn("tool phase failed, continuing without tools", slogError(err))
		if g.hooks.ToolPhaseError != nil {
			g.hooks.ToolPhaseError(err)
		}
		conv.Append(tools.ErrorResult(err).Message())
		return
	}
	if len(completion.ToolCalls) == 0 {
		return
	}

	conv.Append(conversation.Message{
		Role:      conversation.RoleAssistant,
		Content:   completion.Content,
		ToolCalls: completion.ToolCalls,
	})
	for _, res := range g.executor.ExecuteAll(ctx, completion.ToolCalls) {
		conv.Append(res.Message())
	}
}

func (g *Generator) finalPhase(ctx context.Context, conv *conversation.Context, out *fragment.Queue) (string, error) {
	var text strings.Builder
	err := g.backend.Stream(ctx, Request{
		System:      g.opts.System,
		Messages:    conv.Messages(),
		Temperature: g.opts.Temperature,
		TopP:        g.opts.TopP,
		MaxTokens:   g.opts.MaxTokens,
	}, func(d Delta) error {
		out.Push(d.Content)
		text.WriteString(d.Content)
		if g.hooks.Fragment != nil {
			g.hooks.Fragment(d.Content)
		}
		return nil
	})
	if err != nil {
		return text.String(), fmt.Errorf("final generation: %w", err)
	}
	return text.String(), nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
