// Package turn drives the wake, listen, answer loop of a voice session.
package turn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/conversation"
	"github.com/loqalabs/loqa-voice/internal/fragment"
	"github.com/loqalabs/loqa-voice/internal/llm"
	"github.com/loqalabs/loqa-voice/internal/protocol"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tools"
	"github.com/loqalabs/loqa-voice/internal/wake"
)

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeSilent    Outcome = "silent"
	OutcomeFailed    Outcome = "failed"
)

// DefaultRetryDelay is the pause after a failed turn before waiting for the wake word again.
const DefaultRetryDelay = time.Second

type Recorder interface {
	Record(ctx context.Context) (*audio.Buffer, error)
}

type Generator interface {
	Generate(ctx context.Context, conv *conversation.Context, out *fragment.Queue) (string, error)
}

type Speaker interface {
	Speak(ctx context.Context, q *fragment.Queue) error
}

// Publisher fans turn events out. Implementations must not block.
type Publisher interface {
	Publish(subject string, v any)
}

// Journal records turn events.
type Journal interface {
	Record(ctx context.Context, sessionID, turnID, eventType string, payload any)
}

// Deps are the collaborators of an Orchestrator. Bus, Journal, Metrics, Executor and Echo are
// optional.
type Deps struct {
	Wake         wake.Detector
	Recorder     Recorder
	Recognizer   stt.Recognizer
	Generator    Generator
	Speaker      Speaker
	Validator    *Validator
	Conversation *conversation.Context
	Executor     *tools.Executor
	Bus          Publisher
	Journal      Journal
	Metrics      *Metrics
	Echo         io.Writer
	SessionID    string
	RetryDelay   time.Duration
}

// Orchestrator runs turns strictly one after another against a single conversation.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	turnID   string
	genStart time.Time
	sequence int
}

func New(deps Deps, logger *slog.Logger) *Orchestrator {
	if deps.Conversation == nil {
		deps.Conversation = conversation.NewContext(conversation.DefaultLimit)
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = DefaultRetryDelay
	}
	if deps.SessionID == "" {
		deps.SessionID = uuid.NewString()
	}
	o := &Orchestrator{
		deps:   deps,
		logger: logger.With(slog.String("component", "turn"), slog.String("session_id", deps.SessionID)),
		tracer: otel.Tracer(instrumentationName),
	}
	if g, ok := deps.Generator.(interface{ SetHooks(llm.Hooks) }); ok {
		g.SetHooks(llm.Hooks{
			ToolRetry:      o.onToolRetry,
			ToolPhaseError: o.onToolPhaseError,
			Fragment:       o.onFragment,
		})
	}
	if deps.Executor != nil {
		deps.Executor.OnResult(o.onToolResult)
	}
	if s, ok := deps.Speaker.(interface{ OnHeartbeat(func()) }); ok {
		s.OnHeartbeat(func() { o.deps.Metrics.heartbeat(context.Background()) })
	}
	if s, ok := deps.Speaker.(interface{ OnFirstAudio(func(time.Duration)) }); ok {
		s.OnFirstAudio(func(d time.Duration) {
			o.logger.Debug("first audio played", slog.Duration("latency", d))
		})
	}
	return o
}

// Conversation exposes the context the orchestrator appends to.
func (o *Orchestrator) Conversation() *conversation.Context { return o.deps.Conversation }

// Run waits for the wake signal, then runs turns until one ends without an answer, and waits
// again. A failed turn is logged and the loop resumes after RetryDelay. Run returns when ctx
// ends or the wake detector fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := o.deps.Wake.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wait for wake: %w", err)
		}
		o.logger.Info("listening")

		for {
			outcome, err := o.RunTurn(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				o.logger.Error("turn failed", slogError(err))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(o.deps.RetryDelay):
				}
				break
			}
			if outcome != OutcomeCompleted {
				break
			}
		}
	}
}

// RunTurn captures one utterance and, when it passes validation, answers it. The user message
// is appended before generation starts and the assistant message once both generation and
// playback finish.
func (o *Orchestrator) RunTurn(ctx context.Context) (outcome Outcome, err error) {
	turnID := o.beginTurn()
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "turn", trace.WithAttributes(attribute.String("turn.id", turnID)))
	logger := o.logger.With(slog.String("turn_id", turnID))

	var transcript, response string
	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			outcome = OutcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.emit(ctx, turnID, protocol.SubjectTurnFailed, protocol.TurnFinished{
				SessionID:  o.deps.SessionID,
				TurnID:     turnID,
				Outcome:    string(OutcomeFailed),
				Transcript: transcript,
				Response:   response,
				Error:      err.Error(),
				DurationMS: float64(elapsed.Milliseconds()),
				Timestamp:  time.Now().UTC(),
			})
		} else if outcome == OutcomeCompleted {
			o.emit(ctx, turnID, protocol.SubjectTurnCompleted, protocol.TurnFinished{
				SessionID:  o.deps.SessionID,
				TurnID:     turnID,
				Outcome:    string(outcome),
				Transcript: transcript,
				Response:   response,
				DurationMS: float64(elapsed.Milliseconds()),
				Timestamp:  time.Now().UTC(),
			})
		}
		o.deps.Metrics.turn(context.WithoutCancel(ctx), outcome, elapsed)
		span.SetAttributes(attribute.String("turn.outcome", string(outcome)))
		span.End()
	}()

	o.emit(ctx, turnID, protocol.SubjectTurnStarted, protocol.TurnStarted{
		SessionID: o.deps.SessionID,
		TurnID:    turnID,
		Timestamp: start.UTC(),
	})

	buf, err := o.deps.Recorder.Record(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("record: %w", err)
	}
	if buf == nil {
		logger.Info("no speech detected")
		return OutcomeSilent, nil
	}

	result, err := o.transcribe(ctx, buf)
	if err != nil {
		return OutcomeFailed, err
	}
	transcript = result.Text
	logger.Info("transcribed", slog.String("text", transcript), slog.Duration("audio", buf.Duration()))

	if verdict := o.deps.Validator.Check(transcript); verdict != Accepted {
		logger.Warn("transcript rejected, returning to idle",
			slog.String("text", transcript),
			slog.String("reason", verdict.String()))
		o.emit(ctx, turnID, protocol.SubjectTranscriptRejected, protocol.Transcript{
			SessionID:  o.deps.SessionID,
			TurnID:     turnID,
			Text:       transcript,
			Confidence: result.Confidence,
			Reason:     verdict.String(),
			Timestamp:  time.Now().UTC(),
		})
		return OutcomeRejected, nil
	}
	o.emit(ctx, turnID, protocol.SubjectTranscriptFinal, protocol.Transcript{
		SessionID:  o.deps.SessionID,
		TurnID:     turnID,
		Text:       transcript,
		Confidence: result.Confidence,
		Timestamp:  time.Now().UTC(),
	})

	o.deps.Conversation.Append(conversation.Message{Role: conversation.RoleUser, Content: transcript})

	response, err = o.answer(ctx)
	if err != nil {
		return OutcomeFailed, err
	}
	o.deps.Conversation.Append(conversation.Message{Role: conversation.RoleAssistant, Content: response})
	if o.deps.Echo != nil {
		fmt.Fprintln(o.deps.Echo)
	}
	logger.Info("turn completed", slog.Duration("elapsed", time.Since(start)))
	return OutcomeCompleted, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, buf *audio.Buffer) (stt.TranscriptResult, error) {
	ctx, span := o.tracer.Start(ctx, "transcribe")
	defer span.End()
	result, err := o.deps.Recognizer.Transcribe(ctx, buf)
	if err != nil {
		span.RecordError(err)
		return stt.TranscriptResult{}, fmt.Errorf("transcribe: %w", err)
	}
	return result, nil
}

// answer runs generation and synthesis concurrently, joined by a fresh fragment queue.
func (o *Orchestrator) answer(ctx context.Context) (string, error) {
	ctx, span := o.tracer.Start(ctx, "answer")
	defer span.End()

	o.mu.Lock()
	o.genStart = time.Now()
	o.mu.Unlock()

	q := fragment.NewQueue()
	genCtx, cancelGen := context.WithCancel(ctx)
	defer cancelGen()

	var (
		g        errgroup.Group
		response string
	)
	g.Go(func() error {
		text, err := o.deps.Generator.Generate(genCtx, o.deps.Conversation, q)
		response = text
		return err
	})
	g.Go(func() error {
		if err := o.deps.Speaker.Speak(ctx, q); err != nil {
			cancelGen()
			return fmt.Errorf("speak: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return response, err
	}
	return response, nil
}

func (o *Orchestrator) beginTurn() string {
	id := uuid.NewString()
	o.mu.Lock()
	o.turnID = id
	o.sequence = 0
	o.mu.Unlock()
	return id
}

func (o *Orchestrator) currentTurn() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnID
}

func (o *Orchestrator) emit(ctx context.Context, turnID, subject string, payload any) {
	if o.deps.Bus != nil {
		o.deps.Bus.Publish(subject, payload)
	}
	if o.deps.Journal != nil {
		o.deps.Journal.Record(context.WithoutCancel(ctx), o.deps.SessionID, turnID, subject, payload)
	}
}

func (o *Orchestrator) onFragment(text string) {
	o.mu.Lock()
	turnID := o.turnID
	seq := o.sequence
	o.sequence++
	started := o.genStart
	o.mu.Unlock()

	if seq == 0 {
		o.deps.Metrics.fragmentLatency(context.Background(), time.Since(started))
	}
	if o.deps.Echo != nil && text != "" {
		io.WriteString(o.deps.Echo, text)
	}
	if o.deps.Bus != nil {
		o.deps.Bus.Publish(protocol.SubjectLLMFragment, protocol.Fragment{
			SessionID: o.deps.SessionID,
			TurnID:    turnID,
			Sequence:  seq,
			Text:      text,
		})
	}
}

func (o *Orchestrator) onToolRetry(attempt int, temperature float64, err error) {
	o.deps.Metrics.toolRetry(context.Background())
}

func (o *Orchestrator) onToolPhaseError(err error) {
	o.deps.Metrics.toolCall(context.Background(), tools.ErrorResultName, true)
}

func (o *Orchestrator) onToolResult(call conversation.ToolCall, res tools.Result) {
	turnID := o.currentTurn()
	ctx := context.Background()
	o.deps.Metrics.toolCall(ctx, call.Name, res.Err != nil)
	o.emit(ctx, turnID, protocol.SubjectToolCall, protocol.ToolCall{
		SessionID: o.deps.SessionID,
		TurnID:    turnID,
		CallID:    call.ID,
		Name:      call.Name,
		Arguments: string(call.Arguments),
	})
	evt := protocol.ToolResult{
		SessionID: o.deps.SessionID,
		TurnID:    turnID,
		CallID:    res.CallID,
		Name:      res.Name,
		Content:   res.Content,
		ElapsedMS: float64(res.Elapsed.Microseconds()) / 1000,
	}
	if res.Err != nil {
		evt.Error = res.Err.Error()
	}
	o.emit(ctx, turnID, protocol.SubjectToolResult, evt)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
