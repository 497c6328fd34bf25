package turn

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-voice/turn"

// Metrics records turn instruments. A nil *Metrics records nothing.
type Metrics struct {
	turns         metric.Int64Counter
	toolCalls     metric.Int64Counter
	toolRetries   metric.Int64Counter
	heartbeats    metric.Int64Counter
	turnDuration  metric.Float64Histogram
	firstFragment metric.Float64Histogram
}

func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(instrumentationName)
	m := &Metrics{}
	var err error
	if m.turns, err = meter.Int64Counter("loqa.turns", metric.WithDescription("Turns by outcome")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("loqa.tool.calls", metric.WithDescription("Tool invocations")); err != nil {
		return nil, err
	}
	if m.toolRetries, err = meter.Int64Counter("loqa.tool.retries", metric.WithDescription("Tool phase retries after malformed calls")); err != nil {
		return nil, err
	}
	if m.heartbeats, err = meter.Int64Counter("loqa.synthesis.heartbeats", metric.WithDescription("Empty inputs sent to keep synthesis alive")); err != nil {
		return nil, err
	}
	if m.turnDuration, err = meter.Float64Histogram("loqa.turn.duration", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.firstFragment, err = meter.Float64Histogram("loqa.llm.first_fragment", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) turn(ctx context.Context, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	m.turns.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) toolCall(ctx context.Context, name string, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", name), attribute.String("status", status)))
}

func (m *Metrics) toolRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.toolRetries.Add(ctx, 1)
}

func (m *Metrics) heartbeat(ctx context.Context) {
	if m == nil {
		return
	}
	m.heartbeats.Add(ctx, 1)
}

func (m *Metrics) fragmentLatency(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.firstFragment.Record(ctx, d.Seconds())
}
