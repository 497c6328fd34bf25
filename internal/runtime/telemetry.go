package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// telemetry owns the process-wide trace and meter providers.
type telemetry struct {
	tracer  *sdktrace.TracerProvider
	meter   *sdkmetric.MeterProvider
	metrics http.Handler
}

// setupTelemetry installs global providers. Spans go to OTLP when an endpoint is set, to
// stderr when traces are enabled, and nowhere otherwise. Metrics are always served for
// Prometheus scraping.
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.RuntimeName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry resource: %w", err)
	}

	t := &telemetry{}
	if err := t.startTracing(ctx, cfg.Telemetry, res, logger); err != nil {
		return nil, nil, err
	}
	if err := t.startMetrics(res); err != nil {
		_ = t.tracer.Shutdown(ctx)
		return nil, nil, err
	}
	otel.SetTracerProvider(t.tracer)
	otel.SetMeterProvider(t.meter)
	return t.shutdown, t.metrics, nil
}

func (t *telemetry) startTracing(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, logger *slog.Logger) error {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	exporter, name, err := spanExporter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("trace exporter: %w", err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Info("tracing enabled", slog.String("exporter", name))
	}
	t.tracer = sdktrace.NewTracerProvider(opts...)
	return nil
}

func spanExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		return exp, "otlp", err
	}
	if !cfg.TracesEnabled {
		return nil, "", nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	return exp, "stderr", err
}

// startMetrics uses a private registry so repeated runtimes in one process do not collide.
func (t *telemetry) startMetrics(res *resource.Resource) error {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("prometheus exporter: %w", err)
	}
	t.meter = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter), sdkmetric.WithResource(res))
	t.metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return nil
}

func (t *telemetry) shutdown(ctx context.Context) error {
	return errors.Join(t.meter.Shutdown(ctx), t.tracer.Shutdown(ctx))
}
