// Package telemetry initializes OpenTelemetry tracing and metrics exporters
// and carries the dispatch pipeline's instruments.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown combines multiple shutdown functions.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer and meter providers.
// If endpoint is empty, OTEL is disabled and no-op providers are used.
// Returns a shutdown function that must be called during graceful shutdown.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// W3C Trace Context and Baggage propagators, so trace context carries
	// through outgoing calls (model gateway, embedding API).
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// PipelineMetrics holds the dispatch pipeline's instruments. Instruments
// from the no-op meter record nothing, so callers never nil-check.
type PipelineMetrics struct {
	QueriesTotal   metric.Int64Counter
	QueryDuration  metric.Float64Histogram
	ToolExecutions metric.Int64Counter
	ModelRetries   metric.Int64Counter
	RateLimited    metric.Int64Counter
}

// NewPipelineMetrics registers the pipeline instruments on the global meter.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	m := Meter("dispatch/coordinator")

	queries, err := m.Int64Counter("dispatch.queries.total",
		metric.WithDescription("Queries dispatched, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: queries counter: %w", err)
	}
	duration, err := m.Float64Histogram("dispatch.query.duration",
		metric.WithDescription("End-to-end query latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: duration histogram: %w", err)
	}
	tools, err := m.Int64Counter("dispatch.tool.executions",
		metric.WithDescription("Tool executions, by tool and status"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: tool counter: %w", err)
	}
	retries, err := m.Int64Counter("dispatch.model.retries",
		metric.WithDescription("Model call retry attempts"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: retry counter: %w", err)
	}
	limited, err := m.Int64Counter("dispatch.ratelimited.total",
		metric.WithDescription("Queries refused by the per-user rate limit"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: ratelimit counter: %w", err)
	}

	return &PipelineMetrics{
		QueriesTotal:   queries,
		QueryDuration:  duration,
		ToolExecutions: tools,
		ModelRetries:   retries,
		RateLimited:    limited,
	}, nil
}
