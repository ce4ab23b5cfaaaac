// Package observer provides OTEL-based observability for flume workflow runs.
//
// It implements the engine's Tracer and Metrics contracts on top of
// OpenTelemetry, so runs, steps, and node phases show up in any
// OTEL-compatible backend. Users export by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	flumelog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/flume/observer"

// Instruments holds all OTEL instruments used by the engine adapters.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger flumelog.Logger

	// Counters
	Steps          metric.Int64Counter
	NodeExecutions metric.Int64Counter
	RetryAttempts  metric.Int64Counter
	InputRequests  metric.Int64Counter

	// Histograms
	StepDuration metric.Float64Histogram
	NodeDuration metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("flume")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	steps, err := meter.Int64Counter("workflow.steps",
		metric.WithDescription("Completed engine steps"),
		metric.WithUnit("{step}"))
	if err != nil {
		return nil, err
	}

	nodeExecutions, err := meter.Int64Counter("workflow.node.executions",
		metric.WithDescription("Nodes reaching a terminal status"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}

	retryAttempts, err := meter.Int64Counter("workflow.node.retries",
		metric.WithDescription("Retries of node execute phases"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, err
	}

	inputRequests, err := meter.Int64Counter("workflow.input.requests",
		metric.WithDescription("Suspensions waiting for external input"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram("workflow.step.duration",
		metric.WithDescription("Engine step duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	nodeDuration, err := meter.Float64Histogram("workflow.node.duration",
		metric.WithDescription("Node lifecycle duration across all phases"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:         tracer,
		Meter:          meter,
		Logger:         logger,
		Steps:          steps,
		NodeExecutions: nodeExecutions,
		RetryAttempts:  retryAttempts,
		InputRequests:  inputRequests,
		StepDuration:   stepDuration,
		NodeDuration:   nodeDuration,
	}, nil
}
