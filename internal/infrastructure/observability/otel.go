package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the pipeline and dispatcher metrics.
type Metrics struct {
	RunCount        metric.Int64Counter
	RunDuration     metric.Float64Histogram
	StageDuration   metric.Float64Histogram
	StonesDetected  metric.Int64Histogram
	NudgeDispatched metric.Int64Counter
	NudgeBlocked    metric.Int64Counter
}

// Setup initializes OpenTelemetry trace and metric export over OTLP/gRPC.
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
		return meterProvider.Shutdown(ctx)
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/klenai/stonecare")

	runCount, err := meter.Int64Counter(
		"workflow.run.count",
		metric.WithDescription("Number of workflow runs started"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"workflow.run.duration",
		metric.WithDescription("Full workflow run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stageDuration, err := meter.Float64Histogram(
		"workflow.stage.duration",
		metric.WithDescription("Per-stage duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stonesDetected, err := meter.Int64Histogram(
		"workflow.stones.detected",
		metric.WithDescription("Stones detected per run"),
	)
	if err != nil {
		return nil, err
	}

	nudgeDispatched, err := meter.Int64Counter(
		"nudge.dispatch.count",
		metric.WithDescription("Nudge dispatch attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	nudgeBlocked, err := meter.Int64Counter(
		"nudge.blocked.count",
		metric.WithDescription("Nudges released back to the queue by gate"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RunCount:        runCount,
		RunDuration:     runDuration,
		StageDuration:   stageDuration,
		StonesDetected:  stonesDetected,
		NudgeDispatched: nudgeDispatched,
		NudgeBlocked:    nudgeBlocked,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer("github.com/klenai/stonecare")
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// RecordRunMetric records one completed workflow run.
func RecordRunMetric(ctx context.Context, metrics *Metrics, entryPoint string, stones int, duration time.Duration, err error) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("workflow.entry_point", entryPoint),
		attribute.Bool("workflow.error", err != nil),
	}
	metrics.RunCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RunDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err == nil {
		metrics.StonesDetected.Record(ctx, int64(stones), metric.WithAttributes(attrs...))
	}
}

// RecordStageMetric records the duration of one workflow stage.
func RecordStageMetric(ctx context.Context, metrics *Metrics, stage string, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.StageDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("workflow.stage", stage)))
}

// RecordDispatchMetric records one nudge dispatch attempt by terminal status.
func RecordDispatchMetric(ctx context.Context, metrics *Metrics, status string) {
	if metrics == nil {
		return
	}
	metrics.NudgeDispatched.Add(ctx, 1,
		metric.WithAttributes(attribute.String("nudge.status", status)))
}

// RecordDispatchBlocked records a nudge released back to the queue.
func RecordDispatchBlocked(ctx context.Context, metrics *Metrics, gate string) {
	if metrics == nil {
		return
	}
	metrics.NudgeBlocked.Add(ctx, 1,
		metric.WithAttributes(attribute.String("nudge.gate", gate)))
}
