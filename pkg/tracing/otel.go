// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "wflow"

// OTelConfig configures the OTLP/HTTP exporter's target and certificate policy.
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer initializes the global TracerProvider; the caller is responsible
// for shutting down the returned provider before process exit.
func InitTracer(ctx context.Context, config OTelConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartScheduleSpan wraps the reducer-facing half of ScheduleJob/CancelJob commands.
func StartScheduleSpan(ctx context.Context, partitionID int64, jobID string) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "partition.schedule_job",
		trace.WithAttributes(
			attribute.Int64("partition.id", partitionID),
			attribute.String("job.id", jobID),
		),
	)
}

// StartReduceSpan wraps one reduce-and-persist-effects step of the partition worker loop.
func StartReduceSpan(ctx context.Context, partitionID int64, entryID uint64) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "partition.reduce_entry",
		trace.WithAttributes(
			attribute.Int64("partition.id", partitionID),
			attribute.Int64("entry.id", int64(entryID)),
		),
	)
}

// StartRunSpan wraps a single effect worker Host.Run dispatch.
func StartRunSpan(ctx context.Context, jobID string, runID uint64) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "effectworker.run_job",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.Int64("run.id", int64(runID)),
		),
	)
}
