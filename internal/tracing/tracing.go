// Package tracing wires Fern's spans into the OpenTelemetry SDK; the agent
// loop's per-turn span is the one call site. When no OTLP endpoint is
// configured, Shutdown-safe no-op tracing is used instead so the rest of
// the system never has to special-case "tracing disabled".
package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Recorder is the span-emitting handle the agent loop takes instead of a
// raw otel.Tracer, so its call site stays free of exporter details. The
// archival observer, scheduler and sub-agent executor do not take one.
type Recorder struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider // nil when running no-op
}

// New builds a Recorder. With an empty endpoint it returns a Recorder over
// otel's global no-op tracer; otherwise it starts an SDK TracerProvider
// exporting via OTLP/gRPC ("grpc://host:port") or OTLP/HTTP (anything
// else) and registers it as the global provider.
func New(ctx context.Context, serviceName, endpoint string) (*Recorder, error) {
	if endpoint == "" {
		return &Recorder{tracer: otel.Tracer(serviceName)}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	if strings.HasPrefix(endpoint, "grpc://") {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(strings.TrimPrefix(endpoint, "grpc://")), otlptracegrpc.WithInsecure())
	} else {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Recorder{tracer: tp.Tracer(serviceName), provider: tp}, nil
}

// Shutdown flushes and stops the exporter. Safe to call on a no-op Recorder.
func (r *Recorder) Shutdown(ctx context.Context) error {
	if r.provider == nil {
		return nil
	}
	return r.provider.Shutdown(ctx)
}

// StartSpan begins a span of the given kind ("llm_call", "tool_call",
// "archival_run", "scheduler_dispatch", "subagent_run") with the supplied
// attributes, returning a context carrying it and a func to end it.
func (r *Recorder) StartSpan(ctx context.Context, kind, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	spanCtx, span := r.tracer.Start(ctx, name, trace.WithAttributes(append([]attribute.KeyValue{attribute.String("fern.span_kind", kind)}, attrs...)...))
	start := time.Now()
	return spanCtx, func(err error) {
		span.SetAttributes(attribute.Int64("fern.duration_ms", time.Since(start).Milliseconds()))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}
