// Package observability renders a completed Trace as OpenTelemetry spans
// (dev-mode call-graph visualization, stdout exporter) and records
// per-scope call-duration metrics, a second channel of observability
// alongside the proxy's Prometheus endpoint.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/avrorpc/avrorpc/pkg/avro"
)

// NewStdoutTracerProvider builds a TracerProvider whose exported spans
// are rendered as indented JSON, for local inspection of a Trace's call
// graph without a collector.
func NewStdoutTracerProvider(opts ...stdouttrace.Option) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: build stdout span exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), nil
}

// ExportTrace walks t's call tree and emits one span per Call via
// tracer, nesting spans to mirror DownstreamCalls and backdating each
// span's start/end to the Call's recorded RequestTime/ResponseTime.
func ExportTrace(ctx context.Context, tracer trace.Tracer, t *avro.Trace) {
	for _, c := range t.Calls {
		exportCall(ctx, tracer, c)
	}
}

func exportCall(ctx context.Context, tracer trace.Tracer, c avro.Call) {
	spanCtx, span := tracer.Start(ctx, c.Name, trace.WithTimestamp(c.RequestTime))
	span.SetAttributes(
		attribute.String("avrorpc.call.state", string(c.State)),
	)

	for _, child := range c.DownstreamCalls {
		exportCall(spanCtx, tracer, child)
	}

	if c.ResponseTime != nil {
		span.End(trace.WithTimestamp(*c.ResponseTime))
	} else {
		span.End()
	}
}
