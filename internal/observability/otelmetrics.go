package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/avrorpc/avrorpc/internal/middleware"
	"github.com/avrorpc/avrorpc/internal/rpc"
)

// NewStdoutMeterProvider builds a MeterProvider that prints each
// collection cycle's metrics as JSON, for dev-mode inspection without a
// collector.
func NewStdoutMeterProvider(interval time.Duration) (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("observability: build stdout metric exporter: %w", err)
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}

// ScopeDurationRecorder records one call-duration histogram, labeled by
// scope, message, and whether the call errored.
type ScopeDurationRecorder struct {
	hist metric.Float64Histogram
}

// NewScopeDurationRecorder builds a recorder backed by meter.
func NewScopeDurationRecorder(meter metric.Meter) (*ScopeDurationRecorder, error) {
	hist, err := meter.Float64Histogram("avrorpc.call.duration",
		metric.WithUnit("s"),
		metric.WithDescription("server-side call handling duration, by scope and message"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: build duration histogram: %w", err)
	}
	return &ScopeDurationRecorder{hist: hist}, nil
}

// Middleware returns a Server handler that times the forward-to-reverse
// round trip of every call and records it against this recorder's
// histogram, regardless of which proxy wire mode carried the call.
func (r *ScopeDurationRecorder) Middleware() middleware.Handler[*rpc.WrappedRequest, *rpc.WrappedResponse] {
	return func(req *rpc.WrappedRequest, resp *rpc.WrappedResponse, next middleware.NextFunc) {
		start := time.Now()
		next(nil, func(err error, prev middleware.PrevFunc) {
			scope := ""
			if req.Ctx != nil && req.Ctx.Channel != nil {
				scope = req.Ctx.Channel.Scope()
			}
			r.hist.Record(context.Background(), time.Since(start).Seconds(), metric.WithAttributes(
				attribute.String("scope", scope),
				attribute.String("message", req.Message.Name()),
				attribute.Bool("error", err != nil),
			))
			prev(err)
		})
	}
}
