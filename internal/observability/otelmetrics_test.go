package observability

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/avrorpc/avrorpc/internal/middleware"
	"github.com/avrorpc/avrorpc/internal/protocol"
	"github.com/avrorpc/avrorpc/internal/rpc"
)

func TestScopeDurationRecorderRecordsOneSample(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder, err := NewScopeDurationRecorder(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewScopeDurationRecorder: %v", err)
	}

	msg := protocol.NewMessage("negate", false, nil, nil, nil)
	pipeline := middleware.New[*rpc.WrappedRequest, *rpc.WrappedResponse, any](nil)
	pipeline.Use(recorder.Middleware())

	req := &rpc.WrappedRequest{Message: msg}
	resp := &rpc.WrappedResponse{}

	if err := pipeline.Run(req, resp, func(req *rpc.WrappedRequest, resp *rpc.WrappedResponse, finish func(error)) {
		finish(nil)
	}); err != nil {
		t.Fatalf("pipeline run: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "avrorpc.call.duration" {
				found = true
				hist, ok := m.Data.(metricdata.Histogram[float64])
				if !ok {
					t.Fatalf("unexpected data point type %T", m.Data)
				}
				if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
					t.Fatalf("got data points %#v, want exactly one sample", hist.DataPoints)
				}
			}
		}
	}
	if !found {
		t.Fatal("avrorpc.call.duration histogram not recorded")
	}
}
