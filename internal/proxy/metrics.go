package proxy

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation a Proxy records against,
// mirroring the admission/dispatch counters a Server's own middleware
// tracks, but keyed by wire mode rather than message name: connects,
// upgrades, and POSTs all land on the same socket-facing front door.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveTunnels   prometheus.Gauge
}

// NewMetrics builds and registers a Metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "avrorpc",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Total proxy requests by wire mode, scope, and outcome.",
			},
			[]string{"mode", "scope", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "avrorpc",
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "POST request duration in seconds. Tunnel/WebSocket connections are long-lived and excluded.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scope", "content_type"},
		),
		ActiveTunnels: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "avrorpc",
				Subsystem: "proxy",
				Name:      "active_tunnels",
				Help:      "Number of currently open CONNECT/WebSocket tunnels.",
			},
		),
	}
}

// record increments RequestsTotal for one completed request. m may be
// nil, in which case recording is a no-op, so handlers don't need a nil
// check at every call site.
func (m *Metrics) record(mode, scope, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(mode, scope, status).Inc()
}

// Handler returns a Prometheus scrape endpoint for the default registry
// (promhttp.Handler); collectors registered with any other registry are
// not exposed by it. Mount
// it at a path of the caller's choosing, distinct from the Proxy itself
// (the Proxy's own ServeHTTP has no path routing of its own for POST/
// CONNECT/WebSocket, so /metrics is ordinarily served by a sibling
// ServeMux entry rather than by the Proxy).
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
