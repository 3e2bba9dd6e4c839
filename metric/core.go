package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics shared by transports and the
// harness. Engine-specific metrics live with the engine and register
// themselves against the same Registry.
type Metrics struct {
	// Ingestion metrics
	IngestReceived *prometheus.CounterVec
	IngestRejected *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		IngestReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "timemerge",
				Subsystem: "ingest",
				Name:      "received_total",
				Help:      "Total number of records received for submission",
			},
			[]string{"transport", "channel"},
		),

		IngestRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "timemerge",
				Subsystem: "ingest",
				Name:      "rejected_total",
				Help:      "Total number of records rejected before buffering",
			},
			[]string{"transport", "reason"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "timemerge",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "timemerge",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}
