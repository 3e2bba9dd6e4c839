package natsclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/timemerge/metric"
)

// clientMetrics instruments the client against the platform registry. A nil
// receiver is valid and makes every method a no-op, so the client works
// without a registry.
type clientMetrics struct {
	connected  prometheus.Gauge
	reconnects prometheus.Counter
	published  *prometheus.CounterVec
}

func newClientMetrics(registry *metric.Registry) (*clientMetrics, error) {
	published := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timemerge",
			Subsystem: "nats",
			Name:      "published_total",
			Help:      "Total number of messages published, by subject",
		},
		[]string{"subject"},
	)
	if err := registry.Register("natsclient", "published_total", published); err != nil {
		return nil, err
	}

	return &clientMetrics{
		connected:  registry.Metrics.NATSConnected,
		reconnects: registry.Metrics.NATSReconnects,
		published:  published,
	}, nil
}

func (m *clientMetrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *clientMetrics) recordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *clientMetrics) recordPublished(subject string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(subject).Inc()
}
