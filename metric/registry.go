package metric

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/timemerge/errors"
)

// Registry manages the registration and lifecycle of metrics. Components
// register their collectors under a (component, metric) key so duplicate
// registrations fail loudly instead of silently double counting.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewRegistry creates a registry pre-populated with the platform metrics and
// Go runtime collectors.
func NewRegistry() *Registry {
	promRegistry := prometheus.NewRegistry()

	r := &Registry{
		prometheusRegistry: promRegistry,
		Metrics:            NewMetrics(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	promRegistry.MustRegister(
		r.Metrics.IngestReceived,
		r.Metrics.IngestRejected,
		r.Metrics.NATSConnected,
		r.Metrics.NATSReconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register registers a collector under component.metric. Registering the
// same key twice is an invalid-class error.
func (r *Registry) Register(component, metric string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metric)
	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered", key),
			"Registry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(c); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "Registry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", key))
		}
		return errors.WrapFatal(err, "Registry", "Register", "register with prometheus")
	}

	r.registeredMetrics[key] = c
	return nil
}

// Unregister removes a collector. It reports whether the key was known.
func (r *Registry) Unregister(component, metric string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", component, metric)
	c, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}
	r.prometheusRegistry.Unregister(c)
	delete(r.registeredMetrics, key)
	return true
}

// Handler returns an HTTP handler exposing the registry in the Prometheus
// text format, for mounting at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prometheusRegistry, promhttp.HandlerOpts{})
}
