package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/timemerge/metric"
	"github.com/c360/timemerge/record"
)

// engineMetrics holds Prometheus metrics for the merge engine.
type engineMetrics struct {
	submitted *prometheus.CounterVec // by channel
	rejected  *prometheus.CounterVec // by channel

	bufferSize  prometheus.Gauge
	watermark   prometheus.Gauge
	spills      prometheus.Counter
	spilledRecs prometheus.Counter
	activeFiles prometheus.Gauge
	degraded    prometheus.Gauge

	passes       *prometheus.CounterVec // by status (success/failure)
	emitted      prometheus.Counter
	passDuration prometheus.Histogram
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.Registry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "submitted_total",
			Help:      "Total number of records accepted into the buffer",
		}, []string{"channel"}),

		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "rejected_total",
			Help:      "Total number of submissions rejected as out of order",
		}, []string{"channel"}),

		bufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "buffer_records",
			Help:      "Current number of records in the in-memory buffer",
		}),

		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "watermark",
			Help:      "Current global watermark (minimum latest timestamp across channels)",
		}),

		spills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "spills_total",
			Help:      "Total number of buffer drains written to spill files",
		}),

		spilledRecs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "spilled_records_total",
			Help:      "Total number of records written to spill files",
		}),

		activeFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "active_spill_files",
			Help:      "Current number of live spill files",
		}),

		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "degraded",
			Help:      "Whether the engine is degraded after a spill write failure (0/1)",
		}),

		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "merge_passes_total",
			Help:      "Total number of merge passes",
		}, []string{"status"}), // status: success, failure

		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "emitted_total",
			Help:      "Total number of records emitted to the output sink",
		}),

		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "timemerge",
			Subsystem: "engine",
			Name:      "merge_pass_duration_seconds",
			Help:      "Merge pass duration in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"submitted":           m.submitted,
		"rejected":            m.rejected,
		"buffer_records":      m.bufferSize,
		"watermark":           m.watermark,
		"spills":              m.spills,
		"spilled_records":     m.spilledRecs,
		"active_spill_files":  m.activeFiles,
		"degraded":            m.degraded,
		"merge_passes":        m.passes,
		"emitted":             m.emitted,
		"merge_pass_duration": m.passDuration,
	} {
		if err := registry.Register("engine", name, c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *engineMetrics) recordSubmitted(channel string, bufLen int, wm record.Timestamp, wmOK bool) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(channel).Inc()
	m.bufferSize.Set(float64(bufLen))
	if wmOK {
		m.watermark.Set(float64(wm))
	}
}

func (m *engineMetrics) recordRejected(channel string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(channel).Inc()
}

func (m *engineMetrics) recordSpill(records, activeFiles int) {
	if m == nil {
		return
	}
	m.spills.Inc()
	m.spilledRecs.Add(float64(records))
	m.activeFiles.Set(float64(activeFiles))
}

func (m *engineMetrics) setActiveFiles(n int) {
	if m == nil {
		return
	}
	m.activeFiles.Set(float64(n))
}

func (m *engineMetrics) setDegraded(v bool) {
	if m == nil {
		return
	}
	if v {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}

func (m *engineMetrics) recordPass(emitted int, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.passes.WithLabelValues(status).Inc()
	m.emitted.Add(float64(emitted))
	m.passDuration.Observe(duration.Seconds())
}
