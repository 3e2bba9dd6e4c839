// Package health provides thread-safe health status tracking and
// aggregation for the merging engine and its transports.
package health

import (
	"time"

	"github.com/c360/timemerge/component"
	"github.com/c360/timemerge/engine"
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	RecordsSubmitted  uint64        `json:"records_submitted,omitempty"`
	RecordsEmitted    uint64        `json:"records_emitted,omitempty"`
	BufferedRecords   int           `json:"buffered_records,omitempty"`
	ActiveSpillFiles  int           `json:"active_spill_files,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == "healthy" }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == "degraded" }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == "unhealthy" }

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FromComponentHealth converts a component.HealthStatus to a health.Status
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	status := NewUnhealthy(name, ch.LastError)
	if ch.Healthy {
		status = NewHealthy(name, "component healthy")
	}
	status.Metrics = &Metrics{
		Uptime:       ch.Uptime,
		ErrorCount:   ch.ErrorCount,
		LastActivity: ch.LastCheck,
	}
	return status
}

// FromEngineStats derives the engine's health from a stats snapshot. A
// degraded engine is holding an unpersisted spill batch and refusing new
// records; that is degraded rather than unhealthy because merged output
// already emitted remains valid and readable.
func FromEngineStats(name string, st engine.Stats) Status {
	var status Status
	if st.Degraded {
		status = NewDegraded(name, "spill write failed, awaiting recovery")
	} else {
		status = NewHealthy(name, "engine accepting records")
	}
	status.Metrics = &Metrics{
		RecordsSubmitted: st.Submitted,
		RecordsEmitted:   st.Emitted,
		BufferedRecords:  st.BufferLen,
		ActiveSpillFiles: st.ActiveSpillFiles,
	}
	return status
}

// Aggregate combines sub-statuses into one status. Any unhealthy
// sub-component makes the aggregate unhealthy; otherwise any degraded
// sub-component makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "no sub-components to aggregate")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(component, "one or more sub-components are unhealthy")
	case hasDegraded:
		status = NewDegraded(component, "one or more sub-components are degraded")
	default:
		status = NewHealthy(component, "all sub-components are healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
