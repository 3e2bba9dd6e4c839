// Package component defines the lifecycle contract shared by the merging
// engine's transports and the serving harness that manages them.
package component

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/timemerge/metric"
	"github.com/c360/timemerge/natsclient"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "output", "engine"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// Component is the minimal surface every managed component exposes.
type Component interface {
	Meta() Metadata
	Health() HealthStatus
}

// LifecycleComponent defines components that support full lifecycle
// management:
//   - Initialize() error                  // Setup/create only, NO context
//   - Start(ctx context.Context) error    // Start with context passed through
//   - Stop(timeout time.Duration) error   // Stop with timeout for graceful shutdown
type LifecycleComponent interface {
	Component
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Dependencies provides the external dependencies transports need. Fields
// may be nil when the corresponding facility is disabled.
type Dependencies struct {
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// GetLogger returns the configured logger or the default logger
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
