// Package nats provides the NATS ingestion transport: record envelopes
// arriving on a subject are submitted to the merging engine.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/timemerge/component"
	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/input"
	"github.com/c360/timemerge/metric"
	"github.com/c360/timemerge/natsclient"
	"github.com/c360/timemerge/record"
)

// InputDeps holds runtime dependencies for the NATS input component
type InputDeps struct {
	Name            string
	Subject         string
	Submitter       input.Submitter
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// Input subscribes to a NATS subject and submits arriving record envelopes
// to the engine. Out-of-order records are counted and dropped; per-channel
// ordering is the producer's contract and one bad record must not take the
// subscription down.
type Input struct {
	name       string
	subject    string
	submitter  input.Submitter
	natsClient *natsclient.Client
	logger     *slog.Logger
	registry   *metric.Registry

	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex

	received  atomic.Int64
	rejected  atomic.Int64
	errors    atomic.Int64
	lastError atomic.Value // stores string
}

var _ component.LifecycleComponent = (*Input)(nil)

// NewInput creates a new NATS input component
func NewInput(deps InputDeps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "nats-input", "subject", deps.Subject)
	}
	in := &Input{
		name:       deps.Name,
		subject:    deps.Subject,
		submitter:  deps.Submitter,
		natsClient: deps.NATSClient,
		logger:     logger,
		registry:   deps.MetricsRegistry,
	}
	in.lastError.Store("")
	return in
}

// Meta returns the component metadata
func (in *Input) Meta() component.Metadata {
	name := in.name
	if name == "" {
		name = "nats-input"
	}
	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("NATS record ingestion from %s", in.subject),
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the component
func (in *Input) Health() component.HealthStatus {
	lastErr, _ := in.lastError.Load().(string)
	return component.HealthStatus{
		Healthy:    in.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(in.errors.Load()),
		LastError:  lastErr,
		Uptime:     time.Since(in.startTime),
	}
}

// Initialize validates the component's dependencies
func (in *Input) Initialize() error {
	if in.subject == "" {
		return errors.WrapInvalid(fmt.Errorf("empty subject"),
			"nats-input", "Initialize", "subject validation")
	}
	if in.natsClient == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"nats-input", "Initialize", "NATS client validation")
	}
	if in.submitter == nil {
		return errors.WrapInvalid(fmt.Errorf("nil submitter"),
			"nats-input", "Initialize", "submitter validation")
	}
	return nil
}

// Start subscribes to the configured subject. The subscription lives until
// the NATS client is closed; Stop only marks the component down so late
// deliveries are dropped.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil
	}

	err := in.natsClient.Subscribe(ctx, in.subject, func(_ context.Context, data []byte) {
		if !in.running.Load() {
			return
		}
		in.handleMessage(data)
	})
	if err != nil {
		return errors.Wrap(err, "nats-input", "Start", "subscribe")
	}

	in.running.Store(true)
	in.startTime = time.Now()
	in.logger.Info("NATS input started", "subject", in.subject)
	return nil
}

// Stop marks the component stopped
func (in *Input) Stop(time.Duration) error {
	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)
	in.logger.Info("NATS input stopped",
		"received", in.received.Load(),
		"rejected", in.rejected.Load())
	return nil
}

func (in *Input) handleMessage(data []byte) {
	env, err := input.ParseEnvelope(data)
	if err != nil {
		in.recordRejected("", "invalid_envelope")
		in.logger.Warn("dropping malformed envelope", "error", err)
		return
	}

	in.received.Add(1)
	if in.registry != nil {
		in.registry.Metrics.IngestReceived.WithLabelValues("nats", env.Channel).Inc()
	}

	err = in.submitter.Submit(env.Channel, record.Timestamp(env.Timestamp), env.Payload)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrOutOfOrder):
		// Per-channel regression: drop the record, keep consuming.
		in.recordRejected(env.Channel, "out_of_order")
		in.logger.Warn("dropping out-of-order record",
			"channel", env.Channel, "timestamp", env.Timestamp)
	default:
		in.errors.Add(1)
		in.lastError.Store(err.Error())
		in.recordRejected(env.Channel, "submit_failed")
		in.logger.Error("record submission failed",
			"channel", env.Channel, "timestamp", env.Timestamp, "error", err)
	}
}

func (in *Input) recordRejected(_, reason string) {
	in.rejected.Add(1)
	if in.registry != nil {
		in.registry.Metrics.IngestRejected.WithLabelValues("nats", reason).Inc()
	}
}
