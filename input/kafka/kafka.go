// Package kafka provides the Kafka ingestion transport: record envelopes
// consumed from a topic are submitted to the merging engine.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/c360/timemerge/component"
	"github.com/c360/timemerge/errors"
	"github.com/c360/timemerge/input"
	"github.com/c360/timemerge/metric"
	"github.com/c360/timemerge/record"
)

// InputConfig holds configuration for the Kafka input component
type InputConfig struct {
	Brokers     []string `json:"brokers"`
	Topic       string   `json:"topic"`
	GroupID     string   `json:"group_id,omitempty"`
	MinBytes    int      `json:"min_bytes,omitempty"`
	MaxBytes    int      `json:"max_bytes,omitempty"`
	StartOffset string   `json:"start_offset,omitempty"` // "first" or "last"
}

// Validate checks the configuration for errors
func (c *InputConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.WrapInvalid(fmt.Errorf("no brokers"),
			"kafka-input", "Validate", "broker validation")
	}
	if c.Topic == "" {
		return errors.WrapInvalid(fmt.Errorf("empty topic"),
			"kafka-input", "Validate", "topic validation")
	}
	switch c.StartOffset {
	case "", "first", "last":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("start_offset %q is not one of first, last", c.StartOffset),
			"kafka-input", "Validate", "offset validation")
	}
	return nil
}

// InputDeps holds runtime dependencies for the Kafka input component
type InputDeps struct {
	Name            string
	Config          InputConfig
	Submitter       input.Submitter
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// Input consumes record envelopes from a Kafka topic and submits them to
// the engine. Out-of-order records are counted and dropped so one bad
// producer cannot stall the consumer group.
type Input struct {
	name      string
	cfg       InputConfig
	submitter input.Submitter
	logger    *slog.Logger
	registry  *metric.Registry

	mu      sync.Mutex
	reader  *kafkago.Reader
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	startTime time.Time
	received  atomic.Int64
	rejected  atomic.Int64
	errors    atomic.Int64
	lastError atomic.Value // stores string
}

var _ component.LifecycleComponent = (*Input)(nil)

// NewInput creates a new Kafka input component
func NewInput(deps InputDeps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "kafka-input", "topic", deps.Config.Topic)
	}
	in := &Input{
		name:      deps.Name,
		cfg:       deps.Config,
		submitter: deps.Submitter,
		logger:    logger,
		registry:  deps.MetricsRegistry,
	}
	in.lastError.Store("")
	return in
}

// Meta returns the component metadata
func (in *Input) Meta() component.Metadata {
	name := in.name
	if name == "" {
		name = "kafka-input"
	}
	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("Kafka record ingestion from topic %s", in.cfg.Topic),
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

// Initialize validates the component's configuration and dependencies
func (in *Input) Initialize() error {
	if err := in.cfg.Validate(); err != nil {
		return err
	}
	if in.submitter == nil {
		return errors.WrapInvalid(fmt.Errorf("nil submitter"),
			"kafka-input", "Initialize", "submitter validation")
	}
	return nil
}

// Start creates the reader and begins the consume loop
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil
	}

	startOffset := kafkago.LastOffset
	if in.cfg.StartOffset == "first" {
		startOffset = kafkago.FirstOffset
	}
	minBytes := in.cfg.MinBytes
	if minBytes <= 0 {
		minBytes = 1
	}
	maxBytes := in.cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	in.reader = kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     in.cfg.Brokers,
		Topic:       in.cfg.Topic,
		GroupID:     in.cfg.GroupID,
		MinBytes:    minBytes,
		MaxBytes:    maxBytes,
		StartOffset: startOffset,
	})

	loopCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.done = make(chan struct{})
	in.running.Store(true)
	in.startTime = time.Now()

	go in.consumeLoop(loopCtx)

	in.logger.Info("Kafka input started",
		"brokers", in.cfg.Brokers, "topic", in.cfg.Topic, "group", in.cfg.GroupID)
	return nil
}

// Stop cancels the consume loop and closes the reader
func (in *Input) Stop(timeout time.Duration) error {
	in.mu.Lock()
	if !in.running.Load() {
		in.mu.Unlock()
		return nil
	}
	in.running.Store(false)
	if in.cancel != nil {
		in.cancel()
	}
	reader := in.reader
	done := in.done
	in.mu.Unlock()

	if reader != nil {
		if err := reader.Close(); err != nil {
			in.logger.Warn("failed to close Kafka reader", "error", err)
		}
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("stop timeout after %v", timeout),
			"kafka-input", "Stop", "graceful shutdown")
	}

	in.logger.Info("Kafka input stopped",
		"received", in.received.Load(),
		"rejected", in.rejected.Load())
	return nil
}

func (in *Input) consumeLoop(ctx context.Context) {
	defer close(in.done)

	for {
		msg, err := in.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || !in.running.Load() {
				return
			}
			in.errors.Add(1)
			in.lastError.Store(err.Error())
			in.logger.Error("Kafka read failed", "error", err)
			continue
		}
		in.handleMessage(msg)
	}
}

func (in *Input) handleMessage(msg kafkago.Message) {
	env, err := input.ParseEnvelope(msg.Value)
	if err != nil {
		in.recordRejected("invalid_envelope")
		in.logger.Warn("dropping malformed envelope",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		return
	}

	in.received.Add(1)
	if in.registry != nil {
		in.registry.Metrics.IngestReceived.WithLabelValues("kafka", env.Channel).Inc()
	}

	err = in.submitter.Submit(env.Channel, record.Timestamp(env.Timestamp), env.Payload)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrOutOfOrder):
		in.recordRejected("out_of_order")
		in.logger.Warn("dropping out-of-order record",
			"channel", env.Channel, "timestamp", env.Timestamp)
	default:
		in.errors.Add(1)
		in.lastError.Store(err.Error())
		in.recordRejected("submit_failed")
		in.logger.Error("record submission failed",
			"channel", env.Channel, "timestamp", env.Timestamp, "error", err)
	}
}

func (in *Input) recordRejected(reason string) {
	in.rejected.Add(1)
	if in.registry != nil {
		in.registry.Metrics.IngestRejected.WithLabelValues("kafka", reason).Inc()
	}
}
