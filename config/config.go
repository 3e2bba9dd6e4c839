// Package config defines the application configuration for the merging
// service: the engine settings, ingestion transports, output sink and
// observability endpoints, loaded from JSON with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c360/timemerge/engine"
	"github.com/c360/timemerge/errors"
)

// Config represents the complete application configuration
type Config struct {
	Service ServiceConfig `json:"service"`
	Engine  engine.Config `json:"engine"`
	NATS    NATSConfig    `json:"nats"`
	Kafka   KafkaConfig   `json:"kafka"`
	Output  OutputConfig  `json:"output"`
	Metrics MetricsConfig `json:"metrics"`
}

// ServiceConfig identifies the service instance
type ServiceConfig struct {
	Name     string `json:"name"`
	LogLevel string `json:"log_level"` // debug, info, warn, error
}

// NATSConfig configures the NATS transport: record ingestion and the
// availability signal published after each merge pass.
type NATSConfig struct {
	Enabled          bool          `json:"enabled"`
	URL              string        `json:"url"`
	Name             string        `json:"name,omitempty"`
	Username         string        `json:"username,omitempty"`
	Password         string        `json:"password,omitempty"`
	Token            string        `json:"token,omitempty"`
	IngestSubject    string        `json:"ingest_subject"`
	AvailableSubject string        `json:"available_subject"`
	ConnectTimeout   time.Duration `json:"connect_timeout,omitempty"`
	DrainTimeout     time.Duration `json:"drain_timeout,omitempty"`
}

// KafkaConfig configures the Kafka ingestion transport. Each subscribed
// topic partition maps to one engine channel.
type KafkaConfig struct {
	Enabled     bool     `json:"enabled"`
	Brokers     []string `json:"brokers"`
	Topic       string   `json:"topic"`
	GroupID     string   `json:"group_id,omitempty"`
	MinBytes    int      `json:"min_bytes,omitempty"`
	MaxBytes    int      `json:"max_bytes,omitempty"`
	StartOffset string   `json:"start_offset,omitempty"` // "first" or "last"
}

// OutputConfig configures the merged output sink
type OutputConfig struct {
	Path string `json:"path"`
}

// MetricsConfig configures the Prometheus and health endpoints
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Default returns the configuration defaults. Loading merges file and
// environment values over these.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "timemerge",
			LogLevel: "info",
		},
		Engine: engine.Config{
			Capacity: 4096,
			SpillDir: "/var/lib/timemerge/spill",
		},
		NATS: NATSConfig{
			Enabled:          true,
			URL:              "nats://localhost:4222",
			IngestSubject:    "timemerge.records",
			AvailableSubject: "timemerge.available",
			ConnectTimeout:   5 * time.Second,
			DrainTimeout:     30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:     false,
			Brokers:     []string{"localhost:9092"},
			Topic:       "timemerge-records",
			GroupID:     "timemerge",
			StartOffset: "last",
		},
		Output: OutputConfig{
			Path: "/var/lib/timemerge/merged.out",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load reads configuration from an optional JSON file, applies environment
// overrides and validates the result. An empty path loads defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse config file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the settings that
// commonly differ between hosts without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TIMEMERGE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("TIMEMERGE_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v := os.Getenv("TIMEMERGE_SPILL_DIR"); v != "" {
		cfg.Engine.SpillDir = v
	}
	if v := os.Getenv("TIMEMERGE_OUTPUT_PATH"); v != "" {
		cfg.Output.Path = v
	}
	if v := os.Getenv("TIMEMERGE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("TIMEMERGE_LOG_LEVEL"); v != "" {
		cfg.Service.LogLevel = v
	}
	if v := os.Getenv("TIMEMERGE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Capacity = n
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return invalid("service.name is required")
	}
	switch c.Service.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("service.log_level %q is not one of debug, info, warn, error",
			c.Service.LogLevel))
	}

	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if !c.NATS.Enabled && !c.Kafka.Enabled {
		return invalid("at least one ingestion transport must be enabled")
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return invalid("nats.url is required when nats is enabled")
		}
		if c.NATS.IngestSubject == "" {
			return invalid("nats.ingest_subject is required when nats is enabled")
		}
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return invalid("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return invalid("kafka.topic is required when kafka is enabled")
		}
		switch c.Kafka.StartOffset {
		case "", "first", "last":
		default:
			return invalid(fmt.Sprintf("kafka.start_offset %q is not one of first, last",
				c.Kafka.StartOffset))
		}
	}

	if c.Output.Path == "" {
		return invalid("output.path is required")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return invalid("metrics.addr is required when metrics are enabled")
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}

// SaveToFile writes the configuration as indented JSON.
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "marshal config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "write config file")
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}
