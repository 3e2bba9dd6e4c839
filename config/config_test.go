package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/timemerge/errors"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "timemerge", cfg.Service.Name)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 4096, cfg.Engine.Capacity)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"engine": {"capacity": 128, "spill_dir": "/tmp/spill", "channels": ["a", "b"]},
		"output": {"path": "/tmp/merged.out"}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Engine.Capacity)
	assert.Equal(t, "/tmp/spill", cfg.Engine.SpillDir)
	assert.Equal(t, []string{"a", "b"}, cfg.Engine.Channels)
	assert.Equal(t, "/tmp/merged.out", cfg.Output.Path)
	// Untouched sections keep their defaults.
	assert.Equal(t, "timemerge.records", cfg.NATS.IngestSubject)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TIMEMERGE_NATS_URL", "nats://remote:4222")
	t.Setenv("TIMEMERGE_SPILL_DIR", "/data/spill")
	t.Setenv("TIMEMERGE_CAPACITY", "64")
	t.Setenv("TIMEMERGE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "nats://remote:4222", cfg.NATS.URL)
	assert.Equal(t, "/data/spill", cfg.Engine.SpillDir)
	assert.Equal(t, 64, cfg.Engine.Capacity)
	assert.Equal(t, "debug", cfg.Service.LogLevel)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.Service.Name = "" }},
		{"bad log level", func(c *Config) { c.Service.LogLevel = "verbose" }},
		{"zero capacity", func(c *Config) { c.Engine.Capacity = 0 }},
		{"no transports", func(c *Config) { c.NATS.Enabled = false; c.Kafka.Enabled = false }},
		{"nats without url", func(c *Config) { c.NATS.URL = "" }},
		{"nats without subject", func(c *Config) { c.NATS.IngestSubject = "" }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
		{"kafka without topic", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "" }},
		{"kafka bad offset", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.StartOffset = "middle" }},
		{"no output path", func(c *Config) { c.Output.Path = "" }},
		{"metrics without addr", func(c *Config) { c.Metrics.Addr = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Engine.Capacity = 99
	require.NoError(t, cfg.SaveToFile(path))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 99, reloaded.Engine.Capacity)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cfg.Engine.Channels = []string{"a"}

	clone := cfg.Clone()
	clone.Engine.Capacity = 1
	clone.Engine.Channels[0] = "z"

	assert.Equal(t, 4096, cfg.Engine.Capacity)
	assert.Equal(t, "a", cfg.Engine.Channels[0])
}
