package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, appName)
	assert.Contains(t, out, Version)
}

func TestValidateCommandAcceptsGoodConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"engine": {"capacity": 16, "spill_dir": "/tmp/spill"},
		"output": {"path": "/tmp/merged.out"}
	}`), 0o600))

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
}

func TestValidateCommandRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"engine": {"capacity": 0}}`), 0o600))

	_, err := execute(t, "validate", "--config", path)
	assert.Error(t, err)
}

func TestLogLevelOverrideIsValidated(t *testing.T) {
	_, err := execute(t, "validate", "--log-level", "verbose")
	assert.Error(t, err)
}
