// ABOUTME: Tests for configuration loading, env expansion, and duration parsing.
// ABOUTME: Validates defaults and required-field validation errors.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
link:
  addr: "127.0.0.1:9999"
workflow:
  base_url: "http://localhost:5678"
  test_mode: true
database:
  path: ":memory:"
logging:
  level: "debug"
  format: "json"
timing:
  command_debounce: "250ms"
  status_poll_interval: "10s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9999", cfg.Link.Addr)
	assert.Equal(t, "http://localhost:5678", cfg.Workflow.BaseURL)
	assert.True(t, cfg.Workflow.TestMode)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Timing.CommandDebounce)
	assert.Equal(t, 10*time.Second, cfg.Timing.StatusPollInterval)

	// Unset timings fall back to defaults
	assert.Equal(t, DefaultPlaceholderTick, cfg.Timing.PlaceholderTick)
	assert.Equal(t, DefaultFinalizeRetryDelay, cfg.Timing.FinalizeRetryDelay)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("DISCGATE_TEST_URL", "http://engine:5678")

	path := writeConfig(t, `
workflow:
  base_url: "${DISCGATE_TEST_URL}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://engine:5678", cfg.Workflow.BaseURL)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
timing:
  command_debounce: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command_debounce")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/discgate.yaml")
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultLinkAddr, cfg.Link.Addr)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, DefaultCommandDebounce, cfg.Timing.CommandDebounce)
	assert.NoError(t, cfg.Validate())
}
