// ABOUTME: Configuration loading and parsing for discgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete discgate configuration
type Config struct {
	Link     LinkConfig     `yaml:"link"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Timing   TimingConfig   `yaml:"timing"`
}

// LinkConfig holds the local link listener configuration
type LinkConfig struct {
	// Addr is the loopback address the link server listens on
	Addr string `yaml:"addr"`
}

// WorkflowConfig holds the workflow engine collaborator configuration
type WorkflowConfig struct {
	// BaseURL is the workflow engine base URL used for webhook delivery
	// and execution status polling. May be overridden per trigger upsert.
	BaseURL string `yaml:"base_url"`

	// TestMode routes webhook posts to the test endpoint
	TestMode bool `yaml:"test_mode"`
}

// DatabaseConfig holds activity store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TimingConfig holds the tunable timing knobs. Zero values fall back to the
// defaults applied by Load.
type TimingConfig struct {
	CommandDebounce    time.Duration `yaml:"-"`
	PlaceholderTick    time.Duration `yaml:"-"`
	FinalizeRetryDelay time.Duration `yaml:"-"`
	StatusPollInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	CommandDebounceRaw    string `yaml:"command_debounce"`
	PlaceholderTickRaw    string `yaml:"placeholder_tick"`
	FinalizeRetryDelayRaw string `yaml:"finalize_retry_delay"`
	StatusPollIntervalRaw string `yaml:"status_poll_interval"`
}

// Defaults match the reviewed production timings.
const (
	DefaultLinkAddr           = "127.0.0.1:9131"
	DefaultCommandDebounce    = 500 * time.Millisecond
	DefaultPlaceholderTick    = 800 * time.Millisecond
	DefaultFinalizeRetryDelay = 300 * time.Millisecond
	DefaultStatusPollInterval = 3 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config populated with the built-in defaults, suitable
// for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Link.Addr == "" {
		c.Link.Addr = DefaultLinkAddr
	}
	if c.Database.Path == "" {
		c.Database.Path = ":memory:"
	}
	if c.Timing.CommandDebounce == 0 {
		c.Timing.CommandDebounce = DefaultCommandDebounce
	}
	if c.Timing.PlaceholderTick == 0 {
		c.Timing.PlaceholderTick = DefaultPlaceholderTick
	}
	if c.Timing.FinalizeRetryDelay == 0 {
		c.Timing.FinalizeRetryDelay = DefaultFinalizeRetryDelay
	}
	if c.Timing.StatusPollInterval == 0 {
		c.Timing.StatusPollInterval = DefaultStatusPollInterval
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Link.Addr == "" {
		return fmt.Errorf("link.addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Timing.CommandDebounceRaw, "command_debounce", &cfg.Timing.CommandDebounce},
		{cfg.Timing.PlaceholderTickRaw, "placeholder_tick", &cfg.Timing.PlaceholderTick},
		{cfg.Timing.FinalizeRetryDelayRaw, "finalize_retry_delay", &cfg.Timing.FinalizeRetryDelay},
		{cfg.Timing.StatusPollIntervalRaw, "status_poll_interval", &cfg.Timing.StatusPollInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
