// Package config loads anchorctl profiles: the API key, endpoint, default
// workspace and client tuning, read from YAML and overridden by the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getanchor/anchor-go/pkg/anchor"
	"github.com/getanchor/anchor-go/pkg/telemetry"
)

// Environment variables that override profile values.
const (
	EnvAPIKey      = "ANCHOR_API_KEY"
	EnvBaseURL     = "ANCHOR_BASE_URL"
	EnvWorkspaceID = "ANCHOR_WORKSPACE_ID"
	EnvLogLevel    = "ANCHOR_LOG_LEVEL"
	EnvOTLP        = "ANCHOR_OTLP_ENDPOINT"
	EnvConfigPath  = "ANCHOR_CONFIG"
)

// Profile holds everything anchorctl needs to build a client.
type Profile struct {
	APIKey            string           `yaml:"api_key"`
	BaseURL           string           `yaml:"base_url"`
	WorkspaceID       string           `yaml:"workspace_id"`
	Timeout           time.Duration    `yaml:"timeout"`
	RequestsPerSecond float64          `yaml:"requests_per_second"`
	Retry             RetryConfig      `yaml:"retry"`
	Telemetry         telemetry.Config `yaml:"telemetry"`
	Logging           LoggingConfig    `yaml:"logging"`
}

// RetryConfig mirrors anchor.RetryConfig with YAML names.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      bool          `yaml:"jitter"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns ~/.anchor/config.yaml, or "" when the home directory
// is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".anchor", "config.yaml")
}

// Overrides replace profile values after the environment is applied,
// typically from command line flags. Empty fields are ignored.
type Overrides struct {
	APIKey       string
	BaseURL      string
	WorkspaceID  string
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

// Load reads a profile from path, expands ${VAR} references, applies
// environment overrides and validates the result. An empty path skips the
// file; a missing file at the default location is not an error.
func Load(path string) (*Profile, error) {
	return LoadWith(path, Overrides{})
}

// LoadWith is Load with a final layer of overrides.
func LoadWith(path string, o Overrides) (*Profile, error) {
	cfg := defaults()

	if path != "" {
		//nolint:gosec // Profile path is chosen by the operator
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := parse(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath():
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	o.apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *Profile {
	return &Profile{
		BaseURL: anchor.DefaultBaseURL,
		Timeout: anchor.DefaultTimeout,
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func parse(data []byte, cfg *Profile) error {
	expanded := []byte(os.ExpandEnv(string(data)))
	return yaml.Unmarshal(expanded, cfg)
}

func applyEnvOverrides(cfg *Profile) {
	if val := os.Getenv(EnvAPIKey); val != "" {
		cfg.APIKey = val
	}
	if val := os.Getenv(EnvBaseURL); val != "" {
		cfg.BaseURL = val
	}
	if val := os.Getenv(EnvWorkspaceID); val != "" {
		cfg.WorkspaceID = val
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(EnvOTLP); val != "" {
		cfg.Telemetry.Endpoint = val
	}
}

func (o Overrides) apply(cfg *Profile) {
	if o.APIKey != "" {
		cfg.APIKey = o.APIKey
	}
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.WorkspaceID != "" {
		cfg.WorkspaceID = o.WorkspaceID
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	if o.OTLPEndpoint != "" {
		cfg.Telemetry.Endpoint = o.OTLPEndpoint
	}
}

// Validate checks the profile and normalizes the logging section.
func (c *Profile) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("api key is required (set api_key or %s)", EnvAPIKey)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}
	return nil
}

// Validate performs validation of retry configuration.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("base_delay must not be negative")
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %v", c.Multiplier)
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	if strings.TrimSpace(c.Format) == "" {
		c.Format = "text"
	}

	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format != "text" && c.Format != "json" {
		return fmt.Errorf("invalid log format %q, supported formats: text, json", c.Format)
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// SlogLevel maps the validated level name to a slog.Level.
func (c LoggingConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ClientConfig converts the profile into an anchor.Config. Logger, clock
// and HTTP client are left for the caller.
func (c *Profile) ClientConfig() anchor.Config {
	return anchor.Config{
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		WorkspaceID:       c.WorkspaceID,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Retry: anchor.RetryConfig{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
			Multiplier:  c.Retry.Multiplier,
			MaxDelay:    c.Retry.MaxDelay,
			Jitter:      c.Retry.Jitter,
		},
	}
}

// Redacted returns a copy safe to print, with the API key masked.
func (c Profile) Redacted() Profile {
	c.APIKey = telemetry.MaskKey(c.APIKey)
	return c
}
