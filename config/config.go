// Package config loads the tabwarden daemon configuration from a YAML
// file, merged over built-in defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full tabwarden configuration.
type Config struct {
	Listen   string        `yaml:"listen"`
	DBPath   string        `yaml:"db_path"`
	LogLevel string        `yaml:"log_level"` // debug | info | warn | error
	Browser  BrowserConfig `yaml:"browser"`
	Probe    ProbeConfig   `yaml:"probe"`
	MCP      MCPConfig     `yaml:"mcp"`
}

// BrowserConfig points the daemon at a running browser's DevTools endpoint.
type BrowserConfig struct {
	// URL is the DevTools endpoint, either ws://host:port/... or
	// http://host:port (resolved via /json/version).
	URL string `yaml:"url"`
	// ActivityPollMS is the focus-sampling interval in milliseconds.
	ActivityPollMS int `yaml:"activity_poll_ms"`
}

// ProbeConfig tunes the in-page memory probe.
type ProbeConfig struct {
	TimeoutMS  int `yaml:"timeout_ms"`
	CacheTTLMS int `yaml:"cache_ttl_ms"`
}

// MCPConfig controls the MCP tool surface on stdio.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8077",
		DBPath:   "tabwarden.db",
		LogLevel: "info",
		Browser: BrowserConfig{
			URL:            "http://127.0.0.1:9222",
			ActivityPollMS: 2000,
		},
		Probe: ProbeConfig{
			TimeoutMS:  5000,
			CacheTTLMS: 300000,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Browser.URL == "" {
		return fmt.Errorf("browser.url is required")
	}
	if c.Browser.ActivityPollMS <= 0 {
		return fmt.Errorf("browser.activity_poll_ms must be > 0")
	}
	if c.Probe.TimeoutMS <= 0 {
		return fmt.Errorf("probe.timeout_ms must be > 0")
	}
	if c.Probe.CacheTTLMS <= 0 {
		return fmt.Errorf("probe.cache_ttl_ms must be > 0")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
}

// ActivityPollInterval returns the focus-sampling interval as a duration.
func (c *Config) ActivityPollInterval() time.Duration {
	return time.Duration(c.Browser.ActivityPollMS) * time.Millisecond
}

// ProbeTimeout returns the probe timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutMS) * time.Millisecond
}

// ProbeCacheTTL returns the estimate cache TTL as a duration.
func (c *Config) ProbeCacheTTL() time.Duration {
	return time.Duration(c.Probe.CacheTTLMS) * time.Millisecond
}
