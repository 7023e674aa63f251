// Package config loads the service configuration from a YAML file, applies
// environment and flag overrides and validates the result.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/pageproof/pkg/logging"
	"github.com/entrhq/pageproof/pkg/probe"
)

// Environment variables consulted after the config file
const (
	EnvPort      = "PORT"
	EnvPublicURL = "PAGEPROOF_PUBLIC_URL"
)

// Config represents the configuration of a pageproof server
type Config struct {
	Server    ServerConfig     `yaml:"server" json:"server"`
	Browser   BrowserConfig    `yaml:"browser" json:"browser"`
	Detection probe.Indicators `yaml:"detection" json:"detection"`
	Evidence  EvidenceConfig   `yaml:"evidence" json:"evidence"`
	Batch     BatchConfig      `yaml:"batch" json:"batch"`
	Logging   LoggingConfig    `yaml:"logging" json:"logging"`
	Telemetry TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`

	// PublicURL is the externally reachable base URL used in evidence links.
	// Defaults to http://localhost<port> when empty.
	PublicURL string `yaml:"public_url" json:"public_url"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// BrowserConfig defines how the shared Chromium process is launched
type BrowserConfig struct {
	Headless bool     `yaml:"headless" json:"headless"`
	Args     []string `yaml:"args" json:"args"`

	// Install downloads the playwright driver and Chromium on startup
	Install bool `yaml:"install" json:"install"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// EvidenceConfig defines where captured evidence is stored
type EvidenceConfig struct {
	Path string `yaml:"path" json:"path"`
}

// BatchConfig bounds batch validation fan-out
type BatchConfig struct {
	// MaxConcurrency limits concurrently validated citations (0 = unbounded)
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`

	// Dir is the log directory; empty logs to stderr
	Dir string `yaml:"dir" json:"dir"`
}

// TelemetryConfig defines tracing configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"service_name"`
}

// DefaultConfig returns a configuration suitable for running in a container
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Browser: BrowserConfig{
			Headless: true,
			Args:     []string{"--no-sandbox", "--disable-setuid-sandbox"},
		},
		Detection: probe.DefaultIndicators(),
		Evidence: EvidenceConfig{
			Path: "pageproof-evidence.db",
		},
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pageproof",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides the listener port and public URL from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if port := strings.TrimSpace(getenv(EnvPort)); port != "" {
		host, _, err := net.SplitHostPort(c.Server.Addr)
		if err != nil {
			host = ""
		}
		c.Server.Addr = net.JoinHostPort(host, port)
	}
	if publicURL := strings.TrimSpace(getenv(EnvPublicURL)); publicURL != "" {
		c.Server.PublicURL = publicURL
	}
}

// BaseURL returns the public URL, derived from the listen address when unset.
func (c *Config) BaseURL() string {
	if c.Server.PublicURL != "" {
		return strings.TrimRight(c.Server.PublicURL, "/")
	}
	_, port, err := net.SplitHostPort(c.Server.Addr)
	if err != nil || port == "" {
		return "http://localhost"
	}
	return "http://localhost:" + port
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("invalid server.addr %q: %w", c.Server.Addr, err)
	}

	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts cannot be negative")
	}

	if c.Evidence.Path == "" {
		return fmt.Errorf("evidence.path is required")
	}

	if c.Batch.MaxConcurrency < 0 {
		return fmt.Errorf("batch.max_concurrency cannot be negative")
	}

	// Set default verbosity if not specified
	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}
	if _, err := logging.ParseLevel(c.Logging.Verbosity); err != nil {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "pageproof"
	}

	// Indicator patterns are compiled here so a bad glob fails at startup
	if _, err := probe.New(c.Detection); err != nil {
		return fmt.Errorf("invalid detection settings: %w", err)
	}

	return nil
}
