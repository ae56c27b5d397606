// Package gwconfig holds the provider pool and ancillary settings that
// drive the dispatch engine, and hot-reloads them from a YAML file.
package gwconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MatchKind is the predicate family a Provider's model_match uses.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchKeyword MatchKind = "keyword"
)

// ModelMatch decides whether a Provider accepts a requested model name.
type ModelMatch struct {
	Kind   MatchKind `yaml:"type"`
	Values []string  `yaml:"value"`
}

// Provider is one configured upstream LLM inference endpoint. Immutable
// after load: the Dispatcher and Selector only ever see values reached
// through a Config snapshot.
type Provider struct {
	Name          string     `yaml:"name"`
	BaseURL       string     `yaml:"base_url"`
	APIKey        string     `yaml:"api_key"`
	ModelMatch    ModelMatch `yaml:"model_match"`
	Priority      int        `yaml:"priority"`
	Fallback      string     `yaml:"fallback"`
	SpecialPrefix string     `yaml:"special_prefix"`
	Stop          []string   `yaml:"stop"`
	MaxTokens     int        `yaml:"max_tokens"`
}

// HealthCheckConfig controls an optional proactive upstream probe.
type HealthCheckConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`
}

// ServerConfig contains the minimal HTTP surface settings this engine
// cares about; the HTTP server framework itself is an external
// collaborator (see SPEC_FULL.md §1).
type ServerConfig struct {
	Port      int `yaml:"port"`
	AdminPort int `yaml:"admin_port"`
}

// LoggingConfig contains structured-logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus collector surface.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig controls span emission (no exporter selection lives
// here; see SPEC_FULL.md §11).
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Config is the complete gateway configuration: the Provider pool plus
// ancillary knobs. Every field is immutable once loaded; the Manager
// swaps the whole struct atomically on reload.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   []Provider        `yaml:"openai_clients"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	HealthCheck HealthCheckConfig `yaml:"healthcheck"`
}

// DefaultConfig returns a Config with sensible defaults; LoadFromFile
// unmarshals onto a copy of this so unset YAML fields keep sane values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "dispatch-gateway",
			SampleRate:  1.0,
		},
		HealthCheck: HealthCheckConfig{
			Enabled:  false,
			Interval: 30 * time.Second,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file. Environment
// variables in the form ${VAR_NAME} are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for obvious errors before it is
// published as a snapshot.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.AdminPort != 0 {
		if c.Server.AdminPort <= 0 || c.Server.AdminPort > 65535 {
			return fmt.Errorf("invalid admin port: %d", c.Server.AdminPort)
		}
		if c.Server.AdminPort == c.Server.Port {
			return fmt.Errorf("admin port must differ from server port: %d", c.Server.AdminPort)
		}
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("providers[%d] %q: base_url is required", i, p.Name)
		}
		switch p.ModelMatch.Kind {
		case MatchExact, MatchKeyword:
		default:
			return fmt.Errorf("providers[%d] %q: model_match.type must be %q or %q", i, p.Name, MatchExact, MatchKeyword)
		}
		if len(p.ModelMatch.Values) == 0 {
			return fmt.Errorf("providers[%d] %q: model_match.value must be non-empty", i, p.Name)
		}
		if p.Priority < 0 {
			return fmt.Errorf("providers[%d] %q: priority cannot be negative", i, p.Name)
		}
	}
	if c.HealthCheck.Interval < 0 {
		return fmt.Errorf("healthcheck.interval cannot be negative")
	}
	return nil
}

// TrimmedBaseURL returns base_url with any trailing slash stripped, per
// SPEC_FULL.md §3.
func (p Provider) TrimmedBaseURL() string {
	return strings.TrimRight(p.BaseURL, "/")
}
