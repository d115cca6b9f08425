// Package config provides configuration loading and management for agentcore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete agentcore configuration
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	NATS      NATSConfig      `yaml:"nats"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ModelConfig configures the LLM used by the schedule interpreter
type ModelConfig struct {
	// Provider selects the wire format (openai, ollama, openrouter, anthropic)
	Provider string `yaml:"provider"`
	// Endpoint is the chat completion API endpoint
	Endpoint string `yaml:"endpoint"`
	// Name is the model to use (e.g., "qwen2.5:14b")
	Name string `yaml:"name"`
	// APIKey authenticates against hosted providers (empty for local Ollama)
	APIKey string `yaml:"api_key"`
	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS connection backing storage
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// EngineConfig configures the run loop
type EngineConfig struct {
	// TickInterval paces the event loop
	TickInterval time.Duration `yaml:"tick_interval"`
	// StateTemplatePath optionally points at a file seeding the state
	// document when storage has none
	StateTemplatePath string `yaml:"state_template_path"`
}

// SchedulerConfig configures schedule interpretation
type SchedulerConfig struct {
	// Timezone is the IANA zone scheduling requests are interpreted in
	// (default: UTC)
	Timezone string `yaml:"timezone"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled)
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "ollama",
			Endpoint:    "http://localhost:11434/v1",
			Name:        "qwen2.5:14b",
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Engine: EngineConfig{
			TickInterval: 1 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Timezone: "UTC",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Provider == "" {
		return fmt.Errorf("model.provider is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Name != "" {
		c.Model.Name = other.Model.Name
	}
	if other.Model.APIKey != "" {
		c.Model.APIKey = other.Model.APIKey
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Engine
	if other.Engine.TickInterval != 0 {
		c.Engine.TickInterval = other.Engine.TickInterval
	}
	if other.Engine.StateTemplatePath != "" {
		c.Engine.StateTemplatePath = other.Engine.StateTemplatePath
	}

	// Scheduler
	if other.Scheduler.Timezone != "" {
		c.Scheduler.Timezone = other.Scheduler.Timezone
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}
