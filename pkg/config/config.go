// Package config defines the service configuration and its loader.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the relay service.
type Config struct {
	Server    ServerConfig         `yaml:"server"`
	Logging   LoggingConfig        `yaml:"logging"`
	Stream    StreamConfig         `yaml:"stream"`
	Memory    MemoryConfig         `yaml:"memory"`
	Questions QuestionsConfig      `yaml:"questions"`
	Translate TranslateConfig      `yaml:"translate"`
	Providers []ToolProviderConfig `yaml:"providers"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// StreamConfig tunes the event multiplexer.
type StreamConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	IdleInterval time.Duration `yaml:"idle_interval"`
}

// MemoryConfig configures per-thread history management.
type MemoryConfig struct {
	Strategy        string `yaml:"strategy"`
	MaxTurns        int    `yaml:"max_turns"`
	MaxItems        int    `yaml:"max_items"`
	KeepToolOutputs int    `yaml:"keep_tool_outputs"`
	Threshold       int    `yaml:"threshold"`
	KeepRecentTurns int    `yaml:"keep_recent_turns"`
	MaxTokens       int    `yaml:"max_tokens"`
	MaxBytes        int    `yaml:"max_bytes"`
}

// QuestionsConfig configures the user question registry.
type QuestionsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// TranslateConfig configures the optional translation collaborator.
type TranslateConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// ToolProviderConfig describes an external tool provider.
type ToolProviderConfig struct {
	// Name is the identifier used when disabling the provider on failover.
	Name string `yaml:"name"`
	// Label is the human-readable name used in client-facing messages.
	Label string `yaml:"label"`
	// Type selects the transport: "stdio" or "http".
	Type string `yaml:"type"`

	// Stdio transport.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	// HTTP transport.
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// SetDefaults applies default values for unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}

	if c.Stream.QueueSize == 0 {
		c.Stream.QueueSize = 256
	}
	if c.Stream.IdleInterval == 0 {
		c.Stream.IdleInterval = 20 * time.Second
	}

	if c.Memory.Strategy == "" {
		c.Memory.Strategy = "trimming"
	}

	if c.Questions.Timeout == 0 {
		c.Questions.Timeout = 300 * time.Second
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Label == "" {
			p.Label = p.Name
		}
		if p.Type == "" {
			if p.URL != "" {
				p.Type = "http"
			} else {
				p.Type = "stdio"
			}
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Memory.Strategy {
	case "", "trimming", "summarizing", "compaction":
	default:
		return fmt.Errorf("unknown memory strategy: %s", c.Memory.Strategy)
	}

	if c.Translate.Enabled && c.Translate.URL == "" {
		return fmt.Errorf("translate.url is required when translation is enabled")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case "stdio":
			if p.Command == "" {
				return fmt.Errorf("provider %s: command is required for stdio transport", p.Name)
			}
		case "http":
			if p.URL == "" {
				return fmt.Errorf("provider %s: url is required for http transport", p.Name)
			}
		default:
			return fmt.Errorf("provider %s: unknown transport type: %s", p.Name, p.Type)
		}
	}

	return nil
}

// ProviderLabels returns the name -> label mapping for failover messages.
func (c *Config) ProviderLabels() map[string]string {
	labels := make(map[string]string, len(c.Providers))
	for _, p := range c.Providers {
		labels[p.Name] = p.Label
	}
	return labels
}
