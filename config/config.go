// Package config loads FinMesh configuration from YAML with safe defaults.
// The tunables collected here were fixed constants in earlier iterations of
// the product (escalation thresholds, cache caps, detection windows); they are
// kept configurable because no documented rationale pins the exact values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML duration strings
// like "30s" or "10m" (plain integers are taken as nanoseconds).
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		dur, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(dur)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("invalid duration value on line %d", value.Line)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// SandboxConfig holds tool sandbox settings.
type SandboxConfig struct {
	// HistorySize caps the execution-history ring buffer.
	HistorySize int `yaml:"history_size"`
	// HealthMinExecutions is the minimum sample size before a tool's success
	// rate participates in the health predicate.
	HealthMinExecutions int `yaml:"health_min_executions"`
	// HealthMinSuccessRate is the success-rate floor for a healthy tool.
	HealthMinSuccessRate float64 `yaml:"health_min_success_rate"`
}

// MemoryConfig holds memory assembler settings.
type MemoryConfig struct {
	// SQLitePath is the durable log location; empty selects the in-memory store.
	SQLitePath string `yaml:"sqlite_path"`
	// UserCacheSize caps recent entries cached per user.
	UserCacheSize int `yaml:"user_cache_size"`
	// MaxCachedUsers caps distinct users in the cache; the oldest-inserted
	// user is evicted wholesale on overflow.
	MaxCachedUsers int `yaml:"max_cached_users"`
	// HistoryLimit bounds conversation history included in agent contexts.
	HistoryLimit int `yaml:"history_limit"`
	// SummaryTokenBudget bounds the generated context summary, measured with
	// the cl100k_base tokenizer.
	SummaryTokenBudget int `yaml:"summary_token_budget"`
}

// HandoffConfig holds handoff engine settings.
type HandoffConfig struct {
	// MaxEscalationLevel caps the escalation counter.
	MaxEscalationLevel int `yaml:"max_escalation_level"`
	// EscalationWindow is the lookback window for recent-handoff scans.
	EscalationWindow Duration `yaml:"escalation_window"`
	// RecentHandoffThreshold escalates when this many handoffs fall inside
	// the window.
	RecentHandoffThreshold int `yaml:"recent_handoff_threshold"`
	// RecentFailureThreshold escalates when this many failed handoffs fall
	// inside the window.
	RecentFailureThreshold int `yaml:"recent_failure_threshold"`
	// CircularWindow is how many trailing handoffs are inspected for loops.
	CircularWindow int `yaml:"circular_window"`
	// UserHistorySize caps recorded handoff results per user.
	UserHistorySize int `yaml:"user_history_size"`
	// StaleTimeout marks an unresolved active handoff as a health issue.
	StaleTimeout Duration `yaml:"stale_timeout"`
	// JanitorSchedule is the cron spec for the stale-handoff sweeper;
	// empty disables the janitor.
	JanitorSchedule string `yaml:"janitor_schedule"`
}

// ModelConfig holds language-model provider settings.
type ModelConfig struct {
	// Provider selects the backend: "anthropic", "openai" or "mock".
	Provider string `yaml:"provider"`
	// Name is the provider-specific model identifier.
	Name string `yaml:"name"`
	// Temperature for generation.
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps completion length.
	MaxTokens int64 `yaml:"max_tokens"`
	// BreakerMaxFailures is the consecutive-failure count opening the circuit.
	BreakerMaxFailures uint32 `yaml:"breaker_max_failures"`
	// BreakerTimeout is how long the circuit stays open before half-open.
	BreakerTimeout Duration `yaml:"breaker_timeout"`
	// RatePerSecond throttles model calls across the orchestrator; 0 disables.
	RatePerSecond float64 `yaml:"rate_per_second"`
	// RateBurst is the limiter burst size.
	RateBurst int `yaml:"rate_burst"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Config is the top-level FinMesh configuration.
type Config struct {
	Sandbox SandboxConfig `yaml:"sandbox"`
	Memory  MemoryConfig  `yaml:"memory"`
	Handoff HandoffConfig `yaml:"handoff"`
	Model   ModelConfig   `yaml:"model"`
	Logger  LoggerConfig  `yaml:"logger"`
	// DefaultAgent receives requests when routing finds no good match.
	DefaultAgent string `yaml:"default_agent"`
}

// Default returns the baseline configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			HistorySize:          100,
			HealthMinExecutions:  5,
			HealthMinSuccessRate: 0.8,
		},
		Memory: MemoryConfig{
			UserCacheSize:      50,
			MaxCachedUsers:     1000,
			HistoryLimit:       10,
			SummaryTokenBudget: 256,
		},
		Handoff: HandoffConfig{
			MaxEscalationLevel:     3,
			EscalationWindow:       Duration(10 * time.Minute),
			RecentHandoffThreshold: 3,
			RecentFailureThreshold: 2,
			CircularWindow:         3,
			UserHistorySize:        50,
			StaleTimeout:           Duration(30 * time.Second),
			JanitorSchedule:        "@every 30s",
		},
		Model: ModelConfig{
			Provider:           "mock",
			Temperature:        0.7,
			MaxTokens:          4096,
			BreakerMaxFailures: 5,
			BreakerTimeout:     Duration(30 * time.Second),
			RatePerSecond:      10,
			RateBurst:          5,
		},
		Logger:       LoggerConfig{Level: "info", Format: "json"},
		DefaultAgent: "advisor",
	}
}

// Load reads a YAML config file, layering it over Default(). Missing file
// fields keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would break component invariants.
func (c *Config) Validate() error {
	if c.Sandbox.HistorySize <= 0 {
		return fmt.Errorf("sandbox.history_size must be positive")
	}
	if c.Memory.UserCacheSize <= 0 || c.Memory.MaxCachedUsers <= 0 {
		return fmt.Errorf("memory cache caps must be positive")
	}
	if c.Handoff.MaxEscalationLevel < 0 {
		return fmt.Errorf("handoff.max_escalation_level must not be negative")
	}
	if c.Handoff.CircularWindow <= 0 {
		return fmt.Errorf("handoff.circular_window must be positive")
	}
	switch c.Model.Provider {
	case "anthropic", "openai", "mock", "":
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	return nil
}
