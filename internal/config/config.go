// Package config loads and validates the Agent Session Core's configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentcore/nexus/internal/modelcatalog"
)

// Config is the top-level configuration for an agentcore process.
type Config struct {
	Session    SessionConfig    `yaml:"session"`
	Compaction CompactionConfig `yaml:"compaction"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Provider   ProviderConfig   `yaml:"provider"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// SessionConfig controls transcript persistence and artifact placement.
type SessionConfig struct {
	// Dir is the root directory under which per-session subdirectories
	// (transcript file + artifact directory) are created.
	Dir string `yaml:"dir"`

	// ToolTimeout is the default per-tool execution timeout.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// CancelGrace is how long the Invoker waits after signalling
	// cancellation before abandoning a tool's future.
	CancelGrace time.Duration `yaml:"cancel_grace"`
}

// CompactionConfig configures the Compaction Engine's trigger and budget.
type CompactionConfig struct {
	AutoCompaction    bool    `yaml:"auto_compaction"`
	Threshold         float64 `yaml:"threshold"`           // fraction of context window that triggers compaction
	KeepBudget        float64 `yaml:"keep_budget"`         // fraction of context window reserved for the cut tail
	CustomInstructions string `yaml:"custom_instructions"`
}

// SchedulerConfig configures steering/follow-up/interrupt semantics.
type SchedulerConfig struct {
	SteeringMode  string `yaml:"steering_mode"`  // "all" | "one-at-a-time"
	FollowUpMode  string `yaml:"follow_up_mode"` // "all" | "one-at-a-time"
	InterruptMode string `yaml:"interrupt_mode"` // "immediate" | "wait"
}

// ProviderConfig names the default model/provider and retry policy.
// Credentials are never stored here; they are resolved through the
// AuthProvider callback supplied at session construction.
type ProviderConfig struct {
	Default    string `yaml:"default"`
	Model      string `yaml:"model"`
	AutoRetry  bool   `yaml:"auto_retry"`
	MaxRetries int    `yaml:"max_retries"`

	// BedrockDiscovery configures automatic discovery of foundation models
	// available to the account, registered into modelcatalog.DefaultCatalog
	// so the Bedrock client can resolve models it was never hardcoded to know.
	BedrockDiscovery modelcatalog.BedrockDiscoveryConfig `yaml:"bedrock_discovery"`
}

// LoggingConfig controls the slog-based structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns a Config with sane defaults for local, single-user use.
func Default() Config {
	return Config{
		Session: SessionConfig{
			Dir:         "./.agentcore/sessions",
			ToolTimeout: 5 * time.Minute,
			CancelGrace: 2 * time.Second,
		},
		Compaction: CompactionConfig{
			AutoCompaction: true,
			Threshold:      0.75,
			KeepBudget:     0.25,
		},
		Scheduler: SchedulerConfig{
			SteeringMode:  "one-at-a-time",
			FollowUpMode:  "one-at-a-time",
			InterruptMode: "immediate",
		},
		Provider: ProviderConfig{
			Default:    "anthropic",
			AutoRetry:  true,
			MaxRetries: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "agentcore",
			SampleRatio: 0.1,
		},
	}
}

// Load reads a YAML config file, applying defaults for anything unset.
// A missing file is not an error; Default() is returned instead.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
