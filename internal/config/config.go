package config

import (
	"encoding/json"
	"fmt"
)

// Config is the main easel configuration.
type Config struct {
	// DataDir is the base directory for logs, registries and checkpoints.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Providers   ProvidersConfig   `json:"providers" mapstructure:"providers"`
	Loop        LoopConfig        `json:"loop" mapstructure:"loop"`
	Budget      BudgetConfig      `json:"budget" mapstructure:"budget"`
	Tools       ToolsConfig       `json:"tools" mapstructure:"tools"`
	Planner     PlannerConfig     `json:"planner" mapstructure:"planner"`
	Subagents   SubagentsConfig   `json:"subagents" mapstructure:"subagents"`
	Checkpoints CheckpointsConfig `json:"checkpoints" mapstructure:"checkpoints"`
	Gateway     GatewayConfig     `json:"gateway" mapstructure:"gateway"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
}

// ProvidersConfig holds reasoning service profiles and model selection.
type ProvidersConfig struct {
	Profiles     []ProfileConfig `json:"profiles" mapstructure:"profiles"`
	DefaultModel string          `json:"default_model" mapstructure:"default_model"`
	Temperature  float64         `json:"temperature" mapstructure:"temperature"`
}

// ProfileConfig is one provider credential with failover priority.
type ProfileConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// LoopConfig bounds the iteration loop.
type LoopConfig struct {
	MaxIterations     int  `json:"max_iterations" mapstructure:"max_iterations"`
	TimeoutSeconds    int  `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	CheckpointEvery   int  `json:"checkpoint_every" mapstructure:"checkpoint_every"`
	ParallelToolCalls bool `json:"parallel_tool_calls" mapstructure:"parallel_tool_calls"`
	GenMaxRetries     int  `json:"gen_max_retries" mapstructure:"gen_max_retries"`
}

// BudgetConfig bounds context growth.
type BudgetConfig struct {
	TokenBudget        int    `json:"token_budget" mapstructure:"token_budget"`
	AwarenessFile      string `json:"awareness_file" mapstructure:"awareness_file"`
	AwarenessMaxAgeSec int    `json:"awareness_max_age_sec" mapstructure:"awareness_max_age_sec"`
}

// ToolsConfig holds execution engine settings.
type ToolsConfig struct {
	MaxRetries   int `json:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs int `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`

	// PolicyRules holds tool policy specs: "name" or "name:block" blocks
	// a tool, "name:N" caps it at N calls per run.
	PolicyRules []string `json:"policy_rules,omitempty" mapstructure:"policy_rules"`
}

// PlannerConfig holds plan building settings.
type PlannerConfig struct {
	ApprovalThreshold float64 `json:"approval_threshold" mapstructure:"approval_threshold"`
}

// SubagentsConfig holds sub-agent tracking settings.
type SubagentsConfig struct {
	RegistryPath  string `json:"registry_path" mapstructure:"registry_path"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// CheckpointsConfig selects checkpoint persistence.
type CheckpointsConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // memory, sqlite
	Path    string `json:"path" mapstructure:"path"`
}

// GatewayConfig holds the websocket event gateway settings.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	Port    int  `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			DefaultModel: "claude-sonnet-4",
			Temperature:  0.7,
		},
		Loop: LoopConfig{
			MaxIterations:   10,
			TimeoutSeconds:  300,
			CheckpointEvery: 3,
			GenMaxRetries:   3,
		},
		Budget: BudgetConfig{
			TokenBudget:        8192,
			AwarenessMaxAgeSec: 300,
		},
		Tools: ToolsConfig{
			MaxRetries:   2,
			RetryDelayMs: 200,
		},
		Planner: PlannerConfig{
			ApprovalThreshold: 0.7,
		},
		Subagents: SubagentsConfig{
			RetentionDays: 7,
			SweepSchedule: "@hourly",
		},
		Checkpoints: CheckpointsConfig{
			Backend: "memory",
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Providers.Profiles) == 0 {
		return fmt.Errorf("no provider credentials configured: at least one profile is required")
	}

	validator := NewValidator()
	for i, profile := range c.Providers.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("provider profile %d: ID is required", i)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("provider profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if err := validator.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			return fmt.Errorf("provider profile %s: %w", profile.ID, err)
		}
	}

	if c.Providers.DefaultModel == "" {
		return fmt.Errorf("default model is required")
	}
	if c.Loop.MaxIterations <= 0 {
		return fmt.Errorf("loop max_iterations must be positive")
	}
	if c.Budget.TokenBudget <= 0 {
		return fmt.Errorf("token_budget must be positive")
	}
	if c.Checkpoints.Backend != "memory" && c.Checkpoints.Backend != "sqlite" {
		return fmt.Errorf("invalid checkpoint backend: %s (must be: memory, sqlite)", c.Checkpoints.Backend)
	}
	if c.Checkpoints.Backend == "sqlite" && c.Checkpoints.Path == "" {
		return fmt.Errorf("checkpoint path is required for the sqlite backend")
	}
	if c.Planner.ApprovalThreshold < 0 || c.Planner.ApprovalThreshold > 1 {
		return fmt.Errorf("approval_threshold must be in [0, 1]")
	}
	return nil
}
