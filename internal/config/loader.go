package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading.
type Loader struct {
	configPath string
}

// NewLoader creates a config loader. An empty path falls back to
// ~/.easel/easel.json.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the configuration file, layering EASEL_ environment
// variables on top. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		applyDataDirDefaults(cfg)
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("EASEL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDataDirDefaults(cfg)
	return cfg, nil
}

// Save writes the configuration to file.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("providers", cfg.Providers)
	v.Set("loop", cfg.Loop)
	v.Set("budget", cfg.Budget)
	v.Set("tools", cfg.Tools)
	v.Set("planner", cfg.Planner)
	v.Set("subagents", cfg.Subagents)
	v.Set("checkpoints", cfg.Checkpoints)
	v.Set("gateway", cfg.Gateway)
	v.Set("metrics", cfg.Metrics)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path.
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".easel", "easel.json")
}

// Load is a convenience function that creates a loader and loads the
// config.
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// applyDataDirDefaults fills in paths derived from the data directory.
func applyDataDirDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		cfg.DataDir = filepath.Join(home, ".easel")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "easel.log")
	}
	if cfg.Subagents.RegistryPath == "" {
		cfg.Subagents.RegistryPath = filepath.Join(cfg.DataDir, "subagents.json")
	}
	if cfg.Checkpoints.Backend == "sqlite" && cfg.Checkpoints.Path == "" {
		cfg.Checkpoints.Path = filepath.Join(cfg.DataDir, "checkpoints.db")
	}
}
