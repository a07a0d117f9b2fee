package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers.Profiles = []ProfileConfig{
		{ID: "primary", Provider: "anthropic", APIKey: "sk-ant-test-key-12345", Priority: 1},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Run("should set sane bounds", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.Equal(t, 10, cfg.Loop.MaxIterations)
		assert.Equal(t, 8192, cfg.Budget.TokenBudget)
		assert.Equal(t, 2, cfg.Tools.MaxRetries)
		assert.Equal(t, 0.7, cfg.Planner.ApprovalThreshold)
		assert.Equal(t, "memory", cfg.Checkpoints.Backend)
	})
}

func TestValidate(t *testing.T) {
	t.Run("should accept a valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("should require at least one profile", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "profile")
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers.Profiles[0].Provider = "gemini"
		assert.Error(t, cfg.Validate())
	})

	t.Run("should reject a malformed anthropic key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers.Profiles[0].APIKey = "not-a-key"
		assert.Error(t, cfg.Validate())
	})

	t.Run("should reject non-positive bounds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Loop.MaxIterations = 0
		assert.Error(t, cfg.Validate())

		cfg = validConfig()
		cfg.Budget.TokenBudget = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("should require a path for the sqlite backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Checkpoints.Backend = "sqlite"
		cfg.Checkpoints.Path = ""
		assert.Error(t, cfg.Validate())

		cfg.Checkpoints.Path = "/tmp/checkpoints.db"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("should bound the approval threshold", func(t *testing.T) {
		cfg := validConfig()
		cfg.Planner.ApprovalThreshold = 1.5
		assert.Error(t, cfg.Validate())
	})
}

func TestLoader(t *testing.T) {
	t.Run("should return defaults when file is missing", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "missing.json"))
		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Loop.MaxIterations)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("should load values from file over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "easel.json")
		body := `{"loop": {"max_iterations": 25}, "budget": {"token_budget": 2048}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 25, cfg.Loop.MaxIterations)
		assert.Equal(t, 2048, cfg.Budget.TokenBudget)
		// Untouched sections keep defaults.
		assert.Equal(t, 2, cfg.Tools.MaxRetries)
	})

	t.Run("should fail on malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "easel.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

		_, err := Load(path)
		assert.Error(t, err)
	})

	t.Run("should derive paths from the data dir", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "easel.json")
		body := `{"data_dir": "/var/lib/easel", "checkpoints": {"backend": "sqlite"}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/easel/easel.log", cfg.Logging.File)
		assert.Equal(t, "/var/lib/easel/subagents.json", cfg.Subagents.RegistryPath)
		assert.Equal(t, "/var/lib/easel/checkpoints.db", cfg.Checkpoints.Path)
	})

	t.Run("should round-trip through save", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "easel.json")
		loader := NewLoader(path)

		cfg := validConfig()
		cfg.Loop.MaxIterations = 42
		require.NoError(t, loader.Save(cfg))

		loaded, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, 42, loaded.Loop.MaxIterations)
		assert.Len(t, loaded.Providers.Profiles, 1)
	})
}

func TestValidator(t *testing.T) {
	validator := NewValidator()

	t.Run("should enforce provider key prefixes", func(t *testing.T) {
		assert.NoError(t, validator.ValidateAPIKey("sk-ant-abc123", "anthropic"))
		assert.Error(t, validator.ValidateAPIKey("sk-abc123", "anthropic"))
		assert.NoError(t, validator.ValidateAPIKey("sk-abc123", "openai"))
		assert.Error(t, validator.ValidateAPIKey("", "openai"))
	})

	t.Run("should require a model name", func(t *testing.T) {
		assert.Error(t, validator.ValidateModel(""))
		assert.NoError(t, validator.ValidateModel("claude-sonnet-4"))
	})
}
