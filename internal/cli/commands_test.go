package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rakha/easel/internal/config"
)

func execCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	cmd.SetArgs(args)

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	err := cmd.Execute()
	return output.String(), err
}

func TestRunCommand(t *testing.T) {
	t.Run("should require a task argument", func(t *testing.T) {
		_, err := execCommand(t, "run")
		assert.Error(t, err)
	})

	t.Run("should fail without configured providers", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "easel.json")
		_, err := execCommand(t, "run", "--config", cfgPath, "draw a header")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no provider credentials configured")
	})

	t.Run("help text", func(t *testing.T) {
		out, err := execCommand(t, "run", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "agent loop")
		assert.Contains(t, out, "--max-iterations")
	})
}

func TestPlanCommand(t *testing.T) {
	t.Run("should require a task argument", func(t *testing.T) {
		_, err := execCommand(t, "plan")
		assert.Error(t, err)
	})

	t.Run("should print a plan without executing", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "easel.json")
		writeTestConfig(t, cfgPath, dir)
		planExecute = false

		_, err := execCommand(t, "plan", "--config", cfgPath, "landing page with header and footer")
		require.NoError(t, err)
	})
}

func TestStatusCommand(t *testing.T) {
	t.Run("should report empty registry", func(t *testing.T) {
		dir := t.TempDir()
		cfgPath := filepath.Join(dir, "easel.json")
		writeTestConfig(t, cfgPath, dir)

		_, err := execCommand(t, "status", "--config", cfgPath)
		require.NoError(t, err)
	})
}

func TestConfigureCommand(t *testing.T) {
	t.Run("should require at least one key", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "easel.json")
		cfgAnthropicKey = ""
		cfgOpenAIKey = ""

		_, err := execCommand(t, "configure", "--config", cfgPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anthropic-key")
	})

	t.Run("should write profiles to the config file", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "easel.json")

		_, err := execCommand(t, "configure", "--config", cfgPath, "--anthropic-key", "sk-ant-test123")
		require.NoError(t, err)

		cfg, err := config.Load(cfgPath)
		require.NoError(t, err)
		require.Len(t, cfg.Providers.Profiles, 1)
		assert.Equal(t, "anthropic", cfg.Providers.Profiles[0].Provider)
	})

	t.Run("should reject malformed keys", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "easel.json")

		_, err := execCommand(t, "configure", "--config", cfgPath, "--anthropic-key", "not-a-key")
		require.Error(t, err)
	})
}

// writeTestConfig saves a minimal valid config rooted in dir.
func writeTestConfig(t *testing.T, cfgPath, dir string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Logging.File = filepath.Join(dir, "easel.log")
	cfg.Subagents.RegistryPath = filepath.Join(dir, "subagents.json")
	cfg.Providers.Profiles = []config.ProfileConfig{
		{ID: "test", Provider: "anthropic", APIKey: "sk-ant-test", Priority: 1},
	}
	require.NoError(t, config.NewLoader(cfgPath).Save(cfg))
}
