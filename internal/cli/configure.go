package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rakha/easel/internal/config"
)

var (
	cfgAnthropicKey string
	cfgOpenAIKey    string
	cfgModel        string
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the configuration file",
	Long: `Configure writes a config file seeded from defaults plus the
provider credentials given as flags. Existing settings in the file are
replaced.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&cfgAnthropicKey, "anthropic-key", "", "Anthropic API key")
	configureCmd.Flags().StringVar(&cfgOpenAIKey, "openai-key", "", "OpenAI API key")
	configureCmd.Flags().StringVar(&cfgModel, "model", "", "default model")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	if cfgAnthropicKey == "" && cfgOpenAIKey == "" {
		return fmt.Errorf("at least one of --anthropic-key or --openai-key is required")
	}

	validator := config.NewValidator()
	cfg := config.DefaultConfig()
	if cfgAnthropicKey != "" {
		if err := validator.ValidateAPIKey(cfgAnthropicKey, "anthropic"); err != nil {
			return err
		}
		cfg.Providers.Profiles = append(cfg.Providers.Profiles, config.ProfileConfig{
			ID:       "anthropic-primary",
			Provider: "anthropic",
			APIKey:   cfgAnthropicKey,
			Priority: 1,
		})
	}
	if cfgOpenAIKey != "" {
		if err := validator.ValidateAPIKey(cfgOpenAIKey, "openai"); err != nil {
			return err
		}
		cfg.Providers.Profiles = append(cfg.Providers.Profiles, config.ProfileConfig{
			ID:       "openai-fallback",
			Provider: "openai",
			APIKey:   cfgOpenAIKey,
			Priority: len(cfg.Providers.Profiles) + 1,
		})
	}
	if cfgModel != "" {
		cfg.Providers.DefaultModel = cfgModel
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Printf("Configuration written to %s\n", loader.GetConfigPath())
	return nil
}
