package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rakha/easel/internal/config"
	"github.com/rakha/easel/internal/logger"
	"github.com/rakha/easel/pkg/session"
	"github.com/rakha/easel/pkg/subagent"
)

var statusCleanup bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sub-agent run statistics",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusCleanup, "cleanup", false, "remove terminal runs past the retention window")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log, err := logger.New(logger.Config{Level: "warn", Console: true})
	if err != nil {
		return err
	}
	defer log.Close()

	coordinator, err := subagent.NewCoordinator(subagent.Config{
		RegistryPath: cfg.Subagents.RegistryPath,
		AutoSave:     true,
		Retention:    time.Duration(cfg.Subagents.RetentionDays) * 24 * time.Hour,
		Logger:       log.Zerolog(),
	})
	if err != nil {
		return err
	}
	if err := coordinator.Initialize(); err != nil {
		return err
	}
	defer coordinator.Close()

	if statusCleanup {
		removed, err := coordinator.Cleanup()
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Printf("Removed %d expired runs\n\n", removed)
	}

	stats := coordinator.Stats()
	fmt.Printf("Sub-agent runs (%s)\n", cfg.Subagents.RegistryPath)
	fmt.Printf("  Total:     %d\n", stats.TotalRuns)
	fmt.Printf("  Active:    %d\n", stats.ActiveRuns)
	fmt.Printf("  Completed: %d\n", stats.CompletedRuns)
	fmt.Printf("  Failed:    %d\n", stats.FailedRuns)
	fmt.Printf("  Aborted:   %d\n", stats.AbortedRuns)

	store, err := session.NewStore(filepath.Join(cfg.DataDir, "sessions"), log.Zerolog())
	if err != nil {
		return err
	}
	records, err := store.List()
	if err != nil {
		return err
	}
	fmt.Printf("\nRecent sessions\n")
	if len(records) == 0 {
		fmt.Println("  none")
		return nil
	}
	for i, record := range records {
		if i >= 10 {
			break
		}
		fmt.Printf("  %-24s %-10s %3d iters  %6d tokens  %s\n",
			record.SessionKey, record.State, record.Iterations, record.TokensUsed,
			record.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
