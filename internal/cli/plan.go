package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/rakha/easel/pkg/events"
	"github.com/rakha/easel/pkg/loop"
	"github.com/rakha/easel/pkg/planner"
	"github.com/rakha/easel/pkg/subagent"
)

var (
	planExecute bool
	planYes     bool
)

var planCmd = &cobra.Command{
	Use:   "plan [task]",
	Short: "Build an execution plan for a task",
	Long: `Plan decomposes a task into phases of sub-agent work and prints
the result. With --execute the plan runs: each task gets its own isolated
agent loop, and the summary reports how many succeeded.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planExecute, "execute", false, "execute the plan after building it")
	planCmd.Flags().BoolVarP(&planYes, "yes", "y", false, "approve flagged plans without prompting")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	rt, err := setupRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	task := args[0]
	elements := rt.canvas.ListElements()
	exploration := planner.ExplorationResult{WorkspaceEmpty: len(elements) == 0}
	for _, el := range elements {
		exploration.ExistingElements = append(exploration.ExistingElements, el.ID)
	}

	complexity := planner.AssessComplexity(task)
	builder := planner.NewBuilder().WithApprovalThreshold(rt.cfg.Planner.ApprovalThreshold)
	plan, err := builder.Build(task, exploration, complexity)
	if err != nil {
		return err
	}
	rt.metrics.PlansBuiltTotal.Inc()

	fmt.Println(planner.FormatPlan(plan))
	if !planExecute {
		return nil
	}

	gate := planner.NewGate(promptApproval)
	if planYes {
		gate = planner.NewGate(nil)
	}
	if err := gate.Confirm(cmd.Context(), plan); err != nil {
		return err
	}

	return executePlan(cmd.Context(), rt, plan)
}

func executePlan(ctx context.Context, rt *runtime, plan *planner.Plan) error {
	sessionKey, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate session key: %w", err)
	}

	coordinator, err := subagent.NewCoordinator(subagent.Config{
		RegistryPath:  rt.cfg.Subagents.RegistryPath,
		AutoSave:      true,
		Retention:     time.Duration(rt.cfg.Subagents.RetentionDays) * 24 * time.Hour,
		SweepSchedule: rt.cfg.Subagents.SweepSchedule,
		Logger:        rt.log.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	if err := coordinator.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize coordinator: %w", err)
	}
	defer coordinator.Close()

	stream := events.NewStream(64)
	token := loop.NewCancelToken()

	runner, err := subagent.NewRunner(subagent.RunnerConfig{
		Provider:    rt.chain,
		Engine:      rt.engine,
		Coordinator: coordinator,
		Stream:      stream,
		Token:       token,
		SessionKey:  sessionKey,
		Model:       rt.cfg.Providers.DefaultModel,
		Logger:      rt.log.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	executor, err := planner.NewPlanExecutor(planner.ExecutorConfig{
		Runner: runner,
		Stream: stream,
		Token:  token,
		Logger: rt.log.Zerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	broadcaster := rt.serveGateway()
	done := consumeEvents(stream, broadcaster, rt.log.Component("plan"))

	summary, err := executor.Execute(ctx, plan)
	stream.Close()
	<-done
	rt.metrics.SubagentRunsActive.Set(float64(coordinator.Stats().ActiveRuns))
	if err != nil {
		return fmt.Errorf("plan execution failed: %w", err)
	}

	for taskID, ok := range summary.Results {
		outcome := "succeeded"
		if !ok {
			outcome = "failed"
		}
		rt.metrics.PlanTasksTotal.WithLabelValues(outcome).Inc()
		fmt.Printf("  %-16s %s\n", taskID, outcome)
	}
	fmt.Printf("\nPlan %s: %d/%d tasks succeeded\n", summary.PlanID, summary.Succeeded, summary.Total)
	if summary.Succeeded < summary.Total {
		return fmt.Errorf("%d tasks failed", summary.Total-summary.Succeeded)
	}
	return nil
}

// promptApproval asks on stdin before a flagged plan runs.
func promptApproval(ctx context.Context, plan *planner.Plan) (planner.Decision, error) {
	fmt.Print("This plan requires approval. Execute? [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return planner.Reject, fmt.Errorf("failed to read approval: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return planner.Approve, nil
	default:
		return planner.Reject, nil
	}
}
