package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/rakha/easel/pkg/events"
	"github.com/rakha/easel/pkg/loop"
	"github.com/rakha/easel/pkg/session"
)

var (
	runModel           string
	runMaxIterations   int
	runTimeout         time.Duration
	runParallelTools   bool
	runCheckpointEvery int
	runSession         string
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a single task through the agent loop",
	Long: `Run drives one task to completion against an in-memory canvas.
Events are logged as they happen; the final result is printed when the
loop reaches a terminal state.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runModel, "model", "", "model to generate with (default from config)")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "iteration cap (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "wall clock limit (default from config)")
	runCmd.Flags().BoolVar(&runParallelTools, "parallel-tools", false, "dispatch independent tool calls concurrently")
	runCmd.Flags().IntVar(&runCheckpointEvery, "checkpoint-every", 0, "iterations between checkpoints, 0 disables")
	runCmd.Flags().StringVar(&runSession, "session", "", "session key (default: random)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	rt, err := setupRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	rt.serveMetrics()
	broadcaster := rt.serveGateway()

	cfg := rt.cfg
	model := runModel
	if model == "" {
		model = cfg.Providers.DefaultModel
	}
	maxIterations := runMaxIterations
	if maxIterations <= 0 {
		maxIterations = cfg.Loop.MaxIterations
	}
	timeout := runTimeout
	if timeout <= 0 {
		timeout = time.Duration(cfg.Loop.TimeoutSeconds) * time.Second
	}
	checkpointEvery := runCheckpointEvery
	if checkpointEvery <= 0 {
		checkpointEvery = cfg.Loop.CheckpointEvery
	}
	sessionKey := runSession
	if sessionKey == "" {
		sessionKey, err = gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate session key: %w", err)
		}
	}

	stream := events.NewStream(64)
	token := loop.NewCancelToken()

	l, err := loop.New(loop.Config{
		SessionKey:        sessionKey,
		Task:              args[0],
		Model:             model,
		Temperature:       cfg.Providers.Temperature,
		MaxTokens:         cfg.Budget.TokenBudget,
		MaxIterations:     maxIterations,
		Timeout:           timeout,
		GenMaxRetries:     cfg.Loop.GenMaxRetries,
		CheckpointEvery:   checkpointEvery,
		ParallelToolCalls: runParallelTools || cfg.Loop.ParallelToolCalls,
	}, loop.Deps{
		Provider:    rt.chain,
		Engine:      rt.engine,
		Budget:      rt.budget,
		Stream:      stream,
		Checkpoints: rt.store,
		Token:       token,
		Logger:      rt.log.Zerolog(),
	})
	if err != nil {
		return err
	}

	// Ctrl-C requests a graceful stop; the loop observes it at the next
	// decision point.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		token.Cancel("interrupted")
	}()
	defer signal.Stop(sigs)

	done := consumeEvents(stream, broadcaster, rt.log.Component("run"))

	started := time.Now()
	result := l.Run(cmd.Context())
	stream.Close()
	<-done

	zlog := rt.log.Component("run")
	if store, serr := session.NewStore(filepath.Join(cfg.DataDir, "sessions"), rt.log.Zerolog()); serr == nil {
		if serr = store.Save(session.Record{
			SessionKey:    result.SessionKey,
			Task:          args[0],
			State:         result.State,
			Response:      result.Response,
			Reason:        result.Reason,
			Iterations:    result.Iterations,
			TokensUsed:    result.TokensUsed,
			CanvasVersion: result.CanvasVersion,
			ElementIDs:    result.ElementIDs,
		}); serr != nil {
			zlog.Warn().Err(serr).Msg("Failed to persist session record")
		}
	}

	rt.metrics.LoopRunsTotal.WithLabelValues(string(result.State)).Inc()
	rt.metrics.LoopIterations.Observe(float64(result.Iterations))
	rt.metrics.LoopDuration.Observe(time.Since(started).Seconds())
	rt.metrics.LoopTokensConsumed.Add(float64(result.TokensUsed))
	rt.metrics.CanvasVersion.Set(float64(result.CanvasVersion))

	budgetStats := rt.budget.Stats()
	rt.metrics.MessagesEvictedTotal.Add(float64(budgetStats.Evicted))
	rt.metrics.CompressionsTotal.Add(float64(budgetStats.Compressions))
	rt.metrics.BudgetOverflowsTotal.Add(float64(budgetStats.Overflows))

	fmt.Printf("\nSession:    %s\n", result.SessionKey)
	fmt.Printf("State:      %s\n", result.State)
	fmt.Printf("Iterations: %d\n", result.Iterations)
	fmt.Printf("Tokens:     %d\n", result.TokensUsed)
	fmt.Printf("Canvas v:   %d\n", result.CanvasVersion)
	if len(result.ElementIDs) > 0 {
		fmt.Printf("Elements:   %v\n", result.ElementIDs)
	}
	if result.Response != "" {
		fmt.Printf("\n%s\n", result.Response)
	}
	if result.State != loop.StateComplete {
		return fmt.Errorf("run ended in state %s: %s", result.State, result.Reason)
	}
	return nil
}
