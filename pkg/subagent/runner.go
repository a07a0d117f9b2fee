package subagent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rakha/easel/pkg/budget"
	"github.com/rakha/easel/pkg/events"
	"github.com/rakha/easel/pkg/loop"
	"github.com/rakha/easel/pkg/planner"
	"github.com/rakha/easel/pkg/provider"
	"github.com/rakha/easel/pkg/toolengine"
)

// agentPrompts maps specialist agent types to their system prompts.
var agentPrompts = map[string]string{
	"layout":  "You are a layout specialist. Build structural canvas elements: frames, grids, headers, navigation.",
	"content": "You are a content specialist. Fill canvas sections with text, images and cards.",
	"forms":   "You are a forms specialist. Build form elements with labels, inputs and buttons.",
	"styling": "You are a styling specialist. Adjust colors, spacing and typography for visual consistency.",
	"dataviz": "You are a data visualization specialist. Build charts and data-driven elements.",
}

// Runner executes plan tasks as isolated iteration loops. Each run gets
// its own context budget and the snapshot handed over by the plan
// executor; only the tool registry and the cancellation token are shared
// with the parent.
type Runner struct {
	provider    provider.Provider
	engine      *toolengine.Engine
	coordinator *Coordinator
	stream      *events.Stream
	token       *loop.CancelToken
	sessionKey  string
	model       string
	logger      zerolog.Logger
}

// RunnerConfig wires a runner's collaborators.
type RunnerConfig struct {
	Provider    provider.Provider
	Engine      *toolengine.Engine
	Coordinator *Coordinator
	Stream      *events.Stream
	Token       *loop.CancelToken
	SessionKey  string
	Model       string
	Logger      zerolog.Logger
}

// NewRunner creates a sub-agent runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("tool engine is required")
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if cfg.Token == nil {
		cfg.Token = loop.NewCancelToken()
	}
	return &Runner{
		provider:    cfg.Provider,
		engine:      cfg.Engine,
		coordinator: cfg.Coordinator,
		stream:      cfg.Stream,
		token:       cfg.Token,
		sessionKey:  cfg.SessionKey,
		model:       cfg.Model,
		logger:      cfg.Logger.With().Str("component", "subagent_runner").Logger(),
	}, nil
}

// taskPrompt folds the task's named inputs into the description so the
// sub-agent sees the section context it was planned with. Keys are
// rendered in sorted order to keep prompts stable across runs.
func taskPrompt(task planner.Task) string {
	if len(task.Inputs) == 0 {
		return task.Description
	}
	keys := make([]string, 0, len(task.Inputs))
	for k := range task.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(task.Description)
	sb.WriteString("\n\nInputs:")
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n- %s: %s", k, task.Inputs[k])
	}
	return sb.String()
}

// Run executes one task to a terminal state. A non-complete terminal
// state is reported as an error so the plan executor records the task
// failed; the plan itself continues.
func (r *Runner) Run(ctx context.Context, task planner.Task, resources *toolengine.Snapshot) error {
	childKey := fmt.Sprintf("%s:%s", r.sessionKey, task.ID)

	runID, err := r.coordinator.Register(RunParams{
		ParentSessionKey: r.sessionKey,
		ChildSessionKey:  childKey,
		TaskID:           task.ID,
		AgentType:        task.AgentType,
		Description:      task.Description,
	})
	if err != nil {
		return fmt.Errorf("failed to register run: %w", err)
	}

	l, err := loop.New(loop.Config{
		SessionKey:    childKey,
		Task:          taskPrompt(task),
		Model:         r.model,
		SystemPrompt:  agentPrompts[task.AgentType],
		MaxIterations: task.Limits.MaxIterations,
		MaxTokens:     task.Limits.MaxTokens,
		Timeout:       task.Limits.Timeout,
	}, loop.Deps{
		Provider: r.provider,
		Engine:   r.engine,
		Budget:   budget.NewManager(task.Limits.MaxTokens, r.logger),
		Snapshot: resources,
		Stream:   r.stream,
		Token:    r.token,
		Logger:   r.logger,
	})
	if err != nil {
		markErr := r.coordinator.MarkFailed(runID, nil, err.Error())
		if markErr != nil {
			r.logger.Error().Err(markErr).Str("run_id", runID).Msg("Failed to record run failure")
		}
		return fmt.Errorf("failed to create loop: %w", err)
	}

	if err := r.coordinator.MarkRunning(runID); err != nil {
		r.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to mark run running")
	}

	result := l.Run(ctx)
	outcome := &RunOutcome{
		State:         string(result.State),
		Iterations:    result.Iterations,
		TokensUsed:    result.TokensUsed,
		CanvasVersion: result.CanvasVersion,
		ElementIDs:    result.ElementIDs,
	}

	switch result.State {
	case loop.StateComplete:
		if err := r.coordinator.MarkCompleted(runID, outcome); err != nil {
			r.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to record run completion")
		}
		return nil
	case loop.StateCancelled, loop.StateTimeout:
		if err := r.coordinator.MarkAborted(runID, result.Reason); err != nil {
			r.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to record run abort")
		}
		return fmt.Errorf("run %s: %s", result.State, result.Reason)
	default:
		if err := r.coordinator.MarkFailed(runID, outcome, result.Reason); err != nil {
			r.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to record run failure")
		}
		return fmt.Errorf("run failed: %s", result.Reason)
	}
}
