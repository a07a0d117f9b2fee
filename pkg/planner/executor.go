package planner

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rakha/easel/pkg/events"
	"github.com/rakha/easel/pkg/loop"
	"github.com/rakha/easel/pkg/toolengine"
)

// SubAgentRunner executes one task as an isolated run. The resources
// snapshot is the runner's to own; the executor never reads it back.
type SubAgentRunner interface {
	Run(ctx context.Context, task Task, resources *toolengine.Snapshot) error
}

// Executor walks a plan's phase graph, dispatching tasks to sub-agent
// runs. Phases execute in topological order over DependsOn; tasks inside
// a parallel phase fan out, everything else is sequential. A failed or
// timed-out task is recorded and the plan continues.
type Executor struct {
	runner   SubAgentRunner
	stream   *events.Stream
	token    *loop.CancelToken
	snapshot *toolengine.Snapshot
	logger   zerolog.Logger
}

// ExecutorConfig wires the executor's collaborators.
type ExecutorConfig struct {
	Runner   SubAgentRunner
	Stream   *events.Stream
	Token    *loop.CancelToken
	Snapshot *toolengine.Snapshot
	Logger   zerolog.Logger
}

// NewPlanExecutor creates an executor. Runner is required; the snapshot
// seeds each task's isolated copy and may be nil for a fresh workspace.
func NewPlanExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("sub-agent runner is required")
	}
	if cfg.Stream == nil {
		cfg.Stream = events.NewStream(64)
	}
	if cfg.Token == nil {
		cfg.Token = loop.NewCancelToken()
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = toolengine.NewSnapshot(0, 0)
	}
	return &Executor{
		runner:   cfg.Runner,
		stream:   cfg.Stream,
		token:    cfg.Token,
		snapshot: cfg.Snapshot,
		logger:   cfg.Logger.With().Str("component", "plan_executor").Logger(),
	}, nil
}

// Stream returns the executor's event stream.
func (e *Executor) Stream() *events.Stream {
	return e.stream
}

// Execute runs the plan to completion and reports succeeded/total. Task
// failures never abort the plan; only a cyclic phase graph or
// cancellation stops it early.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Summary, error) {
	order, err := executionOrder(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to order phases: %w", err)
	}

	e.stream.Emit(events.Event{Type: events.TypePlan, Data: map[string]interface{}{
		"plan_id": plan.ID,
		"phases":  len(plan.Phases),
		"tasks":   plan.TotalTasks(),
	}})

	summary := &Summary{
		PlanID:  plan.ID,
		Total:   plan.TotalTasks(),
		Results: make(map[string]bool),
	}

	for _, phase := range order {
		// Cancellation is observed at phase boundaries; the running
		// phase always finishes.
		if e.token.Cancelled() {
			e.stream.Emit(events.Event{Type: events.TypeCancelled, Data: map[string]interface{}{
				"plan_id": plan.ID,
				"reason":  e.token.Reason(),
			}})
			return summary, nil
		}

		e.executePhase(ctx, phase, summary)
	}

	e.logger.Info().
		Str("plan_id", plan.ID).
		Int("succeeded", summary.Succeeded).
		Int("total", summary.Total).
		Msg("Plan execution finished")
	return summary, nil
}

func (e *Executor) executePhase(ctx context.Context, phase Phase, summary *Summary) {
	e.stream.Emit(events.Event{Type: events.TypeStepStart, Data: map[string]interface{}{
		"phase":    phase.ID,
		"tasks":    len(phase.Tasks),
		"parallel": phase.Parallel,
	}})

	if phase.Parallel && len(phase.Tasks) >= 2 {
		results := make([]error, len(phase.Tasks))
		var wg sync.WaitGroup
		for i, task := range phase.Tasks {
			wg.Add(1)
			go func(i int, task Task) {
				defer wg.Done()
				results[i] = e.executeTask(ctx, task)
			}(i, task)
		}
		wg.Wait()
		for i, task := range phase.Tasks {
			e.recordTask(task, results[i], summary)
		}
	} else {
		for _, task := range phase.Tasks {
			e.recordTask(task, e.executeTask(ctx, task), summary)
		}
	}

	e.stream.Emit(events.Event{Type: events.TypeStepComplete, Data: map[string]interface{}{
		"phase": phase.ID,
	}})
}

// executeTask dispatches one task with its own deadline and an isolated
// copy of the parent's resources.
func (e *Executor) executeTask(ctx context.Context, task Task) error {
	taskCtx := ctx
	if task.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, task.Limits.Timeout)
		defer cancel()
	}

	resources := e.snapshot.Clone(task.Limits.MaxTokens)
	err := e.runner.Run(taskCtx, task, resources)
	if err == nil && taskCtx.Err() != nil {
		// The runner returned after the deadline; count it as timed out.
		err = taskCtx.Err()
	}
	return err
}

func (e *Executor) recordTask(task Task, err error, summary *Summary) {
	if err != nil {
		summary.Results[task.ID] = false
		e.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Task failed")
		e.stream.Emit(events.Event{Type: events.TypeError, Data: map[string]interface{}{
			"task_id": task.ID,
			"error":   err.Error(),
		}})
		return
	}
	summary.Results[task.ID] = true
	summary.Succeeded++
	e.stream.Emit(events.Event{Type: events.TypeStepComplete, Data: map[string]interface{}{
		"task_id": task.ID,
	}})
}

// executionOrder returns phases in an order consistent with DependsOn,
// failing fast on cycles or unknown references.
func executionOrder(plan *Plan) ([]Phase, error) {
	byID := make(map[string]Phase, len(plan.Phases))
	for _, phase := range plan.Phases {
		if _, dup := byID[phase.ID]; dup {
			return nil, fmt.Errorf("duplicate phase ID: %s", phase.ID)
		}
		byID[phase.ID] = phase
	}
	for _, phase := range plan.Phases {
		for _, dep := range phase.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("phase %s depends on unknown phase: %s", phase.ID, dep)
			}
		}
	}

	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var ordered []Phase

	var visit func(id string) error
	visit = func(id string) error {
		if inStack[id] {
			return fmt.Errorf("dependency cycle detected involving phase: %s", id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		inStack[id] = true
		for _, dep := range byID[id].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		inStack[id] = false
		ordered = append(ordered, byID[id])
		return nil
	}

	// Iterate in declaration order so independent phases keep a stable
	// position.
	for _, phase := range plan.Phases {
		if err := visit(phase.ID); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
