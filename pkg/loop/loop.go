package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rakha/easel/pkg/budget"
	"github.com/rakha/easel/pkg/checkpoint"
	"github.com/rakha/easel/pkg/events"
	"github.com/rakha/easel/pkg/provider"
	"github.com/rakha/easel/pkg/toolengine"
)

// Loop drives one task to completion through the think, act, observe,
// decide cycle. It owns its IterationState exclusively: history lives in
// the budget manager, resources in the snapshot, and both are destroyed
// with the loop.
type Loop struct {
	cfg         Config
	provider    provider.Provider
	engine      *toolengine.Engine
	budget      *budget.Manager
	snap        *toolengine.Snapshot
	stream      *events.Stream
	checkpoints checkpoint.Store
	token       *CancelToken
	logger      zerolog.Logger

	elementIDs []string
}

// Deps bundles the loop's collaborators.
type Deps struct {
	Provider    provider.Provider
	Engine      *toolengine.Engine
	Budget      *budget.Manager
	Snapshot    *toolengine.Snapshot
	Stream      *events.Stream
	Checkpoints checkpoint.Store
	Token       *CancelToken
	Logger      zerolog.Logger
}

// New creates a loop. The stream is emitted to but never closed here; the
// caller owns its lifecycle.
func New(cfg Config, deps Deps) (*Loop, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("tool engine is required")
	}
	if deps.Budget == nil {
		return nil, fmt.Errorf("budget manager is required")
	}
	if cfg.Task == "" {
		return nil, fmt.Errorf("task cannot be empty")
	}

	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.GenMaxRetries <= 0 {
		cfg.GenMaxRetries = 3
	}
	if cfg.GenRetryDelay <= 0 {
		cfg.GenRetryDelay = time.Second
	}

	snap := deps.Snapshot
	if snap == nil {
		snap = toolengine.NewSnapshot(cfg.MaxTokens, 50)
	}
	token := deps.Token
	if token == nil {
		token = NewCancelToken()
	}
	stream := deps.Stream
	if stream == nil {
		stream = events.NewStream(64)
	}

	return &Loop{
		cfg:         cfg,
		provider:    deps.Provider,
		engine:      deps.Engine,
		budget:      deps.Budget,
		snap:        snap,
		stream:      stream,
		checkpoints: deps.Checkpoints,
		token:       token,
		logger:      deps.Logger.With().Str("component", "loop").Str("session_key", cfg.SessionKey).Logger(),
	}, nil
}

// Stream returns the loop's event stream.
func (l *Loop) Stream() *events.Stream {
	return l.stream
}

// Snapshot returns the loop's resource snapshot.
func (l *Loop) Snapshot() *toolengine.Snapshot {
	return l.snap
}

// Run executes the state machine until a terminal state. Failures surface
// through the returned Result and the event stream, never through a panic
// or an error escaping the generator boundary.
func (l *Loop) Run(ctx context.Context) Result {
	start := time.Now()

	l.budget.Admit(budget.Message{
		Role:    "system",
		Content: l.systemPrompt(),
		Tier:    budget.TierSystem,
	})
	l.budget.Admit(budget.Message{
		Role:    "user",
		Content: l.cfg.Task,
		Tier:    budget.TierTaskCritical,
	})
	l.snap.SetTaskStatus("running")

	tools := l.toolSchemas()

	for iteration := 0; ; iteration++ {
		// THINK
		l.emit(events.TypeThinking, map[string]interface{}{"iteration": iteration})
		resp, err := l.think(ctx, tools)
		if err != nil {
			return l.terminate(StateFailed, iteration, fmt.Sprintf("generation failed: %v", err))
		}
		if resp.Empty() {
			return l.terminate(StateFailed, iteration, "model returned no text and no tool calls")
		}
		l.snap.AddTokens(resp.Usage.Total())

		if len(resp.ToolCalls) == 0 {
			// Finish signal with no pending tool calls.
			l.budget.Admit(budget.Message{
				Role:    "assistant",
				Content: resp.Text,
				Tier:    budget.TierHistory,
			})
			l.snap.SetTaskStatus("complete")
			result := l.result(StateComplete, iteration+1)
			result.Response = resp.Text
			l.emit(events.TypeComplete, map[string]interface{}{
				"response":    resp.Text,
				"element_ids": result.ElementIDs,
			})
			return result
		}

		// ACT
		results := l.act(ctx, resp.ToolCalls)

		// Cancellation between ACT and OBSERVE discards in-flight results.
		if l.token.Cancelled() {
			return l.terminate(StateCancelled, iteration, l.token.Reason())
		}

		// OBSERVE
		abort, reason := l.observe(resp, results)
		if abort {
			return l.terminate(StateFailed, iteration, reason)
		}

		// DECIDE
		if l.token.Cancelled() {
			return l.terminate(StateCancelled, iteration, l.token.Reason())
		}
		if ctx.Err() != nil {
			return l.terminate(StateCancelled, iteration, ctx.Err().Error())
		}
		if iteration+1 >= l.cfg.MaxIterations {
			return l.terminate(StateFailed, iteration+1, "max iterations exceeded")
		}
		if l.cfg.Timeout > 0 && time.Since(start) > l.cfg.Timeout {
			return l.terminate(StateTimeout, iteration+1, fmt.Sprintf("wall clock exceeded %s", l.cfg.Timeout))
		}

		l.maybeCheckpoint(iteration + 1)
	}
}

// think requests a decision from the reasoning service, retrying transient
// failures with exponential backoff. Fresh awareness content rides along on
// the system prompt; stale content is withheld until refreshed.
func (l *Loop) think(ctx context.Context, tools []map[string]interface{}) (*provider.Response, error) {
	sys := l.systemPrompt()
	if aware, fresh := l.budget.Awareness(); fresh {
		sys = sys + "\n\nCurrent canvas state:\n" + aware
	}

	req := provider.Request{
		Model:        l.cfg.Model,
		SystemPrompt: sys,
		Messages:     l.replayMessages(),
		Tools:        tools,
		MaxTokens:    l.cfg.MaxTokens,
		Temperature:  l.cfg.Temperature,
	}

	var lastErr error
	for attempt := 0; attempt < l.cfg.GenMaxRetries; attempt++ {
		resp, err := l.provider.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !provider.IsRetryable(err) {
			return nil, err
		}
		if attempt == l.cfg.GenMaxRetries-1 {
			break
		}

		delay := l.cfg.GenRetryDelay * time.Duration(1<<attempt)
		l.logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("Retrying generation")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", l.cfg.GenMaxRetries, lastErr)
}

// act dispatches the proposed tool calls, sequentially unless the run is
// configured for independent calls. One tool_call and one tool_result
// event per call.
func (l *Loop) act(ctx context.Context, toolCalls []provider.ToolCall) []toolengine.Result {
	calls := make([]toolengine.Call, len(toolCalls))
	for i, tc := range toolCalls {
		calls[i] = toolengine.Call{Name: tc.Name, Params: tc.Params, CallID: tc.ID}
		l.emit(events.TypeToolCall, map[string]interface{}{
			"tool":    tc.Name,
			"call_id": tc.ID,
		})
	}

	var results []toolengine.Result
	if l.cfg.ParallelToolCalls && len(calls) > 1 {
		results = l.engine.ExecuteParallel(ctx, calls, l.snap)
	} else {
		results = make([]toolengine.Result, len(calls))
		for i, call := range calls {
			results[i] = l.engine.Execute(ctx, call, l.snap)
		}
	}

	for _, result := range results {
		l.emit(events.TypeToolResult, map[string]interface{}{
			"call_id": result.CallID,
			"success": result.Success,
		})
	}
	return results
}

// observe folds the assistant turn and tool results into history. Mutating
// successes invalidate awareness; failures become context for the next
// THINK unless configured terminal.
func (l *Loop) observe(resp *provider.Response, results []toolengine.Result) (abort bool, reason string) {
	l.budget.Admit(budget.Message{
		Role:    "assistant",
		Content: resp.Text,
		Tier:    budget.TierHistory,
		Meta:    map[string]interface{}{"tool_calls": resp.ToolCalls},
	})

	mutating := l.engine.MutatingTools()
	byCallID := make(map[string]provider.ToolCall, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		byCallID[tc.ID] = tc
	}

	for _, result := range results {
		content := fmt.Sprintf("%v", result.Output)
		if !result.Success {
			content = result.Error
			l.emit(events.TypeError, map[string]interface{}{
				"call_id": result.CallID,
				"code":    result.Code,
				"error":   result.Error,
			})
		}
		l.budget.Admit(budget.Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: result.CallID,
			Tier:       budget.TierHistory,
		})

		if result.Success {
			if tc, ok := byCallID[result.CallID]; ok && mutating[tc.Name] {
				l.budget.MarkAwarenessStale()
			}
			l.collectElementIDs(result.Output)
		}

		if !result.Success && !result.Recoverable && l.cfg.StopOnToolError {
			return true, fmt.Sprintf("tool %s failed: %s", byCallID[result.CallID].Name, result.Error)
		}
	}
	return false, ""
}

// collectElementIDs pulls canvas element ids out of tool output.
func (l *Loop) collectElementIDs(output interface{}) {
	m, ok := output.(map[string]interface{})
	if !ok {
		return
	}
	if id, ok := m["id"].(string); ok && id != "" {
		l.elementIDs = append(l.elementIDs, id)
	}
	switch ids := m["element_ids"].(type) {
	case []string:
		l.elementIDs = append(l.elementIDs, ids...)
	case []interface{}:
		for _, v := range ids {
			if s, ok := v.(string); ok {
				l.elementIDs = append(l.elementIDs, s)
			}
		}
	}
}

// replayMessages converts retained history to provider form, preserving
// insertion order.
func (l *Loop) replayMessages() []provider.Message {
	retained := l.budget.Messages()
	out := make([]provider.Message, 0, len(retained))
	for _, msg := range retained {
		pm := provider.Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if msg.Meta != nil {
			if calls, ok := msg.Meta["tool_calls"].([]provider.ToolCall); ok {
				pm.ToolCalls = calls
			}
		}
		out = append(out, pm)
	}
	return out
}

func (l *Loop) toolSchemas() []map[string]interface{} {
	names := l.cfg.Tools
	if len(names) == 0 {
		names = l.engine.List()
	}
	schemas := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		if def := l.engine.Get(name); def != nil {
			schemas = append(schemas, def.Schema())
		}
	}
	return schemas
}

func (l *Loop) systemPrompt() string {
	if l.cfg.SystemPrompt != "" {
		return l.cfg.SystemPrompt
	}
	return "You are a canvas editing agent. Use the available tools to complete the task."
}

// maybeCheckpoint persists a snapshot of the run at the configured cadence.
func (l *Loop) maybeCheckpoint(iteration int) {
	if l.checkpoints == nil || l.cfg.CheckpointEvery <= 0 {
		return
	}
	if iteration%l.cfg.CheckpointEvery != 0 {
		return
	}

	used, _ := l.snap.Tokens()
	cp := checkpoint.Checkpoint{
		SessionKey:    l.cfg.SessionKey,
		Iteration:     iteration,
		CanvasVersion: l.snap.Version(),
		TokensUsed:    used,
		TaskStatus:    l.snap.TaskStatus(),
		CreatedAt:     time.Now(),
	}
	for _, msg := range l.budget.Messages() {
		cp.History = append(cp.History, checkpoint.Entry{Role: msg.Role, Content: msg.Content})
	}

	if err := l.checkpoints.Save(cp); err != nil {
		l.logger.Error().Err(err).Int("iteration", iteration).Msg("Failed to save checkpoint")
	}
}

func (l *Loop) terminate(state State, iterations int, reason string) Result {
	result := l.result(state, iterations)
	result.Reason = reason

	var evt events.Type
	switch state {
	case StateFailed:
		evt = events.TypeFailed
		l.snap.SetTaskStatus("failed")
	case StateTimeout:
		evt = events.TypeTimeout
		l.snap.SetTaskStatus("timeout")
	case StateCancelled:
		evt = events.TypeCancelled
		l.snap.SetTaskStatus("cancelled")
	default:
		evt = events.TypeComplete
	}

	l.logger.Info().Str("state", string(state)).Str("reason", reason).Int("iterations", iterations).Msg("Loop terminated")
	l.emit(evt, map[string]interface{}{"reason": reason})
	return result
}

func (l *Loop) result(state State, iterations int) Result {
	used, _ := l.snap.Tokens()
	return Result{
		SessionKey:    l.cfg.SessionKey,
		State:         state,
		Iterations:    iterations,
		ElementIDs:    append([]string(nil), l.elementIDs...),
		TokensUsed:    used,
		CanvasVersion: l.snap.Version(),
	}
}

func (l *Loop) emit(evtType events.Type, data map[string]interface{}) {
	l.stream.Emit(events.Event{
		Type:       evtType,
		SessionKey: l.cfg.SessionKey,
		Data:       data,
	})
}
