package toolengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Engine executes named tools against the canvas backend. It owns retry
// and backoff, hook interception, and version bumps on the resource
// snapshot passed into each call. The engine itself holds no mutable state
// beyond its configuration and registry; the registry is read-mostly after
// initialization.
type Engine struct {
	tools      map[string]*Definition
	schemas    map[string]*gojsonschema.Schema
	hooks      Hooks
	maxRetries int
	retryDelay time.Duration
	backend    interface{}
	logger     zerolog.Logger
	mu         sync.RWMutex
}

// Config holds engine configuration.
type Config struct {
	Hooks      Hooks
	MaxRetries int           // attempts after the first; default 2
	RetryDelay time.Duration // base backoff delay; default 200ms
	Backend    interface{}   // backend client handle passed to handlers
	Logger     zerolog.Logger
}

// New creates an Engine.
func New(cfg Config) *Engine {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		maxRetries = 2
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 200 * time.Millisecond
	}

	return &Engine{
		tools:      make(map[string]*Definition),
		schemas:    make(map[string]*gojsonschema.Schema),
		hooks:      cfg.Hooks,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		backend:    cfg.Backend,
		logger:     cfg.Logger.With().Str("component", "toolengine").Logger(),
	}
}

// Register adds a tool to the registry.
func (e *Engine) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[def.Name] = &def
	e.schemas[def.Name] = schema

	e.logger.Info().Str("tool", def.Name).Bool("mutating", def.Mutating).Msg("Tool registered")
	return nil
}

// Get returns a tool definition by name, or nil.
func (e *Engine) Get(name string) *Definition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tools[name]
}

// List returns all registered tool names.
func (e *Engine) List() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	return names
}

// MutatingTools returns the names of tools in the mutating partition.
func (e *Engine) MutatingTools() map[string]bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]bool)
	for name, def := range e.tools {
		if def.Mutating {
			out[name] = true
		}
	}
	return out
}

// Execute runs one named tool. Unknown tools and hook vetoes fail without
// retries and without side effects; handler errors are retried per the
// error hook or the engine's backoff policy. On success the snapshot's
// canvas version is bumped for mutating tools.
func (e *Engine) Execute(ctx context.Context, call Call, snap *Snapshot) Result {
	start := time.Now()

	e.mu.RLock()
	def := e.tools[call.Name]
	schema := e.schemas[call.Name]
	e.mu.RUnlock()

	if def == nil {
		e.logger.Error().Str("tool", call.Name).Msg("Tool not found")
		return Result{
			Success:    false,
			Error:      fmt.Sprintf("tool not found: %s", call.Name),
			Code:       CodeUnknownTool,
			DurationMs: time.Since(start).Milliseconds(),
			CallID:     call.CallID,
		}
	}

	if err := validateParams(schema, call.Params); err != nil {
		e.logger.Error().Str("tool", call.Name).Err(err).Msg("Parameter validation failed")
		return Result{
			Success:    false,
			Error:      fmt.Sprintf("parameter validation failed: %v", err),
			Code:       CodeInvalidParams,
			DurationMs: time.Since(start).Milliseconds(),
			CallID:     call.CallID,
		}
	}

	if err := e.hooks.runPre(ctx, call.Name, call.Params); err != nil {
		e.logger.Warn().Str("tool", call.Name).Err(err).Msg("Tool execution blocked by hook")
		return Result{
			Success:    false,
			Error:      err.Error(),
			Code:       CodeBlockedByHook,
			DurationMs: time.Since(start).Milliseconds(),
			CallID:     call.CallID,
		}
	}

	tc := &ToolContext{
		Resources: snap,
		Backend:   e.backend,
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		output, err := e.invoke(ctx, def, call.Params, tc)
		if err == nil {
			result := Result{
				Success:    true,
				Output:     output,
				DurationMs: time.Since(start).Milliseconds(),
				CallID:     call.CallID,
			}
			result.Output, result.Truncated = truncateOutput(result.Output)

			e.hooks.runPost(ctx, call.Name, result)

			if snap != nil {
				if def.Mutating {
					snap.BumpVersion()
				}
				snap.RecordCall(HistoryEntry{
					ToolName:   call.Name,
					CallID:     call.CallID,
					Success:    true,
					DurationMs: result.DurationMs,
					Timestamp:  time.Now(),
				})
			}

			e.logger.Debug().
				Str("tool", call.Name).
				Int("attempts", attempt+1).
				Int64("duration_ms", result.DurationMs).
				Msg("Tool execution completed")
			return result
		}

		lastErr = err
		e.logger.Warn().
			Str("tool", call.Name).
			Int("attempt", attempt+1).
			Err(err).
			Msg("Tool execution attempt failed")

		retry, delay := e.retryDecision(ctx, call.Name, attempt, err)
		if !retry {
			break
		}
		select {
		case <-ctx.Done():
			retry = false
		case <-time.After(delay):
		}
		if !retry {
			break
		}
	}

	result := Result{
		Success:    false,
		Error:      lastErr.Error(),
		Code:       CodeExecutionFailed,
		DurationMs: time.Since(start).Milliseconds(),
		CallID:     call.CallID,
	}
	if snap != nil {
		snap.RecordError(lastErr.Error())
		snap.RecordCall(HistoryEntry{
			ToolName:   call.Name,
			CallID:     call.CallID,
			Success:    false,
			DurationMs: result.DurationMs,
			Timestamp:  time.Now(),
		})
	}
	return result
}

// retryDecision consults the error hook, falling back to exponential
// backoff bounded by maxRetries.
func (e *Engine) retryDecision(ctx context.Context, toolName string, attempt int, err error) (bool, time.Duration) {
	if e.hooks.Error != nil {
		return e.hooks.Error(ctx, toolName, attempt, err)
	}
	if attempt >= e.maxRetries {
		return false, 0
	}
	return true, e.retryDelay * time.Duration(1<<attempt)
}

// invoke runs the handler under the call timeout.
func (e *Engine) invoke(ctx context.Context, def *Definition, params map[string]interface{}, tc *ToolContext) (interface{}, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		output, err := def.Handler(timeoutCtx, params, tc)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- output
		}
	}()

	select {
	case output := <-resultChan:
		return output, nil
	case err := <-errChan:
		return nil, err
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("tool execution timeout: %w", timeoutCtx.Err())
	}
}

// ExecuteSequence runs calls in order, short-circuiting on the first
// failure. Results cover only the calls that ran.
func (e *Engine) ExecuteSequence(ctx context.Context, calls []Call, snap *Snapshot) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		result := e.Execute(ctx, call, snap)
		results = append(results, result)
		if !result.Success {
			break
		}
	}
	return results
}

// ExecuteParallel runs calls concurrently with no ordering guarantee among
// them. All results are collected regardless of individual failure;
// results[i] corresponds to calls[i].
func (e *Engine) ExecuteParallel(ctx context.Context, calls []Call, snap *Snapshot) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c Call) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, c, snap)
		}(i, call)
	}
	wg.Wait()
	return results
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}
	return nil
}

func generateSchema(def Definition) (*gojsonschema.Schema, error) {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema
		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := []string{}
		for _, verr := range result.Errors() {
			errs = append(errs, verr.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}
	return nil
}

func truncateOutput(output interface{}) (interface{}, bool) {
	const maxSize = 10 * 1024

	str, ok := output.(string)
	if !ok {
		return output, false
	}
	if len(str) <= maxSize {
		return output, false
	}
	return str[:maxSize] + "\n... [output truncated]", true
}
