package loop

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rakha/easel/pkg/budget"
	"github.com/rakha/easel/pkg/checkpoint"
	"github.com/rakha/easel/pkg/events"
	"github.com/rakha/easel/pkg/provider"
	"github.com/rakha/easel/pkg/toolengine"
)

// scriptedProvider returns canned responses in order, repeating the last
// one when the script runs out.
type scriptedProvider struct {
	script []scriptStep
	calls  int
	onCall func(call int)
	reqs   []provider.Request
}

type scriptStep struct {
	resp *provider.Response
	err  error
}

func (p *scriptedProvider) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	idx := p.calls
	p.calls++
	p.reqs = append(p.reqs, req)
	if p.onCall != nil {
		p.onCall(p.calls)
	}
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	step := p.script[idx]
	return step.resp, step.err
}

func (p *scriptedProvider) Name() string { return "scripted" }

func newTestEngine(t *testing.T) *toolengine.Engine {
	t.Helper()
	engine := toolengine.New(toolengine.Config{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Logger:     zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	err := engine.Register(toolengine.Definition{
		Name:        "canvas_add_element",
		Description: "Adds an element to the canvas",
		Mutating:    true,
		Parameters: []toolengine.Param{
			{Name: "kind", Type: "string", Description: "Element kind", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, tc *toolengine.ToolContext) (interface{}, error) {
			return map[string]interface{}{"id": "el-1"}, nil
		},
	})
	require.NoError(t, err)
	return engine
}

func newTestLoop(t *testing.T, cfg Config, deps Deps) *Loop {
	t.Helper()
	if deps.Engine == nil {
		deps.Engine = newTestEngine(t)
	}
	if deps.Budget == nil {
		deps.Budget = budget.NewManager(8192, zerolog.New(os.Stdout).Level(zerolog.ErrorLevel))
	}
	deps.Logger = zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
	if cfg.Task == "" {
		cfg.Task = "create a rectangle"
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = "test-session"
	}
	cfg.GenRetryDelay = time.Millisecond

	l, err := New(cfg, deps)
	require.NoError(t, err)
	return l
}

func eventTypes(evts []events.Event) []events.Type {
	out := make([]events.Type, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("should fail without provider", func(t *testing.T) {
		_, err := New(Config{Task: "x"}, Deps{
			Engine: newTestEngine(t),
			Budget: budget.NewManager(100, zerolog.Nop()),
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "provider")
	})

	t.Run("should fail without task", func(t *testing.T) {
		_, err := New(Config{}, Deps{
			Provider: &scriptedProvider{script: []scriptStep{{resp: &provider.Response{Text: "ok"}}}},
			Engine:   newTestEngine(t),
			Budget:   budget.NewManager(100, zerolog.Nop()),
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "task")
	})
}

func TestRunEndToEnd(t *testing.T) {
	t.Run("should complete the rectangle scenario", func(t *testing.T) {
		prov := &scriptedProvider{script: []scriptStep{
			{resp: &provider.Response{
				ToolCalls: []provider.ToolCall{{
					ID:     "call-1",
					Name:   "canvas_add_element",
					Params: map[string]interface{}{"kind": "rectangle"},
				}},
				Usage: provider.Usage{InputTokens: 10, OutputTokens: 5},
			}},
			{resp: &provider.Response{
				Text:  "The rectangle has been created.",
				Usage: provider.Usage{InputTokens: 12, OutputTokens: 6},
			}},
		}}

		l := newTestLoop(t, Config{}, Deps{Provider: prov})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateComplete, result.State)
		assert.Equal(t, "The rectangle has been created.", result.Response)
		assert.Equal(t, []string{"el-1"}, result.ElementIDs)
		assert.Equal(t, 1, result.CanvasVersion)
		assert.Equal(t, 33, result.TokensUsed)

		types := eventTypes(events.Drain(l.Stream()))
		assert.Equal(t, []events.Type{
			events.TypeThinking,
			events.TypeToolCall,
			events.TypeToolResult,
			events.TypeThinking,
			events.TypeComplete,
		}, types)
	})

	t.Run("should emit non-decreasing timestamps", func(t *testing.T) {
		prov := &scriptedProvider{script: []scriptStep{
			{resp: &provider.Response{Text: "done"}},
		}}
		l := newTestLoop(t, Config{}, Deps{Provider: prov})

		l.Run(context.Background())
		l.Stream().Close()

		var last int64
		for _, evt := range events.Drain(l.Stream()) {
			assert.GreaterOrEqual(t, evt.Timestamp, last)
			last = evt.Timestamp
		}
	})
}

func TestRunFailure(t *testing.T) {
	t.Run("should fail after max iterations", func(t *testing.T) {
		// Model keeps proposing tool calls forever.
		prov := &scriptedProvider{script: []scriptStep{
			{resp: &provider.Response{
				ToolCalls: []provider.ToolCall{{
					ID:     "call-n",
					Name:   "canvas_add_element",
					Params: map[string]interface{}{"kind": "box"},
				}},
			}},
		}}
		l := newTestLoop(t, Config{MaxIterations: 3}, Deps{Provider: prov})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateFailed, result.State)
		assert.Contains(t, result.Reason, "max iterations")
		assert.Equal(t, 3, prov.calls)
	})

	t.Run("should fail on empty model response", func(t *testing.T) {
		prov := &scriptedProvider{script: []scriptStep{
			{resp: &provider.Response{}},
		}}
		l := newTestLoop(t, Config{}, Deps{Provider: prov})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateFailed, result.State)
		assert.Contains(t, result.Reason, "no text and no tool calls")
	})

	t.Run("should retry retryable generation errors with backoff", func(t *testing.T) {
		prov := &scriptedProvider{script: []scriptStep{
			{err: fmt.Errorf("503 service unavailable")},
			{err: fmt.Errorf("503 service unavailable")},
			{resp: &provider.Response{Text: "recovered"}},
		}}
		l := newTestLoop(t, Config{GenMaxRetries: 3}, Deps{Provider: prov})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateComplete, result.State)
		assert.Equal(t, 3, prov.calls)
	})

	t.Run("should fail after generation retries exhausted", func(t *testing.T) {
		prov := &scriptedProvider{script: []scriptStep{
			{err: fmt.Errorf("503 service unavailable")},
		}}
		l := newTestLoop(t, Config{GenMaxRetries: 2}, Deps{Provider: prov})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateFailed, result.State)
		assert.Equal(t, 2, prov.calls)
	})

	t.Run("should not retry non-retryable generation errors", func(t *testing.T) {
		prov := &scriptedProvider{script: []scriptStep{
			{err: fmt.Errorf("invalid API key")},
		}}
		l := newTestLoop(t, Config{GenMaxRetries: 3}, Deps{Provider: prov})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateFailed, result.State)
		assert.Equal(t, 1, prov.calls)
	})

	t.Run("should continue after recoverable tool failure", func(t *testing.T) {
		engine := toolengine.New(toolengine.Config{
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
			Logger:     zerolog.Nop(),
		})
		require.NoError(t, engine.Register(toolengine.Definition{
			Name:        "broken_tool",
			Description: "Always fails",
			Handler: func(ctx context.Context, params map[string]interface{}, tc *toolengine.ToolContext) (interface{}, error) {
				return nil, fmt.Errorf("backend unavailable")
			},
		}))

		prov := &scriptedProvider{script: []scriptStep{
			{resp: &provider.Response{
				ToolCalls: []provider.ToolCall{{ID: "c1", Name: "broken_tool", Params: map[string]interface{}{}}},
			}},
			{resp: &provider.Response{Text: "gave up on the tool"}},
		}}
		l := newTestLoop(t, Config{}, Deps{Provider: prov, Engine: engine})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateComplete, result.State)

		types := eventTypes(events.Drain(l.Stream()))
		assert.Contains(t, types, events.TypeError)
	})
}

func TestRunCancellation(t *testing.T) {
	t.Run("should terminate cancelled by the next decide", func(t *testing.T) {
		token := NewCancelToken()
		prov := &scriptedProvider{
			script: []scriptStep{
				{resp: &provider.Response{
					ToolCalls: []provider.ToolCall{{
						ID:     "call-n",
						Name:   "canvas_add_element",
						Params: map[string]interface{}{"kind": "box"},
					}},
				}},
			},
		}
		prov.onCall = func(call int) {
			if call == 2 {
				token.Cancel("user requested stop")
			}
		}

		l := newTestLoop(t, Config{MaxIterations: 10}, Deps{Provider: prov, Token: token})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateCancelled, result.State)
		assert.Equal(t, "user requested stop", result.Reason)
		assert.LessOrEqual(t, prov.calls, 3)

		evts := events.Drain(l.Stream())
		assert.Equal(t, events.TypeCancelled, evts[len(evts)-1].Type)
	})

	t.Run("should be one-shot", func(t *testing.T) {
		token := NewCancelToken()
		token.Cancel("first")
		token.Cancel("second")

		assert.True(t, token.Cancelled())
		assert.Equal(t, "first", token.Reason())
	})
}

func TestRunTimeout(t *testing.T) {
	t.Run("should terminate with timeout when wall clock exceeded", func(t *testing.T) {
		engine := toolengine.New(toolengine.Config{
			MaxRetries: 1,
			RetryDelay: time.Millisecond,
			Logger:     zerolog.Nop(),
		})
		require.NoError(t, engine.Register(toolengine.Definition{
			Name:        "slow_tool",
			Description: "Sleeps a little",
			Handler: func(ctx context.Context, params map[string]interface{}, tc *toolengine.ToolContext) (interface{}, error) {
				time.Sleep(20 * time.Millisecond)
				return "ok", nil
			},
		}))

		prov := &scriptedProvider{script: []scriptStep{
			{resp: &provider.Response{
				ToolCalls: []provider.ToolCall{{ID: "c", Name: "slow_tool", Params: map[string]interface{}{}}},
			}},
		}}
		l := newTestLoop(t, Config{MaxIterations: 100, Timeout: 10 * time.Millisecond}, Deps{
			Provider: prov,
			Engine:   engine,
		})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateTimeout, result.State)
	})
}

func TestCheckpointing(t *testing.T) {
	t.Run("should persist checkpoints at the configured cadence", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		prov := &scriptedProvider{script: []scriptStep{
			{resp: &provider.Response{
				ToolCalls: []provider.ToolCall{{
					ID:     "c",
					Name:   "canvas_add_element",
					Params: map[string]interface{}{"kind": "box"},
				}},
			}},
			{resp: &provider.Response{
				ToolCalls: []provider.ToolCall{{
					ID:     "c2",
					Name:   "canvas_add_element",
					Params: map[string]interface{}{"kind": "box"},
				}},
			}},
			{resp: &provider.Response{Text: "done"}},
		}}
		l := newTestLoop(t, Config{SessionKey: "cp-session", CheckpointEvery: 1}, Deps{
			Provider:    prov,
			Checkpoints: store,
		})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateComplete, result.State)

		cp, err := store.Load("cp-session")
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.GreaterOrEqual(t, cp.Iteration, 1)
		assert.NotEmpty(t, cp.History)
	})
}

func TestAwarenessInThink(t *testing.T) {
	t.Run("should carry fresh awareness on the system prompt", func(t *testing.T) {
		prov := &scriptedProvider{script: []scriptStep{{resp: &provider.Response{Text: "done"}}}}
		mgr := budget.NewManager(8192, zerolog.Nop())
		mgr.SetAwareness("canvas has 2 elements")

		l := newTestLoop(t, Config{}, Deps{Provider: prov, Budget: mgr})
		result := l.Run(context.Background())
		l.Stream().Close()

		require.Equal(t, StateComplete, result.State)
		require.Len(t, prov.reqs, 1)
		assert.Contains(t, prov.reqs[0].SystemPrompt, "canvas has 2 elements")
	})

	t.Run("should withhold awareness after a mutating call marks it stale", func(t *testing.T) {
		prov := &scriptedProvider{script: []scriptStep{
			{resp: &provider.Response{
				ToolCalls: []provider.ToolCall{{
					ID:     "c1",
					Name:   "canvas_add_element",
					Params: map[string]interface{}{"kind": "box"},
				}},
			}},
			{resp: &provider.Response{Text: "done"}},
		}}
		mgr := budget.NewManager(8192, zerolog.Nop())
		mgr.SetAwareness("canvas has 2 elements")

		l := newTestLoop(t, Config{}, Deps{Provider: prov, Budget: mgr})
		result := l.Run(context.Background())
		l.Stream().Close()

		require.Equal(t, StateComplete, result.State)
		require.Len(t, prov.reqs, 2)
		assert.Contains(t, prov.reqs[0].SystemPrompt, "canvas has 2 elements")
		assert.NotContains(t, prov.reqs[1].SystemPrompt, "canvas has 2 elements")
	})
}

func TestVersionMonotonic(t *testing.T) {
	t.Run("should bump version once per successful mutating call", func(t *testing.T) {
		var script []scriptStep
		for i := 0; i < 3; i++ {
			script = append(script, scriptStep{resp: &provider.Response{
				ToolCalls: []provider.ToolCall{{
					ID:     fmt.Sprintf("c%d", i),
					Name:   "canvas_add_element",
					Params: map[string]interface{}{"kind": "box"},
				}},
			}})
		}
		script = append(script, scriptStep{resp: &provider.Response{Text: "done"}})

		prov := &scriptedProvider{script: script}
		l := newTestLoop(t, Config{}, Deps{Provider: prov})

		result := l.Run(context.Background())
		l.Stream().Close()

		assert.Equal(t, StateComplete, result.State)
		assert.Equal(t, 3, result.CanvasVersion)
	})
}
