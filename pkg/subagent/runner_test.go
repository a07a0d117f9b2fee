package subagent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rakha/easel/pkg/loop"
	"github.com/rakha/easel/pkg/planner"
	"github.com/rakha/easel/pkg/provider"
	"github.com/rakha/easel/pkg/toolengine"
)

type fakeProvider struct {
	responses []*provider.Response
	calls     int
}

func (p *fakeProvider) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	idx := p.calls
	p.calls++
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	return p.responses[idx], nil
}

func (p *fakeProvider) Name() string { return "fake" }

func setupTestRunner(t *testing.T, prov provider.Provider) (*Runner, *Coordinator, func()) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "runner-test-*")
	require.NoError(t, err)

	coordinator, err := NewCoordinator(Config{
		RegistryPath: filepath.Join(tmpDir, "subagents.json"),
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	engine := toolengine.New(toolengine.Config{
		RetryDelay: time.Millisecond,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, engine.Register(toolengine.Definition{
		Name:        "canvas_add_element",
		Description: "Adds an element",
		Mutating:    true,
		Handler: func(ctx context.Context, params map[string]interface{}, tc *toolengine.ToolContext) (interface{}, error) {
			return map[string]interface{}{"id": "el-9"}, nil
		},
	}))

	runner, err := NewRunner(RunnerConfig{
		Provider:    prov,
		Engine:      engine,
		Coordinator: coordinator,
		SessionKey:  "parent",
		Model:       "test-model",
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	cleanup := func() {
		coordinator.Close()
		os.RemoveAll(tmpDir)
	}
	return runner, coordinator, cleanup
}

func testTask() planner.Task {
	return planner.Task{
		ID:          "content-1",
		Description: "Build the about section",
		AgentType:   "content",
		Limits: planner.Limits{
			MaxIterations: 5,
			MaxTokens:     2048,
			Timeout:       time.Second,
		},
	}
}

func TestNewRunner(t *testing.T) {
	t.Run("should require provider engine and coordinator", func(t *testing.T) {
		_, err := NewRunner(RunnerConfig{})
		assert.Error(t, err)
	})
}

func TestRunnerRun(t *testing.T) {
	t.Run("should record a completed run", func(t *testing.T) {
		prov := &fakeProvider{responses: []*provider.Response{
			{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "canvas_add_element", Params: map[string]interface{}{}}}},
			{Text: "done"},
		}}
		runner, coordinator, cleanup := setupTestRunner(t, prov)
		defer cleanup()

		snap := toolengine.NewSnapshot(2048, 10)
		err := runner.Run(context.Background(), testTask(), snap)
		require.NoError(t, err)

		record := coordinator.GetRunByChildSession("parent:content-1")
		require.NotNil(t, record)
		assert.Equal(t, StatusCompleted, record.Status)
		require.NotNil(t, record.Outcome)
		assert.Equal(t, string(loop.StateComplete), record.Outcome.State)
		assert.Equal(t, 1, record.Outcome.CanvasVersion)
		assert.Equal(t, []string{"el-9"}, record.Outcome.ElementIDs)
	})

	t.Run("should record a failed run and return an error", func(t *testing.T) {
		// Empty response is a generation failure for the child loop.
		prov := &fakeProvider{responses: []*provider.Response{{}}}
		runner, coordinator, cleanup := setupTestRunner(t, prov)
		defer cleanup()

		err := runner.Run(context.Background(), testTask(), toolengine.NewSnapshot(2048, 10))
		require.Error(t, err)

		record := coordinator.GetRunByChildSession("parent:content-1")
		require.NotNil(t, record)
		assert.Equal(t, StatusFailed, record.Status)
		assert.NotEmpty(t, record.Error)
	})

	t.Run("should record an aborted run on cancellation", func(t *testing.T) {
		prov := &fakeProvider{responses: []*provider.Response{
			{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "canvas_add_element", Params: map[string]interface{}{}}}},
		}}
		runner, coordinator, cleanup := setupTestRunner(t, prov)
		defer cleanup()

		runner.token.Cancel("plan cancelled")

		err := runner.Run(context.Background(), testTask(), toolengine.NewSnapshot(2048, 10))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cancelled")

		record := coordinator.GetRunByChildSession("parent:content-1")
		require.NotNil(t, record)
		assert.Equal(t, StatusAborted, record.Status)
	})

	t.Run("should isolate element ids per run", func(t *testing.T) {
		prov := &fakeProvider{responses: []*provider.Response{
			{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "canvas_add_element", Params: map[string]interface{}{}}}},
			{Text: "done"},
		}}
		runner, coordinator, cleanup := setupTestRunner(t, prov)
		defer cleanup()

		first := toolengine.NewSnapshot(2048, 10)
		require.NoError(t, runner.Run(context.Background(), testTask(), first))

		second := testTask()
		second.ID = "content-2"
		prov.calls = 0
		snap := toolengine.NewSnapshot(2048, 10)
		require.NoError(t, runner.Run(context.Background(), second, snap))

		a := coordinator.GetRunByChildSession("parent:content-1")
		b := coordinator.GetRunByChildSession("parent:content-2")
		require.NotNil(t, a)
		require.NotNil(t, b)
		assert.NotEqual(t, a.ID, b.ID)
		assert.Equal(t, 1, a.Outcome.CanvasVersion)
		assert.Equal(t, 1, b.Outcome.CanvasVersion)
	})
}

func TestTaskPrompt(t *testing.T) {
	t.Run("should use the bare description when there are no inputs", func(t *testing.T) {
		assert.Equal(t, "Build the about section", taskPrompt(testTask()))
	})

	t.Run("should fold inputs into the prompt in sorted key order", func(t *testing.T) {
		task := testTask()
		task.Inputs = map[string]string{
			"task":    "create a landing page",
			"section": "about",
		}
		prompt := taskPrompt(task)
		assert.Equal(t, "Build the about section\n\nInputs:\n- section: about\n- task: create a landing page", prompt)
	})
}

func TestAgentPrompts(t *testing.T) {
	t.Run("should know every default specialist", func(t *testing.T) {
		for _, agentType := range []string{"layout", "content", "forms", "styling", "dataviz"} {
			prompt, ok := agentPrompts[agentType]
			assert.True(t, ok, fmt.Sprintf("missing prompt for %s", agentType))
			assert.NotEmpty(t, prompt)
		}
	})
}
