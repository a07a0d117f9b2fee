package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	builder := NewBuilder()

	t.Run("should fail on empty task", func(t *testing.T) {
		_, err := builder.Build("", ExplorationResult{}, Complexity{})
		assert.Error(t, err)
	})

	t.Run("should include setup only for an empty workspace", func(t *testing.T) {
		task := "create a landing page with a header and a footer"

		withSetup, err := builder.Build(task, ExplorationResult{WorkspaceEmpty: true}, Complexity{})
		require.NoError(t, err)
		assert.Equal(t, PhaseSetup, withSetup.Phases[0].ID)

		withoutSetup, err := builder.Build(task, ExplorationResult{WorkspaceEmpty: false}, Complexity{})
		require.NoError(t, err)
		for _, phase := range withoutSetup.Phases {
			assert.NotEqual(t, PhaseSetup, phase.ID)
		}
	})

	t.Run("should chain phases linearly", func(t *testing.T) {
		plan, err := builder.Build(
			"create a page with a header, content sections, a contact form and a footer",
			ExplorationResult{WorkspaceEmpty: true},
			Complexity{},
		)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(plan.Phases), 3)

		assert.Empty(t, plan.Phases[0].DependsOn)
		for i := 1; i < len(plan.Phases); i++ {
			assert.Equal(t, []string{plan.Phases[i-1].ID}, plan.Phases[i].DependsOn)
		}
	})

	t.Run("should fan out content when two or more sections match", func(t *testing.T) {
		plan, err := builder.Build(
			"build an about section and a contact form",
			ExplorationResult{},
			Complexity{},
		)
		require.NoError(t, err)

		content := findPhase(t, plan, PhaseContent)
		assert.Len(t, content.Tasks, 2)
		assert.True(t, content.Parallel)
	})

	t.Run("should keep a single content task sequential", func(t *testing.T) {
		plan, err := builder.Build("add an about section", ExplorationResult{}, Complexity{})
		require.NoError(t, err)

		content := findPhase(t, plan, PhaseContent)
		assert.Len(t, content.Tasks, 1)
		assert.False(t, content.Parallel)
	})

	t.Run("should always end with a styling pass", func(t *testing.T) {
		plan, err := builder.Build("create a hero banner", ExplorationResult{}, Complexity{})
		require.NoError(t, err)

		assembly := findPhase(t, plan, PhaseAssembly)
		last := assembly.Tasks[len(assembly.Tasks)-1]
		assert.Equal(t, "styling", last.AgentType)
		assert.False(t, assembly.Parallel)
	})

	t.Run("should fall back to one content task with a warning", func(t *testing.T) {
		plan, err := builder.Build("do the thing", ExplorationResult{}, Complexity{})
		require.NoError(t, err)

		content := findPhase(t, plan, PhaseContent)
		assert.Len(t, content.Tasks, 1)
		require.NotEmpty(t, plan.Warnings)
		assert.Contains(t, plan.Warnings[0], "no section rule matched")
	})

	t.Run("should warn about existing elements", func(t *testing.T) {
		plan, err := builder.Build("add a footer", ExplorationResult{
			WorkspaceEmpty:   false,
			ExistingElements: []string{"el-1", "el-2"},
		}, Complexity{})
		require.NoError(t, err)

		found := false
		for _, w := range plan.Warnings {
			if strings.Contains(w, "existing elements") {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("should flag approval above the complexity threshold", func(t *testing.T) {
		simple, err := builder.Build("add a footer", ExplorationResult{}, Complexity{Score: 0.3})
		require.NoError(t, err)
		assert.False(t, simple.RequiresApproval)

		complicated, err := builder.Build("add a footer", ExplorationResult{}, Complexity{Score: 0.9})
		require.NoError(t, err)
		assert.True(t, complicated.RequiresApproval)
	})

	t.Run("should estimate tokens from task estimates", func(t *testing.T) {
		plan, err := builder.Build("add a footer", ExplorationResult{}, Complexity{})
		require.NoError(t, err)
		for _, phase := range plan.Phases {
			for _, task := range phase.Tasks {
				assert.Equal(t, defaultTaskEstimate, task.EstimatedTokens)
				assert.Less(t, task.EstimatedTokens, task.Limits.MaxTokens)
			}
		}
		assert.Equal(t, plan.TotalTasks()*defaultTaskEstimate, plan.EstimatedTokens)
	})

	t.Run("should carry the section and task through task inputs", func(t *testing.T) {
		plan, err := builder.Build("add a footer", ExplorationResult{WorkspaceEmpty: true}, Complexity{})
		require.NoError(t, err)

		setup := findPhase(t, plan, PhaseSetup)
		require.Len(t, setup.Tasks, 1)
		assert.Equal(t, "add a footer", setup.Tasks[0].Inputs["task"])

		assembly := findPhase(t, plan, PhaseAssembly)
		require.NotEmpty(t, assembly.Tasks)
		assert.Equal(t, "footer", assembly.Tasks[0].Inputs["section"])
		assert.Equal(t, "add a footer", assembly.Tasks[0].Inputs["task"])
	})

	t.Run("should honor custom rules", func(t *testing.T) {
		custom := NewBuilder().WithRules([]Rule{
			{
				Name:    "chart",
				Match:   func(task string) bool { return strings.Contains(task, "chart") },
				Section: Section{Name: "chart", Priority: PriorityHigh, AgentType: "dataviz"},
			},
		})

		plan, err := custom.Build("render a sales chart", ExplorationResult{}, Complexity{})
		require.NoError(t, err)

		foundation := findPhase(t, plan, PhaseFoundation)
		require.Len(t, foundation.Tasks, 1)
		assert.Equal(t, "dataviz", foundation.Tasks[0].AgentType)
	})
}

func TestBuildDeterminism(t *testing.T) {
	t.Run("should produce structurally identical plans for identical inputs", func(t *testing.T) {
		builder := NewBuilder()
		task := "create a landing page with a header, an about section, a contact form and a footer"
		exploration := ExplorationResult{WorkspaceEmpty: true}
		complexity := Complexity{Score: 0.8}

		a, err := builder.Build(task, exploration, complexity)
		require.NoError(t, err)
		b, err := builder.Build(task, exploration, complexity)
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)
		require.Len(t, b.Phases, len(a.Phases))
		for i := range a.Phases {
			assert.Equal(t, a.Phases[i].ID, b.Phases[i].ID)
			assert.Equal(t, a.Phases[i].Parallel, b.Phases[i].Parallel)
			assert.Equal(t, a.Phases[i].DependsOn, b.Phases[i].DependsOn)
			require.Len(t, b.Phases[i].Tasks, len(a.Phases[i].Tasks))
			for j := range a.Phases[i].Tasks {
				assert.Equal(t, a.Phases[i].Tasks[j].ID, b.Phases[i].Tasks[j].ID)
				assert.Equal(t, a.Phases[i].Tasks[j].Description, b.Phases[i].Tasks[j].Description)
			}
		}
		assert.Equal(t, a.EstimatedTokens, b.EstimatedTokens)
		assert.Equal(t, a.RequiresApproval, b.RequiresApproval)
	})
}

func findPhase(t *testing.T, plan *Plan, id string) Phase {
	t.Helper()
	for _, phase := range plan.Phases {
		if phase.ID == id {
			return phase
		}
	}
	t.Fatalf("phase not found: %s", id)
	return Phase{}
}
