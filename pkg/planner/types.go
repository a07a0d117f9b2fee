package planner

import "time"

// Priority orders sections into phases.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Fixed phase identifiers. Build always emits phases under these names so
// two plans for the same input are structurally comparable.
const (
	PhaseSetup      = "setup"
	PhaseFoundation = "foundation"
	PhaseContent    = "content"
	PhaseAssembly   = "assembly"
)

// ExplorationResult is a point-in-time observation of the workspace taken
// before planning. Plans are built from this snapshot, never from live
// state.
type ExplorationResult struct {
	WorkspaceEmpty   bool     `json:"workspace_empty"`
	ExistingElements []string `json:"existing_elements,omitempty"`
	Notes            string   `json:"notes,omitempty"`
}

// Complexity is the caller's assessment of how hard the task is, scored
// in [0, 1].
type Complexity struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Section is a unit of work derived from the task description, carrying
// the specialist agent type that should handle it.
type Section struct {
	Name      string   `json:"name"`
	Priority  Priority `json:"priority"`
	AgentType string   `json:"agent_type"`
}

// Rule maps a task-description predicate to a section. Rules are
// evaluated in order; every matching rule contributes its section.
type Rule struct {
	Name    string
	Match   func(task string) bool
	Section Section
}

// Limits bounds an isolated sub-agent run.
type Limits struct {
	MaxIterations int           `json:"max_iterations"`
	MaxTokens     int           `json:"max_tokens"`
	Timeout       time.Duration `json:"timeout"`
}

// Task is one sub-agent contract inside a phase. Inputs carries named
// context for the run (the section and the originating task description).
// EstimatedTokens is advisory; Limits are the hard contract enforced by
// the isolated run.
type Task struct {
	ID              string            `json:"id"`
	Description     string            `json:"description"`
	AgentType       string            `json:"agent_type"`
	Inputs          map[string]string `json:"inputs,omitempty"`
	EstimatedTokens int               `json:"estimated_tokens"`
	Limits          Limits            `json:"limits"`
}

// Phase groups tasks that share a position in the dependency chain.
// DependsOn must form an acyclic graph over phase IDs.
type Phase struct {
	ID        string   `json:"id"`
	Tasks     []Task   `json:"tasks"`
	Parallel  bool     `json:"parallel"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Plan is an immutable execution plan. Re-planning builds a new plan; a
// plan is never mutated after Build returns it.
type Plan struct {
	ID               string    `json:"id"`
	Task             string    `json:"task"`
	Phases           []Phase   `json:"phases"`
	EstimatedTokens  int       `json:"estimated_tokens"`
	RequiresApproval bool      `json:"requires_approval"`
	Warnings         []string  `json:"warnings,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// TotalTasks counts tasks across all phases.
func (p *Plan) TotalTasks() int {
	n := 0
	for _, phase := range p.Phases {
		n += len(phase.Tasks)
	}
	return n
}

// Summary is the terminal result of executing a plan.
type Summary struct {
	PlanID    string          `json:"plan_id"`
	Succeeded int             `json:"succeeded"`
	Total     int             `json:"total"`
	Results   map[string]bool `json:"results"`
}
