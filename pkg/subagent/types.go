package subagent

import "time"

// RunStatus is the lifecycle state of an isolated sub-agent run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusAborted   RunStatus = "aborted"
)

// IsTerminal returns true if the status is terminal.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// RunParams describes a sub-agent run at registration time.
type RunParams struct {
	ParentSessionKey string                 `json:"parent_session_key"`
	ChildSessionKey  string                 `json:"child_session_key"`
	TaskID           string                 `json:"task_id"`
	AgentType        string                 `json:"agent_type"`
	Description      string                 `json:"description"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// RunOutcome summarizes a finished run.
type RunOutcome struct {
	State         string   `json:"state"`
	Iterations    int      `json:"iterations"`
	TokensUsed    int      `json:"tokens_used"`
	CanvasVersion int      `json:"canvas_version"`
	ElementIDs    []string `json:"element_ids,omitempty"`
}

// RunRecord tracks one sub-agent run from registration to completion.
type RunRecord struct {
	ID               string                 `json:"id"`
	ParentSessionKey string                 `json:"parent_session_key"`
	ChildSessionKey  string                 `json:"child_session_key"`
	TaskID           string                 `json:"task_id"`
	AgentType        string                 `json:"agent_type"`
	Description      string                 `json:"description"`
	Status           RunStatus              `json:"status"`
	StartedAt        int64                  `json:"started_at"`
	CompletedAt      *int64                 `json:"completed_at,omitempty"`
	Outcome          *RunOutcome            `json:"outcome,omitempty"`
	Error            string                 `json:"error,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Registry is the on-disk format for run records.
type Registry struct {
	Version     int          `json:"version"`
	Runs        []*RunRecord `json:"runs"`
	LastUpdated int64        `json:"last_updated"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Version:     1,
		Runs:        []*RunRecord{},
		LastUpdated: time.Now().UnixMilli(),
	}
}

// Stats aggregates run counts by status.
type Stats struct {
	TotalRuns     int `json:"total_runs"`
	ActiveRuns    int `json:"active_runs"`
	CompletedRuns int `json:"completed_runs"`
	FailedRuns    int `json:"failed_runs"`
	AbortedRuns   int `json:"aborted_runs"`
}
