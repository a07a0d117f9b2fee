package loop

import (
	"sync"
	"time"
)

// State names the TOAD machine states.
type State string

const (
	StateThinking  State = "thinking"
	StateActing    State = "acting"
	StateObserving State = "observing"
	StateDeciding  State = "deciding"

	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateTimeout   State = "timeout"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the state ends the loop.
func (s State) IsTerminal() bool {
	switch s {
	case StateComplete, StateFailed, StateTimeout, StateCancelled:
		return true
	}
	return false
}

// CancelToken is a one-shot cancellation flag shared by reference between
// the top-level caller and every nested sub-agent run. Once set it is
// never unset.
type CancelToken struct {
	mu        sync.Mutex
	cancelled bool
	reason    string
}

// NewCancelToken creates an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel sets the token. Only the first call records a reason.
func (t *CancelToken) Cancel(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	t.reason = reason
}

// Cancelled reports whether the token is set.
func (t *CancelToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Reason returns the recorded cancellation reason.
func (t *CancelToken) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Config controls one loop run.
type Config struct {
	SessionKey   string
	Task         string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int // per-generation output cap

	MaxIterations int           // default 10
	Timeout       time.Duration // wall clock; 0 disables

	GenMaxRetries int           // generation retry attempts; default 3
	GenRetryDelay time.Duration // base backoff; default 1s

	CheckpointEvery int // iterations between checkpoints; 0 disables

	// ParallelToolCalls dispatches an ACT step's calls concurrently when
	// the model proposed more than one. Leave false unless the registered
	// tools are known to be independent.
	ParallelToolCalls bool

	// StopOnToolError makes a non-recoverable tool failure terminal
	// instead of degraded context for the next THINK.
	StopOnToolError bool

	Tools []string // tool names exposed to the model; empty exposes all
}

// Result summarizes a finished run.
type Result struct {
	SessionKey    string   `json:"session_key"`
	State         State    `json:"state"`
	Response      string   `json:"response,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Iterations    int      `json:"iterations"`
	ElementIDs    []string `json:"element_ids,omitempty"`
	TokensUsed    int      `json:"tokens_used"`
	CanvasVersion int      `json:"canvas_version"`
}
