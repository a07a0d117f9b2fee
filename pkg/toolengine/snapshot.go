package toolengine

import (
	"sync"
	"time"
)

// HistoryEntry records one executed call in the snapshot's bounded ring.
type HistoryEntry struct {
	ToolName   string    `json:"tool_name"`
	CallID     string    `json:"call_id,omitempty"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot is the versioned resource state owned by a single run. It is
// never shared between concurrently executing loops; sub-agent runs receive
// their own copy via Clone.
type Snapshot struct {
	mu sync.Mutex

	canvasVersion int
	taskStatus    string
	tokenBudget   int
	tokensUsed    int
	history       []HistoryEntry
	maxHistory    int
	errors        []string
}

// NewSnapshot creates a snapshot with the given token budget and history
// ring capacity.
func NewSnapshot(tokenBudget, maxHistory int) *Snapshot {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Snapshot{
		tokenBudget: tokenBudget,
		maxHistory:  maxHistory,
	}
}

// Version returns the current canvas version.
func (s *Snapshot) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canvasVersion
}

// BumpVersion increments the canvas version by exactly one.
func (s *Snapshot) BumpVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canvasVersion++
	return s.canvasVersion
}

// SetTaskStatus records the current task status.
func (s *Snapshot) SetTaskStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskStatus = status
}

// TaskStatus returns the current task status.
func (s *Snapshot) TaskStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskStatus
}

// AddTokens adds to the consumed token counter.
func (s *Snapshot) AddTokens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokensUsed += n
}

// Tokens returns used and budgeted token counts.
func (s *Snapshot) Tokens() (used, budget int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokensUsed, s.tokenBudget
}

// RecordCall appends an entry to the bounded history ring, evicting the
// oldest entry when full.
func (s *Snapshot) RecordCall(entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	if len(s.history) > s.maxHistory {
		s.history = s.history[len(s.history)-s.maxHistory:]
	}
}

// History returns a copy of the history ring in execution order.
func (s *Snapshot) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// RecordError appends an error message in occurrence order.
func (s *Snapshot) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

// Errors returns a copy of recorded error messages.
func (s *Snapshot) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errors))
	copy(out, s.errors)
	return out
}

// Clone seeds an independent snapshot from this one. The clone starts with
// the parent's canvas version and an empty history and error list; the
// token budget may be overridden for the child run.
func (s *Snapshot) Clone(tokenBudget int) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tokenBudget <= 0 {
		tokenBudget = s.tokenBudget
	}
	return &Snapshot{
		canvasVersion: s.canvasVersion,
		taskStatus:    s.taskStatus,
		tokenBudget:   tokenBudget,
		maxHistory:    s.maxHistory,
	}
}
