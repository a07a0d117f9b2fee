package budget

import "time"

// Tier classifies a message for eviction purposes. Lower tiers are evicted
// first; TierSystem and TierTaskCritical are never evicted.
type Tier int

const (
	TierEphemeral Tier = iota
	TierHistory
	TierTaskCritical
	TierSystem
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierSystem:
		return "system"
	case TierTaskCritical:
		return "task-critical"
	case TierHistory:
		return "history"
	case TierEphemeral:
		return "ephemeral"
	}
	return "unknown"
}

// Protected reports whether messages in this tier survive eviction.
func (t Tier) Protected() bool {
	return t == TierSystem || t == TierTaskCritical
}

// Priority orders messages within a tier. Lower priority is evicted first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Message is a single context entry. Immutable once admitted; the token
// estimate is computed at creation and never recomputed.
type Message struct {
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	ToolCallID    string    `json:"tool_call_id,omitempty"`
	Tier          Tier      `json:"tier"`
	Priority      Priority  `json:"priority"`
	TokenEstimate int       `json:"token_estimate"`
	Timestamp     time.Time `json:"timestamp"`

	// Meta carries structured payloads (for example proposed tool calls)
	// that must survive replay to the model. Opaque to the manager.
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// Decision reports what Admit did to make room for a message.
type Decision struct {
	Admitted   bool `json:"admitted"`
	Evicted    int  `json:"evicted"`
	Compressed bool `json:"compressed"`
	OverBudget bool `json:"over_budget"`
}

// EstimateTokens gives a rough token count for a string.
// Rough estimation: 1 token ≈ 4 characters.
func EstimateTokens(content string) int {
	return (len(content) + 3) / 4
}
