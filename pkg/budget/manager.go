package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// compressThreshold is the minimum number of evicted history messages that
// get folded into a single summary marker instead of vanishing silently.
const compressThreshold = 3

// Manager tracks token consumption across iterations and keeps retained
// messages within the configured budget. Eviction removes the lowest-tier,
// lowest-priority, oldest messages first and never touches protected tiers.
type Manager struct {
	mu       sync.Mutex
	budget   int
	used     int
	messages []Message
	logger   zerolog.Logger

	stats     Stats
	awareness awarenessState
}

// Stats accumulates admission outcomes over the manager's lifetime.
type Stats struct {
	Evicted      int
	Compressions int
	Overflows    int
}

// NewManager creates a manager with the given token budget.
func NewManager(tokenBudget int, logger zerolog.Logger) *Manager {
	if tokenBudget <= 0 {
		tokenBudget = 4096
	}
	return &Manager{
		budget: tokenBudget,
		logger: logger.With().Str("component", "budget").Logger(),
	}
}

// Admit appends a message, evicting or compressing lower tiers first until
// it fits. A single message larger than the whole budget is still admitted
// and flagged OverBudget.
func (m *Manager) Admit(msg Message) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.TokenEstimate == 0 {
		msg.TokenEstimate = EstimateTokens(msg.Content)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	decision := Decision{Admitted: true}

	if msg.TokenEstimate > m.budget {
		// Documented edge case: nothing we evict can make this fit.
		m.messages = append(m.messages, msg)
		m.used += msg.TokenEstimate
		decision.OverBudget = true
		m.logger.Warn().
			Int("estimate", msg.TokenEstimate).
			Int("budget", m.budget).
			Msg("Message alone exceeds token budget")
		m.recordLocked(decision)
		return decision
	}

	evictedHistory := m.evictToFit(msg.TokenEstimate, &decision)

	if evictedHistory >= compressThreshold {
		summary := Message{
			Role:          "system",
			Content:       fmt.Sprintf("[Previous conversation summary: %d messages exchanged]", evictedHistory),
			Tier:          TierHistory,
			Priority:      PriorityHigh,
			TokenEstimate: 16,
			Timestamp:     time.Now(),
		}
		// The summary itself must fit too.
		m.evictToFit(msg.TokenEstimate+summary.TokenEstimate, &decision)
		m.insertAfterProtected(summary)
		m.used += summary.TokenEstimate
		decision.Compressed = true
	}

	m.messages = append(m.messages, msg)
	m.used += msg.TokenEstimate

	if m.used > m.budget {
		// Eviction ran out of candidates: protected tiers alone exceed
		// the budget, so the overflow must be flagged, not hidden.
		decision.OverBudget = true
		m.logger.Warn().
			Int("used", m.used).
			Int("budget", m.budget).
			Msg("Protected tiers exceed token budget")
	}

	if decision.Evicted > 0 {
		m.logger.Debug().
			Int("evicted", decision.Evicted).
			Bool("compressed", decision.Compressed).
			Int("used", m.used).
			Msg("Context evicted to fit message")
	}
	m.recordLocked(decision)
	return decision
}

// recordLocked folds an admission outcome into the lifetime stats. Caller
// holds the mutex.
func (m *Manager) recordLocked(decision Decision) {
	m.stats.Evicted += decision.Evicted
	if decision.Compressed {
		m.stats.Compressions++
	}
	if decision.OverBudget {
		m.stats.Overflows++
	}
}

// Stats returns cumulative admission outcomes.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// evictToFit evicts until incoming tokens fit within the budget, returning
// how many history-tier messages were dropped.
func (m *Manager) evictToFit(incoming int, decision *Decision) int {
	evictedHistory := 0
	for m.used+incoming > m.budget {
		idx := m.evictionCandidate()
		if idx < 0 {
			break
		}
		victim := m.messages[idx]
		m.used -= victim.TokenEstimate
		m.messages = append(m.messages[:idx], m.messages[idx+1:]...)
		decision.Evicted++
		if victim.Tier == TierHistory {
			evictedHistory++
		}
	}
	return evictedHistory
}

// evictionCandidate returns the index of the lowest-tier, lowest-priority,
// oldest evictable message, or -1 when only protected messages remain.
func (m *Manager) evictionCandidate() int {
	best := -1
	for i, msg := range m.messages {
		if msg.Tier.Protected() {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		cur := m.messages[best]
		if msg.Tier < cur.Tier || (msg.Tier == cur.Tier && msg.Priority < cur.Priority) {
			best = i
		}
	}
	return best
}

// insertAfterProtected places a summary right after the protected prefix so
// replay order keeps system context first.
func (m *Manager) insertAfterProtected(msg Message) {
	idx := 0
	for idx < len(m.messages) && m.messages[idx].Tier.Protected() {
		idx++
	}
	m.messages = append(m.messages, Message{})
	copy(m.messages[idx+1:], m.messages[idx:])
	m.messages[idx] = msg
}

// Usage returns used and budgeted tokens. It never mutates state.
func (m *Manager) Usage() (used, budget int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used, m.budget
}

// Messages returns the retained messages in insertion order.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Len returns the number of retained messages.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}
