package checkpoint

import (
	"sync"
	"time"
)

// Entry is one history message snapshot inside a checkpoint.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Checkpoint is a point-in-time snapshot of an iteration loop, written at a
// configurable cadence. The loop never mutates a checkpoint after saving it.
type Checkpoint struct {
	SessionKey    string    `json:"session_key"`
	Iteration     int       `json:"iteration"`
	CanvasVersion int       `json:"canvas_version"`
	TokensUsed    int       `json:"tokens_used"`
	TaskStatus    string    `json:"task_status,omitempty"`
	History       []Entry   `json:"history"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store is the persistence boundary for checkpoints. Save overwrites any
// previous checkpoint for the same session; Load returns nil when no
// checkpoint exists.
type Store interface {
	Save(cp Checkpoint) error
	Load(sessionKey string) (*Checkpoint, error)
	Close() error
}

// MemoryStore keeps checkpoints in memory. Used by tests and as a default
// when no persistence is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]Checkpoint)}
}

// Save stores a checkpoint, replacing any previous one for the session.
func (s *MemoryStore) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.checkpoints[cp.SessionKey] = cp
	return nil
}

// Load returns the checkpoint for a session, or nil.
func (s *MemoryStore) Load(sessionKey string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[sessionKey]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
