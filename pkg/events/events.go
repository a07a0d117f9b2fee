package events

import (
	"sync"
	"time"
)

// Type identifies a stream event.
type Type string

const (
	TypeThinking     Type = "thinking"
	TypePlan         Type = "plan"
	TypeStepStart    Type = "step_start"
	TypeToolCall     Type = "tool_call"
	TypeToolResult   Type = "tool_result"
	TypeStepComplete Type = "step_complete"
	TypeComplete     Type = "complete"
	TypeError        Type = "error"
	TypeFailed       Type = "failed"
	TypeTimeout      Type = "timeout"
	TypeCancelled    Type = "cancelled"
)

// IsTerminal returns true for event types that end a run or plan scope.
func (t Type) IsTerminal() bool {
	switch t {
	case TypeComplete, TypeFailed, TypeTimeout, TypeCancelled:
		return true
	}
	return false
}

// Event is a single entry in the consumer-facing stream.
type Event struct {
	Type       Type                   `json:"type"`
	SessionKey string                 `json:"session_key,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Stream delivers events from a single producer to a single consumer in
// chronological order. Timestamps are non-decreasing; Close signals end of
// stream by closing the channel.
type Stream struct {
	ch     chan Event
	mu     sync.Mutex
	lastTS int64
	closed bool
}

// NewStream creates a stream with the given buffer size.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream{ch: make(chan Event, buffer)}
}

// Emit appends an event to the stream. Timestamps are assigned here and
// clamped to be non-decreasing. The send happens under the same lock as
// the stamp, so concurrent emitters cannot interleave a later stamp ahead
// of an earlier one on the channel. Emitting on a closed stream is a
// no-op.
func (s *Stream) Emit(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	now := time.Now().UnixMilli()
	if now < s.lastTS {
		now = s.lastTS
	}
	s.lastTS = now
	evt.Timestamp = now
	s.ch <- evt
}

// Events returns the consumer side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Safe to call once; the producer must not Emit
// after Close.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Drain collects all remaining events until the stream is closed.
// Intended for tests and batch consumers.
func Drain(s *Stream) []Event {
	var out []Event
	for evt := range s.Events() {
		out = append(out, evt)
	}
	return out
}
