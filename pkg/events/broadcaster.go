package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Broadcaster fans the event stream out to WebSocket consumers. A client
// whose write fails is detached; broadcasting never blocks the producer.
type Broadcaster struct {
	logger zerolog.Logger
	seq    uint64

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// wireEvent is the broadcast envelope.
type wireEvent struct {
	Event
	Seq int64 `json:"seq"`
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  logger.With().Str("component", "broadcaster").Logger(),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Attach registers a client connection.
func (b *Broadcaster) Attach(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[conn] = struct{}{}
}

// Detach removes a client connection.
func (b *Broadcaster) Detach(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, conn)
}

// ClientCount returns the number of attached clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends one event to every attached client.
func (b *Broadcaster) Broadcast(evt Event) {
	msg := wireEvent{Event: evt, Seq: int64(atomic.AddUint64(&b.seq, 1))}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", string(evt.Type)).Msg("Failed to marshal event")
		return
	}

	b.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(b.clients))
	for conn := range b.clients {
		clients = append(clients, conn)
	}
	b.mu.RUnlock()

	for _, conn := range clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn().Err(err).Str("event", string(evt.Type)).Msg("Dropping slow or closed client")
			b.Detach(conn)
		}
	}
}

// Pump forwards every event from the stream to attached clients until the
// stream closes. Run it in its own goroutine.
func (b *Broadcaster) Pump(s *Stream) {
	for evt := range s.Events() {
		b.Broadcast(evt)
	}
}
