// Package logstream holds the per-run append-only log and its live fan-out.
//
// Every step transition the engine makes lands here as a timestamped, leveled
// entry. Entries are kept in emission order for the durable record and
// simultaneously published to any live subscriber (a UI, an MCP client).
package logstream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/relay/pkg/schema"
)

const defaultChannelBuffer = 64

// subscriber holds a channel and filter for a single subscriber.
type subscriber struct {
	ch          chan schema.LogEntry
	executionID string
}

// Hub fans run log entries out to live observers. One Hub is shared across
// runs; subscriptions filter by execution ID.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[uint64]*subscriber),
	}
}

// Subscribe returns a channel receiving entries for the given execution
// (or all executions when executionID is empty), and a cancel function.
func (h *Hub) Subscribe(executionID string) (<-chan schema.LogEntry, func()) {
	id := h.seq.Add(1)
	ch := make(chan schema.LogEntry, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, executionID: executionID}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel
}

// publish sends an entry to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the entry is dropped.
func (h *Hub) publish(executionID string, entry schema.LogEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.executionID != "" && sub.executionID != executionID {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
			// backpressure: drop entry for slow subscriber
		}
	}
}

// Stream is the append-only ordered log of one run. Entries are never
// rewritten; ordering is emission order. Safe for concurrent readers while
// the run appends.
type Stream struct {
	executionID string
	hub         *Hub // nil when no live observation is wanted

	mu      sync.RWMutex
	entries []schema.LogEntry
}

// NewStream creates a Stream for one run. hub may be nil.
func NewStream(executionID string, hub *Hub) *Stream {
	return &Stream{executionID: executionID, hub: hub}
}

// Append records an entry and publishes it to live observers.
func (s *Stream) Append(level schema.LogLevel, message, agentID string) {
	entry := schema.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		AgentID:   agentID,
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.publish(s.executionID, entry)
	}
}

// Info appends an info-level entry.
func (s *Stream) Info(message, agentID string) {
	s.Append(schema.LogLevelInfo, message, agentID)
}

// Warning appends a warning-level entry.
func (s *Stream) Warning(message, agentID string) {
	s.Append(schema.LogLevelWarning, message, agentID)
}

// Error appends an error-level entry.
func (s *Stream) Error(message, agentID string) {
	s.Append(schema.LogLevelError, message, agentID)
}

// Success appends a success-level entry.
func (s *Stream) Success(message, agentID string) {
	s.Append(schema.LogLevelSuccess, message, agentID)
}

// Entries returns a copy of all entries appended so far, in emission order.
func (s *Stream) Entries() []schema.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
