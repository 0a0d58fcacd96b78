// Package hub fans pipeline events out to dashboard subscribers. Delivery
// is best effort: a subscriber whose write fails is dropped so the rest of
// the broadcast always completes.
package hub

import (
	"log"
	"sync"
)

// Event is one dashboard message. The wire shape mirrors what the frontend
// consumes: a type tag plus the fields relevant to that type.
type Event struct {
	Type    string      `json:"type"`
	Node    *NodeUpdate `json:"node,omitempty"`
	Message string      `json:"message,omitempty"`
	LogType string      `json:"log_type,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NodeUpdate reports a stage (pipeline node) changing state.
type NodeUpdate struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Status string `json:"status"`
	Query  string `json:"query,omitempty"`
}

// Conn is the write side of a subscriber connection. *websocket.Conn
// satisfies it; tests substitute stubs.
type Conn interface {
	WriteJSON(v interface{}) error
}

// Subscriber is the handle returned by Subscribe, used to unsubscribe.
type Subscriber struct {
	conn Conn
}

// Hub is the process-wide broadcast registry. One mutex serializes both
// membership changes and writes, which also keeps per-subscriber delivery in
// publish-call order.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	logger      *log.Logger
	onDrop      func()
}

// New creates an empty hub. onDrop, if non-nil, is invoked once per dropped
// subscriber (metrics hook).
func New(logger *log.Logger, onDrop func()) *Hub {
	if logger == nil {
		logger = log.New(log.Writer(), "[HUB] ", log.LstdFlags)
	}
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		logger:      logger,
		onDrop:      onDrop,
	}
}

// Subscribe registers a connection and returns its handle.
func (h *Hub) Subscribe(conn Conn) *Subscriber {
	sub := &Subscriber{conn: conn}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()
	h.logger.Printf("subscriber connected, total=%d", n)
	return sub
}

// Unsubscribe removes one subscriber. Unknown handles are ignored.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	n := len(h.subscribers)
	h.mu.Unlock()
	if ok {
		h.logger.Printf("subscriber disconnected, remaining=%d", n)
	}
}

// Publish delivers event to every current subscriber. A failed write drops
// that subscriber, is logged once, and never prevents delivery to the rest.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if err := sub.conn.WriteJSON(event); err != nil {
			delete(h.subscribers, sub)
			h.logger.Printf("dropping subscriber after write error: %v", err)
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
