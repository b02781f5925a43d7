// Package broadcast fans refreshed category reports out to WebSocket
// subscribers.
package broadcast

import (
	"sync"

	"MarketLens/pkg/logger"
)

const defaultBufferSize = 16

// Subscriber receives encoded messages for one category.
type Subscriber struct {
	category string
	send     chan []byte
	once     sync.Once
}

// Category returns the subscribed category.
func (s *Subscriber) Category() string { return s.category }

// Messages is closed when the subscriber is removed from the hub.
func (s *Subscriber) Messages() <-chan []byte { return s.send }

func (s *Subscriber) close() { s.once.Do(func() { close(s.send) }) }

// HubOption configures Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber send buffer.
func WithBufferSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// Hub keeps subscribers per category.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscriber]struct{}
	bufferSize int
	log        *logger.Logger
}

func NewHub(log *logger.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	h := &Hub{
		subs:       make(map[string]map[*Subscriber]struct{}),
		bufferSize: defaultBufferSize,
		log:        log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber for category.
func (h *Hub) Subscribe(category string) *Subscriber {
	s := &Subscriber{category: category, send: make(chan []byte, h.bufferSize)}
	h.mu.Lock()
	set, ok := h.subs[category]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[category] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	h.remove(s)
	h.mu.Unlock()
}

// remove requires h.mu held for writing.
func (h *Hub) remove(s *Subscriber) {
	if set, ok := h.subs[s.category]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.category)
		}
	}
	s.close()
}

// Publish sends msg to every subscriber of category and returns how many
// received it. Subscribers whose buffer is full are dropped.
func (h *Hub) Publish(category string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for s := range h.subs[category] {
		select {
		case s.send <- msg:
			delivered++
		default:
			h.remove(s)
			h.log.Warn("dropping slow stream subscriber", logger.String("category", category))
		}
	}
	return delivered
}

// Count returns the number of subscribers of category.
func (h *Hub) Count(category string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[category])
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for s := range set {
			h.remove(s)
		}
	}
}
