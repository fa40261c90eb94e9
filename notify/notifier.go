// Package notify wakes queue consumers when messages are enqueued, so a
// committed publish is picked up without waiting out a poll interval.
package notify

import (
	"sync"
	"sync/atomic"
)

// defaultSignalBufferSize is the buffer size for wake signal channels.
// Subscribers that fall behind lose signals; the poll interval covers them.
const defaultSignalBufferSize = 16

// Signal announces a message written to the queue
type Signal struct {
	Actor     string
	MessageID string
}

// Filter selects signals by actor. Empty matches every actor.
type Filter struct {
	Actors []string
}

// Notifier is implemented by anything that can announce enqueued messages
type Notifier interface {
	Signal(actor, messageID string)
}

type subscription struct {
	id     uint64
	filter Filter
	ch     chan Signal
	closed atomic.Bool
}

func (s *subscription) matches(actor string) bool {
	if len(s.filter.Actors) == 0 {
		return true
	}

	for _, a := range s.filter.Actors {
		if a == actor {
			return true
		}
	}
	return false
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub fans enqueue signals out to subscribers. Safe for concurrent use.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends a signal to every matching subscriber without blocking
func (h *Hub) Signal(actor, messageID string) {
	signal := Signal{Actor: actor, MessageID: messageID}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(actor) {
			continue
		}

		select {
		case sub.ch <- signal:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its buffered signal channel
// and an idempotent cancel function that closes the channel.
func (h *Hub) Subscribe(filter Filter) (<-chan Signal, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Signal, defaultSignalBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(sub.id) }
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
