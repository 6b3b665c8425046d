// Package realtime fans row-mutation events out to per-owner subscribers.
package realtime

import (
	"sync"
)

// Table names events can be published under
const (
	TableQueue         = "package_queue"
	TableNotifications = "notifications"
	TableTransactions  = "credit_transactions"
)

// Action is the mutation type carried by an event
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is one row mutation. Record carries the post-mutation row for
// inserts and updates, and whatever identifies the row for deletes.
type Event struct {
	Table   string      `json:"table"`
	Action  Action      `json:"action"`
	OwnerID string      `json:"-"`
	Record  interface{} `json:"record"`
}

// DeletedRecord identifies the row removed by a delete event
type DeletedRecord struct {
	ID string `json:"id"`
}

// Subscription receives events for a single owner. Read from C until it
// is closed. A closed channel means the subscription was cancelled or
// the subscriber fell too far behind; either way the current state must
// be re-fetched rather than assuming missed events will be replayed.
type Subscription struct {
	C <-chan Event

	hub     *Hub
	ownerID string
	tables  map[string]bool
	ch      chan Event
	closed  bool
	dropped bool
}

// Dropped reports whether the hub cancelled this subscription because
// its buffer overflowed
func (s *Subscription) Dropped() bool {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.dropped
}

// Hub routes published events to subscriptions scoped to the same owner.
// Publish calls are made in store-commit order per owner, and each
// subscription's channel preserves that order.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscription]bool
	buffer      int
}

// NewHub creates a hub whose subscriptions buffer up to buffer events
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subscribers: make(map[string]map[*Subscription]bool),
		buffer:      buffer,
	}
}

// Subscribe registers interest in mutations on the given tables for one
// owner. An empty table list subscribes to everything. The caller must
// Unsubscribe when done.
func (h *Hub) Subscribe(ownerID string, tables ...string) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{
		C:       ch,
		hub:     h,
		ownerID: ownerID,
		ch:      ch,
	}
	if len(tables) > 0 {
		sub.tables = make(map[string]bool, len(tables))
		for _, t := range tables {
			sub.tables[t] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[ownerID] == nil {
		h.subscribers[ownerID] = make(map[*Subscription]bool)
	}
	h.subscribers[ownerID][sub] = true

	return sub
}

// Unsubscribe releases the subscription and closes its channel. Safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub, false)
}

func (h *Hub) removeLocked(sub *Subscription, dropped bool) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.dropped = dropped

	if subs := h.subscribers[sub.ownerID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, sub.ownerID)
		}
	}
	close(sub.ch)
}

// Publish delivers the event to every live subscription for its owner.
// Subscribers on other owners never see it. A subscription whose buffer
// is full is dropped on the spot; blocking here would stall the
// publishing request.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers[event.OwnerID] {
		if sub.tables != nil && !sub.tables[event.Table] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.removeLocked(sub, true)
		}
	}
}

// SubscriberCount returns the number of live subscriptions for an owner
func (h *Hub) SubscriberCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[ownerID])
}
