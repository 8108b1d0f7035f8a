// Package signal provides a small publish/subscribe hub used for observer
// registration across the subsystem (network status changes, identity
// changes). Subscriptions have an explicit lifecycle: Subscribe returns a
// handle whose channel receives published values until Unsubscribe.
package signal

import (
	"sync"
)

// Hub fans published values out to all current subscribers. Publish never
// blocks: when a subscriber's buffer is full its oldest value is dropped to
// make room, so a stalled observer cannot stall the publisher.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// Subscription is one observer's registration with a Hub.
type Subscription[T any] struct {
	id   uint64
	ch   chan T
	hub  *Hub[T]
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{
		subs: make(map[uint64]*Subscription[T]),
	}
}

// Subscribe registers a new observer with the given channel buffer size.
// A buffer of at least 1 is enforced so a slow reader still sees the most
// recent value.
func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription[T]{
		id:  h.nextID,
		ch:  make(chan T, buffer),
		hub: h,
	}
	if h.closed {
		// Closed hub hands out an already-closed channel so ranging
		// subscribers terminate immediately.
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// C returns the channel values are delivered on. The channel is closed when
// the subscription is cancelled or the hub shuts down.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once and safe to call concurrently with Publish.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		_, live := s.hub.subs[s.id]
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		if live {
			close(s.ch)
		}
	})
}

// Publish delivers v to every current subscriber without blocking.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for _, sub := range h.subs {
		select {
		case sub.ch <- v:
		default:
			// Buffer full: drop the oldest value, then try once more.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- v:
			default:
			}
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close shuts the hub down and closes every subscriber channel. Publish and
// Subscribe become no-ops afterwards.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
