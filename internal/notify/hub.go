// Package notify fans values out to subscriber channels.
//
// Delivery is blocking: Publish waits until every live subscriber has taken
// the value, so a slow consumer applies back-pressure to the publisher. A
// subscriber that cancels, or a hub that closes, releases a blocked Publish.
// An Outbox puts a queue in front of a Hub for producers that must not block.
package notify

import (
	"sync"
	"sync/atomic"
)

type subscriber[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[*subscriber[T]]struct{}
	done   chan struct{}
	closed bool
	once   sync.Once

	// retain bounds the values kept for the first subscriber.
	retain  int
	backlog []T
	seen    bool
	dropped atomic.Uint64
}

func NewHub[T any]() *Hub[T] {
	return NewRetainingHub[T](0)
}

// NewRetainingHub keeps up to n values published before anyone subscribed
// and hands them to the first subscriber ahead of everything else. Values
// past n, and values published after every subscriber has left, are dropped.
func NewRetainingHub[T any](n int) *Hub[T] {
	if n < 0 {
		n = 0
	}
	return &Hub[T]{
		subs:   make(map[*subscriber[T]]struct{}),
		done:   make(chan struct{}),
		retain: n,
	}
}

// Subscribe registers a receiver with the given buffer. The returned cancel
// func is idempotent and closes the channel. Subscribing to a closed hub
// yields an already-closed channel.
func (h *Hub[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	h.mu.Lock()
	backlog := h.backlog
	if !h.seen && !h.closed {
		h.seen = true
		h.backlog = nil
		if len(backlog) > buffer {
			buffer = len(backlog)
		}
	} else {
		backlog = nil
	}
	s := &subscriber[T]{
		ch:   make(chan T, buffer),
		done: make(chan struct{}),
	}
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	for _, v := range backlog {
		s.ch <- v
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			close(s.done)
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
			h.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// Publish delivers v to every subscriber in registration-independent order.
// It returns false once the hub is closed.
func (h *Hub[T]) Publish(v T) bool {
	if h.retain > 0 && h.hold(v) {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}
	if len(h.subs) == 0 {
		h.dropped.Add(1)
		return true
	}
	for s := range h.subs {
		select {
		case s.ch <- v:
		case <-s.done:
		case <-h.done:
			return false
		}
	}
	return true
}

// hold keeps v for the first subscriber. It reports whether v was taken
// care of, kept or dropped.
func (h *Hub[T]) hold(v T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen || h.closed {
		return false
	}
	if len(h.backlog) < h.retain {
		h.backlog = append(h.backlog, v)
	} else {
		h.dropped.Add(1)
	}
	return true
}

func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts values published while nobody could receive them.
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}

// Close releases blocked publishers and closes every subscriber channel.
func (h *Hub[T]) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		h.closed = true
		h.backlog = nil
		for s := range h.subs {
			delete(h.subs, s)
			close(s.ch)
		}
		h.mu.Unlock()
	})
}
