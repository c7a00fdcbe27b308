package notify

import "sync"

// Outbox queues values and hands them to a Hub from one delivery goroutine.
// Post never blocks, so a producer may post while holding its own locks, and
// a subscriber may call back into the producer from its receive loop. Values
// reach subscribers in post order.
type Outbox[T any] struct {
	hub *Hub[T]

	mu     sync.Mutex
	queue  []T
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func NewOutbox[T any]() *Outbox[T] {
	o := &Outbox[T]{
		hub:  NewHub[T](),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Outbox[T]) Subscribe(buffer int) (<-chan T, func()) {
	return o.hub.Subscribe(buffer)
}

// Post queues vs behind everything posted before. It reports false once the
// outbox is closed.
func (o *Outbox[T]) Post(vs ...T) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.queue = append(o.queue, vs...)
	o.mu.Unlock()
	o.signal()
	return true
}

// Close stops accepting values. Queued values are still delivered, then
// every subscription is closed. Close does not wait; Done reports the end.
func (o *Outbox[T]) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

func (o *Outbox[T]) Done() <-chan struct{} {
	return o.done
}

func (o *Outbox[T]) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox[T]) run() {
	defer close(o.done)
	defer o.hub.Close()
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		closed := o.closed
		o.mu.Unlock()

		for _, v := range batch {
			o.hub.Publish(v)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-o.wake
	}
}
