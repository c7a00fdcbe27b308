// Package cache correlates transmitted requests with received responses on
// top of a channel.
//
// Every Transmit records a pending entry. Every received packet is offered to
// the Matcher against the pending entries, oldest first, and at most one
// entry is matched per packet. Entry creation, matching, expiry and eviction
// each run as one critical section under the cache mutex.
package cache

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/notify"
	"github.com/danmuck/commlink/internal/observability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Cache[P any] struct {
	inner   channel.Channel[P]
	cfg     Config
	matcher Matcher[P]
	logger  zerolog.Logger
	tracer  trace.Tracer

	// sendMu keeps entry order equal to wire order.
	sendMu sync.Mutex

	mu      sync.Mutex
	entries []*entry[P]
	seq     uint64
	closed  bool
	stats   Stats

	events  *notify.Hub[channel.Event[P]]
	changes *notify.Hub[Change[P]]

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

var _ channel.Channel[any] = (*Cache[any])(nil)

// New wraps inner and starts the receive and sweep loops.
func New[P any](inner channel.Channel[P], opts ...Option[P]) *Cache[P] {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache[P]{
		inner:   inner,
		cfg:     o.cfg,
		matcher: o.matcher,
		logger:  o.logger,
		tracer:  o.tracer,
		events:  notify.NewRetainingHub[channel.Event[P]](channel.DefaultConfig().Backlog),
		changes: notify.NewHub[Change[P]](),
		cancel:  cancel,
	}
	in, unsubscribe := inner.Subscribe(0)
	c.wg.Add(1)
	go c.receive(in, unsubscribe)
	if c.cfg.SweepInterval > 0 && (c.cfg.MaxAge > 0 || c.cfg.MaxEntries > 0) {
		c.wg.Add(1)
		go c.sweep(ctx)
	}
	return c
}

type factory[P any] struct {
	inner channel.Factory[P]
	opts  []Option[P]
}

// NewFactory wraps every channel created by inner in a Cache.
func NewFactory[P any](inner channel.Factory[P], opts ...Option[P]) channel.Factory[P] {
	return &factory[P]{inner: inner, opts: opts}
}

func (f *factory[P]) Create(rwc io.ReadWriteCloser) channel.Channel[P] {
	return New(f.inner.Create(rwc), f.opts...)
}

func (c *Cache[P]) Name() string {
	if n, ok := c.inner.(interface{ Name() string }); ok {
		return n.Name()
	}
	return ""
}

// Transmit records a pending entry and sends p. The entry is dropped again if
// the write fails.
func (c *Cache[P]) Transmit(p P) error {
	_, err := c.send(p, false)
	return err
}

// Await transmits req and blocks until a response is matched to it, the
// timeout elapses, ctx is done or the cache closes. A zero timeout waits on
// ctx alone.
func (c *Cache[P]) Await(ctx context.Context, req P, timeout time.Duration) (P, error) {
	var zero P
	ctx, span := c.tracer.Start(ctx, "cache.Await")
	defer span.End()
	start := time.Now()

	e, err := c.send(req, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e != nil {
			observability.RecordAwait("transmit_error", time.Since(start))
		}
		return zero, err
	}
	span.SetAttributes(attribute.Int64("cache.seq", int64(e.Seq)))

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-e.done:
	case <-expired:
		c.expire(e, ErrTimeout)
	case <-ctx.Done():
		c.expire(e, ctx.Err())
	}

	c.mu.Lock()
	resp, status, err := e.Response, e.Status, e.err
	c.mu.Unlock()

	span.SetAttributes(attribute.String("cache.status", status.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordAwait(status.String(), time.Since(start))
		return zero, err
	}
	observability.RecordAwait(status.String(), time.Since(start))
	return resp, nil
}

// Subscribe forwards the inner channel's events after correlation has run.
func (c *Cache[P]) Subscribe(buffer int) (<-chan channel.Event[P], func()) {
	return c.events.Subscribe(buffer)
}

// Watch streams entry changes. Publishing blocks, so a watcher must drain
// the stream or cancel.
func (c *Cache[P]) Watch(buffer int) (<-chan Change[P], func()) {
	return c.changes.Subscribe(buffer)
}

// Entries returns a snapshot of the collection in insertion order.
func (c *Cache[P]) Entries() []Entry[P] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry[P], len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Entry
	}
	return out
}

func (c *Cache[P]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	for _, e := range c.entries {
		if e.Status == StatusPending {
			s.Pending++
		}
	}
	return s
}

// Close closes the inner channel and releases every awaiter with
// channel.ErrClosed.
func (c *Cache[P]) Close() error {
	c.closeOnce.Do(func() {
		c.events.Close()
		c.changes.Close()
		c.closeErr = c.inner.Close()
		c.cancel()
		c.wg.Wait()
		c.release()
	})
	return c.closeErr
}

// send records p and writes it as one step with respect to other senders.
// On a failed write the entry is dropped and returned alongside the error.
func (c *Cache[P]) send(p P, awaited bool) (*entry[P], error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	e, err := c.add(p, awaited)
	if err != nil {
		return nil, err
	}
	if err := c.inner.Transmit(p); err != nil {
		c.remove(e)
		return e, err
	}
	return e, nil
}

func (c *Cache[P]) add(p P, awaited bool) (*entry[P], error) {
	now := time.Now()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, channel.ErrClosed
	}
	c.seq++
	e := &entry[P]{
		Entry: Entry[P]{
			Seq:     c.seq,
			Request: p,
			Status:  StatusPending,
			Created: now,
			Awaited: awaited,
		},
		done: make(chan struct{}),
	}
	c.entries = append(c.entries, e)
	c.stats.Added++
	changes := []Change[P]{{Kind: Added, Entry: e.Entry}}
	changes = append(changes, c.evictLocked(now)...)
	c.mu.Unlock()

	c.publish(changes)
	return e, nil
}

func (c *Cache[P]) remove(target *entry[P]) {
	c.mu.Lock()
	var changes []Change[P]
	for i, e := range c.entries {
		if e == target {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			c.stats.Evicted++
			changes = append(changes, Change[P]{Kind: Evicted, Entry: e.Entry})
			break
		}
	}
	c.mu.Unlock()
	c.publish(changes)
}

func (c *Cache[P]) expire(e *entry[P], cause error) {
	c.mu.Lock()
	if e.Status != StatusPending {
		c.mu.Unlock()
		return
	}
	e.resolve(StatusExpired, time.Now(), cause)
	c.stats.Expired++
	change := Change[P]{Kind: Expired, Entry: e.Entry}
	c.mu.Unlock()
	c.publish([]Change[P]{change})
}

func (c *Cache[P]) match(resp P) {
	c.mu.Lock()
	pending := make([]*entry[P], 0, len(c.entries))
	snapshot := make([]Entry[P], 0, len(c.entries))
	for _, e := range c.entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
			snapshot = append(snapshot, e.Entry)
		}
	}
	i, ok := c.matcher(resp, snapshot)
	if !ok || i < 0 || i >= len(pending) {
		c.stats.Unmatched++
		c.mu.Unlock()
		c.logger.Debug().Type("packet", resp).Msg("response matched no pending request")
		return
	}
	e := pending[i]
	e.Response = resp
	e.resolve(StatusMatched, time.Now(), nil)
	c.stats.Matched++
	change := Change[P]{Kind: Matched, Entry: e.Entry}
	c.mu.Unlock()
	c.publish([]Change[P]{change})
}

// evictLocked expires stale fire-and-forget entries, then drops resolved
// entries, oldest first, while over capacity or past MaxAge. Awaited entries
// are never touched.
func (c *Cache[P]) evictLocked(now time.Time) []Change[P] {
	var changes []Change[P]
	stale := func(e *entry[P]) bool {
		return c.cfg.MaxAge > 0 && now.Sub(e.Created) > c.cfg.MaxAge
	}

	for _, e := range c.entries {
		if e.Status == StatusPending && !e.Awaited && stale(e) {
			e.resolve(StatusExpired, now, ErrTimeout)
			c.stats.Expired++
			changes = append(changes, Change[P]{Kind: Expired, Entry: e.Entry})
		}
	}

	over := 0
	if c.cfg.MaxEntries > 0 {
		over = len(c.entries) - c.cfg.MaxEntries
	}
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.Status != StatusPending && (over > 0 || stale(e)) {
			over--
			c.stats.Evicted++
			changes = append(changes, Change[P]{Kind: Evicted, Entry: e.Entry})
			continue
		}
		kept = append(kept, e)
	}

	// Still over capacity: give up on the oldest fire-and-forget requests.
	if over > 0 {
		trimmed := kept[:0]
		for _, e := range kept {
			if over > 0 && e.Status == StatusPending && !e.Awaited {
				over--
				e.resolve(StatusExpired, now, ErrTimeout)
				c.stats.Expired++
				c.stats.Evicted++
				changes = append(changes,
					Change[P]{Kind: Expired, Entry: e.Entry},
					Change[P]{Kind: Evicted, Entry: e.Entry})
				continue
			}
			trimmed = append(trimmed, e)
		}
		kept = trimmed
	}

	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = nil
	}
	c.entries = kept
	return changes
}

// release marks the cache closed and unblocks every pending entry.
func (c *Cache[P]) release() {
	now := time.Now()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	var changes []Change[P]
	for _, e := range c.entries {
		if e.Status == StatusPending {
			e.resolve(StatusExpired, now, channel.ErrClosed)
			c.stats.Expired++
			changes = append(changes, Change[P]{Kind: Expired, Entry: e.Entry})
		}
	}
	c.mu.Unlock()
	c.publish(changes)
}

func (c *Cache[P]) publish(changes []Change[P]) {
	for _, ch := range changes {
		observability.RecordCacheChange(ch.Kind.String())
		c.changes.Publish(ch)
	}
}

func (c *Cache[P]) receive(in <-chan channel.Event[P], unsubscribe func()) {
	defer c.wg.Done()
	defer unsubscribe()
	for ev := range in {
		if ev.Err == nil {
			c.match(ev.Packet)
		}
		c.events.Publish(ev)
	}
	// Inner channel closed underneath us.
	c.release()
}

func (c *Cache[P]) sweep(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.mu.Lock()
			changes := c.evictLocked(now)
			c.mu.Unlock()
			c.publish(changes)
		}
	}
}
