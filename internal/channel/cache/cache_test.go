package cache

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/demo"
	"github.com/danmuck/commlink/internal/notify"
	"github.com/danmuck/commlink/internal/testutil/testlog"
	"golang.org/x/sync/errgroup"
)

type light = demo.LightCommand

func streamConfig(name string) channel.Config {
	cfg := channel.DefaultConfig()
	cfg.Name = name
	cfg.IdleDelay = 0
	cfg.Backoff = channel.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	return cfg
}

// pair returns a cache over one end of a pipe and a plain stream over the
// other end that plays the remote peer. The peer always reads, so writes to
// it never block.
func pair(t *testing.T, opts ...Option[*light]) (*Cache[*light], *channel.Stream[*light]) {
	t.Helper()
	local, remote := net.Pipe()
	inner := channel.NewStream[*light](demo.NewCodec(), local, channel.WithConfig(streamConfig("local")))
	peer := channel.NewStream[*light](demo.NewCodec(), remote, channel.WithConfig(streamConfig("peer")))
	drain, _ := peer.Subscribe(64)
	go func() {
		for range drain {
		}
	}()
	c := New(inner, opts...)
	t.Cleanup(func() {
		_ = c.Close()
		_ = peer.Close()
	})
	return c, peer
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func countStatus(entries []Entry[*light], status Status) int {
	n := 0
	for _, e := range entries {
		if e.Status == status {
			n++
		}
	}
	return n
}

func TestConcurrentAwaitsReceiveOwnResponse(t *testing.T) {
	testlog.Start(t)
	const n = 16
	c, peer := pair(t)
	requests, cancel := peer.Subscribe(n)
	defer cancel()

	// Echo each request the moment it comes off the wire.
	go func() {
		for ev := range requests {
			if ev.Err != nil {
				continue
			}
			_ = peer.Transmit(&light{LightID: ev.Packet.LightID, On: true})
		}
	}()

	responses := make([]*light, n)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			resp, err := c.Await(ctx, &light{LightID: byte(i)}, 2*time.Second)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("await: %v", err)
	}

	seen := make(map[*light]bool, n)
	for i, resp := range responses {
		if resp.LightID != byte(i) || !resp.On {
			t.Fatalf("caller %d got response for light %d", i, resp.LightID)
		}
		if seen[resp] {
			t.Fatalf("response instance delivered twice: %p", resp)
		}
		seen[resp] = true
	}
	if got := c.Stats(); got.Matched != n || got.Pending != 0 {
		t.Fatalf("unexpected stats: %+v", got)
	}
}

func TestMatchKeyPairsOutOfOrderResponses(t *testing.T) {
	testlog.Start(t)
	const n = 8
	c, peer := pair(t, WithMatcher(MatchKey(demo.SameLight)))
	requests, cancel := peer.Subscribe(n)
	defer cancel()

	go func() {
		got := make([]byte, 0, n)
		for len(got) < n {
			ev, ok := <-requests
			if !ok {
				return
			}
			got = append(got, ev.Packet.LightID)
		}
		for i := len(got) - 1; i >= 0; i-- {
			_ = peer.Transmit(&light{LightID: got[i], On: true})
		}
	}()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		id := byte(100 + i)
		g.Go(func() error {
			resp, err := c.Await(ctx, &light{LightID: id}, 2*time.Second)
			if err != nil {
				return err
			}
			if resp.LightID != id {
				return errors.New("mismatched response")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("await: %v", err)
	}
}

func TestAwaitTimesOutAndExpiresEntry(t *testing.T) {
	testlog.Start(t)
	c, _ := pair(t)

	start := time.Now()
	_, err := c.Await(context.Background(), &light{LightID: 1}, 40*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("timed out early after %v", elapsed)
	}
	entries := c.Entries()
	if len(entries) != 1 || entries[0].Status != StatusExpired || entries[0].Awaited {
		t.Fatalf("expected one expired entry, got %+v", entries)
	}
}

func TestAwaitHonoursContext(t *testing.T) {
	testlog.Start(t)
	c, _ := pair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := c.Await(ctx, &light{LightID: 1}, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := countStatus(c.Entries(), StatusExpired); got != 1 {
		t.Fatalf("expected expired entry, got %d", got)
	}
}

func TestCloseReleasesAwaiters(t *testing.T) {
	testlog.Start(t)
	c, _ := pair(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Await(context.Background(), &light{LightID: 2}, 0)
		errCh <- err
	}()
	eventually(t, "awaited entry", func() bool { return countStatus(c.Entries(), StatusPending) == 1 })

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, channel.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("awaiter not released by close")
	}
	if err := c.Transmit(&light{}); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

func TestInnerCloseReleasesAwaiters(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	defer remote.Close()
	inner := channel.NewStream[*light](demo.NewCodec(), local, channel.WithConfig(streamConfig("inner")))
	c := New[*light](inner)
	defer c.Close()

	errCh := make(chan error, 1)
	go func() {
		// the pipe needs a reader for the request frame
		_, _ = remote.Read(make([]byte, 16))
	}()
	go func() {
		_, err := c.Await(context.Background(), &light{LightID: 3}, 0)
		errCh <- err
	}()
	eventually(t, "awaited entry", func() bool { return len(c.Entries()) == 1 })

	_ = inner.Close()
	select {
	case err := <-errCh:
		if !errors.Is(err, channel.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("awaiter not released when inner channel closed")
	}
}

func TestCapacityEvictsOldestFireAndForget(t *testing.T) {
	testlog.Start(t)
	c, _ := pair(t, WithConfig[*light](Config{MaxEntries: 2}))
	for id := byte(1); id <= 3; id++ {
		if err := c.Transmit(&light{LightID: id}); err != nil {
			t.Fatalf("transmit %d: %v", id, err)
		}
	}
	entries := c.Entries()
	if len(entries) != 2 || entries[0].Request.LightID != 2 || entries[1].Request.LightID != 3 {
		t.Fatalf("expected lights 2 and 3 retained, got %+v", entries)
	}
	if s := c.Stats(); s.Evicted != 1 || s.Expired != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestEvictionPrefersResolvedAndKeepsAwaited(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t, WithConfig[*light](Config{MaxEntries: 2}))
	requests, cancel := peer.Subscribe(8)
	defer cancel()

	// Light 1 is answered and becomes the resolved eviction candidate.
	go func() {
		ev := <-requests
		_ = peer.Transmit(ev.Packet)
		for range requests {
		}
	}()
	if _, err := c.Await(context.Background(), &light{LightID: 1}, time.Second); err != nil {
		t.Fatalf("await 1: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Await(context.Background(), &light{LightID: 2}, 0)
		errCh <- err
	}()
	eventually(t, "awaited entry", func() bool { return countStatus(c.Entries(), StatusPending) == 1 })

	if err := c.Transmit(&light{LightID: 3}); err != nil {
		t.Fatalf("transmit 3: %v", err)
	}
	if err := c.Transmit(&light{LightID: 4}); err != nil {
		t.Fatalf("transmit 4: %v", err)
	}

	entries := c.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %+v", entries)
	}
	if entries[0].Request.LightID != 2 || !entries[0].Awaited || entries[0].Status != StatusPending {
		t.Fatalf("awaited entry evicted or resolved: %+v", entries[0])
	}
	if entries[1].Request.LightID != 4 {
		t.Fatalf("expected newest fire-and-forget retained, got %+v", entries[1])
	}

	_ = c.Close()
	if err := <-errCh; !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSweepExpiresStaleEntries(t *testing.T) {
	testlog.Start(t)
	c, _ := pair(t, WithConfig[*light](Config{MaxAge: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond}))
	if err := c.Transmit(&light{LightID: 9}); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	eventually(t, "sweep", func() bool { return len(c.Entries()) == 0 })
	if s := c.Stats(); s.Expired != 1 || s.Evicted != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestWatchReportsLifecycle(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t)
	changes, cancelWatch := c.Watch(8)
	defer cancelWatch()
	requests, cancel := peer.Subscribe(1)
	defer cancel()

	go func() {
		ev := <-requests
		_ = peer.Transmit(ev.Packet)
	}()
	if _, err := c.Await(context.Background(), &light{LightID: 5, On: true}, time.Second); err != nil {
		t.Fatalf("await: %v", err)
	}

	added := <-changes
	matched := <-changes
	if added.Kind != Added || added.Entry.Request.LightID != 5 {
		t.Fatalf("unexpected first change: %v %+v", added.Kind, added.Entry)
	}
	if matched.Kind != Matched || matched.Entry.Response.LightID != 5 || matched.Entry.Status != StatusMatched {
		t.Fatalf("unexpected second change: %v %+v", matched.Kind, matched.Entry)
	}
}

func TestUnmatchedResponseIsCountedAndForwarded(t *testing.T) {
	testlog.Start(t)
	c, peer := pair(t)
	events, cancel := c.Subscribe(1)
	defer cancel()

	if err := peer.Transmit(&light{LightID: 42}); err != nil {
		t.Fatalf("peer transmit: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Packet.LightID != 42 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not forwarded")
	}
	if s := c.Stats(); s.Unmatched != 1 {
		t.Fatalf("expected one unmatched response, got %+v", s)
	}
}

func TestFactoryWrapsChannels(t *testing.T) {
	testlog.Start(t)
	f := NewFactory(channel.NewFactory[*light](demo.NewCodec()), WithMatcher(MatchKey(demo.SameLight)))
	local, remote := net.Pipe()
	defer remote.Close()

	ch := f.Create(local)
	defer ch.Close()
	if _, ok := ch.(*Cache[*light]); !ok {
		t.Fatalf("expected cache channel, got %T", ch)
	}
}

// echoWire answers every packet in the order it reaches the wire. Writing
// light 1 stalls until light 2 is written, or briefly when nothing else can
// write in the meantime.
type echoWire struct {
	hub     *notify.Hub[channel.Event[*light]]
	started chan struct{}
	second  chan struct{}
	mu      sync.Mutex
	wire    []byte
}

func newEchoWire() *echoWire {
	return &echoWire{
		hub:     notify.NewHub[channel.Event[*light]](),
		started: make(chan struct{}),
		second:  make(chan struct{}),
	}
}

func (w *echoWire) Transmit(p *light) error {
	switch p.LightID {
	case 1:
		close(w.started)
		select {
		case <-w.second:
		case <-time.After(100 * time.Millisecond):
		}
	case 2:
		defer close(w.second)
	}
	w.mu.Lock()
	w.wire = append(w.wire, p.LightID)
	w.mu.Unlock()
	w.hub.Publish(channel.Event[*light]{Packet: &light{LightID: p.LightID, On: true}, At: time.Now()})
	return nil
}

func (w *echoWire) Subscribe(buffer int) (<-chan channel.Event[*light], func()) {
	return w.hub.Subscribe(buffer)
}

func (w *echoWire) Close() error {
	w.hub.Close()
	return nil
}

func TestFIFOPairsInWireOrder(t *testing.T) {
	testlog.Start(t)
	wire := newEchoWire()
	c := New[*light](wire)
	defer c.Close()

	type result struct {
		resp *light
		err  error
	}
	first := make(chan result, 1)
	go func() {
		resp, err := c.Await(context.Background(), &light{LightID: 1}, 2*time.Second)
		first <- result{resp, err}
	}()
	<-wire.started

	resp2, err := c.Await(context.Background(), &light{LightID: 2}, 2*time.Second)
	if err != nil {
		t.Fatalf("await light 2: %v", err)
	}
	r1 := <-first
	if r1.err != nil {
		t.Fatalf("await light 1: %v", r1.err)
	}
	if r1.resp.LightID != 1 || resp2.LightID != 2 {
		t.Fatalf("responses crossed: light 1 got %d, light 2 got %d", r1.resp.LightID, resp2.LightID)
	}

	wire.mu.Lock()
	order := append([]byte(nil), wire.wire...)
	wire.mu.Unlock()
	entries := c.Entries()
	if len(entries) != 2 || len(order) != 2 {
		t.Fatalf("unexpected entries %d wire %v", len(entries), order)
	}
	for i, e := range entries {
		if e.Request.LightID != order[i] {
			t.Fatalf("entry %d is light %d but wire slot %d carried light %d", i, e.Request.LightID, i, order[i])
		}
	}
}
