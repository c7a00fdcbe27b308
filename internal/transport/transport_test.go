package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/demo"
	"github.com/danmuck/commlink/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

type fakeDriver struct {
	truth    atomic.Bool
	canOpen  atomic.Bool
	canClose atomic.Bool
	openErr  error

	mu    sync.Mutex
	adopt func(io.ReadWriteCloser)
	opens int
}

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{}
	d.canOpen.Store(true)
	d.canClose.Store(true)
	return d
}

func (d *fakeDriver) OpenCore(adopt func(io.ReadWriteCloser)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	d.adopt = adopt
	if d.openErr != nil {
		return d.openErr
	}
	d.truth.Store(true)
	return nil
}

func (d *fakeDriver) CloseCore() error {
	d.truth.Store(false)
	return nil
}

func (d *fakeDriver) IsOpenCore() bool   { return d.truth.Load() }
func (d *fakeDriver) CanOpenCore() bool  { return d.canOpen.Load() }
func (d *fakeDriver) CanCloseCore() bool { return d.canClose.Load() }

// connect adopts one end of a pipe and returns the other.
func (d *fakeDriver) connect() net.Conn {
	local, remote := net.Pipe()
	d.mu.Lock()
	adopt := d.adopt
	d.mu.Unlock()
	adopt(local)
	return remote
}

func lightFactory() channel.Factory[*demo.LightCommand] {
	cfg := channel.DefaultConfig()
	cfg.IdleDelay = 0
	return channel.NewFactory[*demo.LightCommand](demo.NewCodec(), channel.WithConfig(cfg))
}

func newFakeTransport(t *testing.T, cfg Config) (*Transport[*demo.LightCommand], *fakeDriver) {
	t.Helper()
	d := newFakeDriver()
	tr := New(d, lightFactory(), cfg, zerolog.Nop())
	t.Cleanup(func() { _ = tr.Dispose() })
	return tr, d
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

func TestOpenTwiceReportsStateError(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake"})

	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !tr.IsOpen() {
		t.Fatalf("expected open after Open")
	}
	err := tr.Open()
	if !errors.Is(err, ErrAlreadyOpen) || !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected already-open invalid operation, got %v", err)
	}
	if !tr.IsOpen() || d.opens != 1 {
		t.Fatalf("second open changed state: open=%v opens=%d", tr.IsOpen(), d.opens)
	}
}

func TestCloseStateErrors(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake"})

	if err := tr.Close(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	d.canClose.Store(false)
	if tr.CanClose() {
		t.Fatalf("guard should forbid close")
	}
	if err := tr.Close(); !errors.Is(err, ErrCloseNotAllowed) {
		t.Fatalf("expected ErrCloseNotAllowed, got %v", err)
	}
	if !tr.IsOpen() {
		t.Fatalf("forbidden close changed state")
	}
	d.canClose.Store(true)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tr.IsOpen() || !tr.CanOpen() {
		t.Fatalf("expected closed and openable")
	}
}

func TestOpenGuardAndDriverFailure(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake"})

	d.canOpen.Store(false)
	if err := tr.Open(); !errors.Is(err, ErrOpenNotAllowed) {
		t.Fatalf("expected ErrOpenNotAllowed, got %v", err)
	}

	d.canOpen.Store(true)
	d.openErr = errors.New("bind refused")
	if err := tr.Open(); err == nil || !errors.Is(err, d.openErr) {
		t.Fatalf("expected driver error, got %v", err)
	}
	if tr.IsOpen() {
		t.Fatalf("failed open should leave transport closed")
	}
}

func TestWatchReportsFlagChanges(t *testing.T) {
	testlog.Start(t)
	tr, _ := newFakeTransport(t, Config{Name: "fake"})
	changes, cancel := tr.Watch(16)
	defer cancel()

	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	want := []Change{
		{Kind: OpenChanged, Value: true},
		{Kind: CanOpenChanged, Value: false},
		{Kind: CanCloseChanged, Value: true},
	}
	for _, w := range want {
		if got := <-changes; got != w {
			t.Fatalf("expected %v=%v, got %v=%v", w.Kind, w.Value, got.Kind, got.Value)
		}
	}
}

func TestCloseDisposesChannels(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake"})
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	remotes := []net.Conn{d.connect(), d.connect()}
	defer func() {
		for _, r := range remotes {
			_ = r.Close()
		}
	}()
	infos := tr.Channels()
	if len(infos) != 2 || infos[0].ID != "fake-1" || infos[1].ID != "fake-2" {
		t.Fatalf("unexpected channels: %+v", infos)
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := len(tr.Channels()); n != 0 {
		t.Fatalf("expected empty channel set, got %d", n)
	}
	for i, r := range remotes {
		if _, err := r.Read(make([]byte, 1)); err == nil {
			t.Fatalf("remote %d still connected", i)
		}
	}
	if err := infos[0].Channel.Transmit(&demo.LightCommand{}); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected closed channel, got %v", err)
	}
}

func TestAdoptWhileClosedDropsStream(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake"})
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	remote := d.connect()
	defer remote.Close()
	if n := len(tr.Channels()); n != 0 {
		t.Fatalf("closed transport adopted a channel")
	}
	if _, err := remote.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected dropped stream to be closed")
	}
}

func TestCloseChannelRemovesOne(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake"})
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	remote := d.connect()
	defer remote.Close()

	if err := tr.CloseChannel("fake-1"); err != nil {
		t.Fatalf("close channel: %v", err)
	}
	if err := tr.CloseChannel("fake-1"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if !tr.IsOpen() || len(tr.Channels()) != 0 {
		t.Fatalf("unexpected state after closing channel")
	}
}

func TestReconcileCorrectsTrackedFlag(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake", AutoCheckOpen: true, AutoCheckInterval: 5 * time.Millisecond})
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	remote := d.connect()
	defer remote.Close()

	d.truth.Store(false)
	eventually(t, "reconciled close", func() bool { return !tr.IsOpen() })
	if n := len(tr.Channels()); n != 0 {
		t.Fatalf("reconciled close kept %d channels", n)
	}

	d.truth.Store(true)
	eventually(t, "reconciled open", func() bool { return tr.IsOpen() })
	if !tr.CanClose() {
		t.Fatalf("expected CanClose after reconciled open")
	}
}

func TestNoPollWithoutAutoCheck(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake", AutoCheckInterval: time.Millisecond})
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	d.truth.Store(false)
	time.Sleep(30 * time.Millisecond)
	if !tr.IsOpen() {
		t.Fatalf("flag changed without reconciliation poll")
	}
}

func TestDisposeClosesAndRejectsOpen(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake", AutoCheckOpen: true, AutoCheckInterval: 5 * time.Millisecond})
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	remote := d.connect()
	defer remote.Close()
	changes, _ := tr.Watch(16)

	if err := tr.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if tr.IsOpen() || d.truth.Load() {
		t.Fatalf("dispose left transport open")
	}
	if err := tr.Open(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
	for range changes {
	}
}

func TestWatcherMayCloseFromReceiveLoop(t *testing.T) {
	testlog.Start(t)
	tr, _ := newFakeTransport(t, Config{Name: "fake"})
	changes, cancel := tr.Watch(0)
	defer cancel()

	closed := make(chan error, 1)
	go func() {
		for c := range changes {
			if c.Kind == OpenChanged && c.Value {
				closed <- tr.Close()
				return
			}
		}
	}()

	opened := make(chan error, 1)
	go func() { opened <- tr.Open() }()
	select {
	case err := <-opened:
		if err != nil {
			t.Fatalf("open: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("open did not return while a watcher was closing")
	}
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close from watcher: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("close from watcher did not return")
	}
	if tr.IsOpen() {
		t.Fatalf("transport still open after watcher closed it")
	}
}

func TestWatchOrdersChannelChanges(t *testing.T) {
	testlog.Start(t)
	tr, d := newFakeTransport(t, Config{Name: "fake"})
	changes, cancel := tr.Watch(0)
	defer cancel()

	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	remote := d.connect()
	defer remote.Close()
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	want := []Change{
		{Kind: OpenChanged, Value: true},
		{Kind: CanOpenChanged, Value: false},
		{Kind: CanCloseChanged, Value: true},
		{Kind: ChannelAdded, ChannelID: "fake-1"},
		{Kind: OpenChanged, Value: false},
		{Kind: CanOpenChanged, Value: true},
		{Kind: CanCloseChanged, Value: false},
		{Kind: ChannelRemoved, ChannelID: "fake-1"},
	}
	for i, w := range want {
		select {
		case got := <-changes:
			if got != w {
				t.Fatalf("change %d: expected %+v, got %+v", i, w, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("change %d never arrived", i)
		}
	}
}
