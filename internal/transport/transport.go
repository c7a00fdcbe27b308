// Package transport owns a set of channels behind an open/closed state
// machine.
//
// The tracked open flag is the application-visible state. A Driver supplies
// the concrete open and close work plus a ground truth predicate, and the
// optional reconciliation poll corrects the flag whenever the two disagree.
// Every transition to closed closes and forgets all owned channels.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/notify"
	"github.com/danmuck/commlink/internal/observability"
	"github.com/rs/zerolog"
)

// Driver performs the transport-specific work behind Open and Close.
type Driver interface {
	// OpenCore starts the transport and hands every new stream to adopt.
	OpenCore(adopt func(io.ReadWriteCloser)) error
	CloseCore() error
	// IsOpenCore reports ground truth.
	IsOpenCore() bool
}

// Guard adds transport-specific preconditions to CanOpen and CanClose.
type Guard interface {
	CanOpenCore() bool
	CanCloseCore() bool
}

type ChangeKind int

const (
	OpenChanged ChangeKind = iota
	CanOpenChanged
	CanCloseChanged
	ChannelAdded
	ChannelRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case OpenChanged:
		return "open_changed"
	case CanOpenChanged:
		return "can_open_changed"
	case CanCloseChanged:
		return "can_close_changed"
	case ChannelAdded:
		return "channel_added"
	case ChannelRemoved:
		return "channel_removed"
	default:
		return fmt.Sprintf("change(%d)", int(k))
	}
}

// Change carries the new flag value, or the channel id for channel changes.
type Change struct {
	Kind      ChangeKind
	Value     bool
	ChannelID string
}

type ChannelInfo[P any] struct {
	ID      string
	Remote  string
	Added   time.Time
	Channel channel.Channel[P]
}

type owned[P any] struct {
	seq  uint64
	info ChannelInfo[P]
}

type Transport[P any] struct {
	driver  Driver
	factory channel.Factory[P]
	cfg     Config
	logger  zerolog.Logger

	// opMu serialises Open, Close, Dispose and reconciliation.
	opMu sync.Mutex

	mu        sync.Mutex
	open      bool
	canOpen   bool
	canClose  bool
	accepting bool
	disposed  bool
	channels  map[string]*owned[P]
	seq       uint64

	changes     *notify.Outbox[Change]
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	disposeOnce sync.Once
}

// New builds a closed transport and starts the reconciliation poll when
// cfg.AutoCheckOpen is set.
func New[P any](driver Driver, factory channel.Factory[P], cfg Config, logger zerolog.Logger) *Transport[P] {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport[P]{
		driver:   driver,
		factory:  factory,
		cfg:      cfg,
		logger:   logger.With().Str("transport", cfg.Name).Logger(),
		channels: make(map[string]*owned[P]),
		changes:  notify.NewOutbox[Change](),
		cancel:   cancel,
	}
	t.canOpen = t.guardOpen()
	observability.SetTransportOpen(cfg.Name, false)
	observability.SetTransportChannels(cfg.Name, 0)

	if cfg.AutoCheckOpen && cfg.AutoCheckInterval > 0 {
		t.wg.Add(1)
		go t.poll(ctx)
	}
	return t
}

func (t *Transport[P]) Name() string {
	return t.cfg.Name
}

func (t *Transport[P]) Driver() Driver {
	return t.driver
}

func (t *Transport[P]) Open() error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	switch {
	case t.disposed:
		t.mu.Unlock()
		return ErrDisposed
	case t.open:
		t.mu.Unlock()
		return ErrAlreadyOpen
	case !t.guardOpen():
		t.mu.Unlock()
		return ErrOpenNotAllowed
	}
	t.accepting = true
	t.mu.Unlock()

	t.logger.Info().Msg("opening transport")
	err := t.driver.OpenCore(t.adopt)
	t.reconcile()
	if err != nil {
		t.logger.Error().Err(err).Msg("open failed")
		return fmt.Errorf("transport: open: %w", err)
	}
	return nil
}

func (t *Transport[P]) Close() error {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	switch {
	case !t.open:
		t.mu.Unlock()
		return ErrNotOpen
	case !t.guardClose():
		t.mu.Unlock()
		return ErrCloseNotAllowed
	}
	t.accepting = false
	t.mu.Unlock()

	return t.closeCore()
}

func (t *Transport[P]) closeCore() error {
	t.logger.Info().Msg("closing transport")
	err := t.driver.CloseCore()
	t.reconcile()
	if err != nil {
		t.logger.Error().Err(err).Msg("close failed")
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

func (t *Transport[P]) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Transport[P]) CanOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.open && !t.disposed && t.guardOpen()
}

func (t *Transport[P]) CanClose() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && t.guardClose()
}

// Addr reports the bound address for drivers that expose one.
func (t *Transport[P]) Addr() net.Addr {
	if a, ok := t.driver.(interface{ Addr() net.Addr }); ok {
		return a.Addr()
	}
	return nil
}

// Watch streams state and channel-set changes in the order they happened.
// Changes are queued, so a watcher may call Open, Close or Dispose from its
// receive loop. The stream closes after Dispose.
func (t *Transport[P]) Watch(buffer int) (<-chan Change, func()) {
	return t.changes.Subscribe(buffer)
}

// Channels returns the owned channels in adoption order.
func (t *Transport[P]) Channels() []ChannelInfo[P] {
	t.mu.Lock()
	list := make([]*owned[P], 0, len(t.channels))
	for _, o := range t.channels {
		list = append(list, o)
	}
	t.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]ChannelInfo[P], len(list))
	for i, o := range list {
		out[i] = o.info
	}
	return out
}

// CloseChannel closes one owned channel and drops it from the set.
func (t *Transport[P]) CloseChannel(id string) error {
	t.mu.Lock()
	o, ok := t.channels[id]
	if ok {
		delete(t.channels, id)
		t.changes.Post(Change{Kind: ChannelRemoved, ChannelID: id})
	}
	n := len(t.channels)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}

	observability.SetTransportChannels(t.cfg.Name, n)
	return o.info.Channel.Close()
}

func (t *Transport[P]) Status() observability.TransportStatus {
	st := observability.TransportStatus{Name: t.cfg.Name}
	if addr := t.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	st.Open = t.IsOpen()
	st.CanOpen = t.CanOpen()
	st.CanClose = t.CanClose()
	for _, info := range t.Channels() {
		st.Channels = append(st.Channels, info.ID)
	}
	return st
}

// Dispose closes the transport if open, stops the reconciliation poll and
// closes the change stream. It skips the close guard.
func (t *Transport[P]) Dispose() error {
	var err error
	t.disposeOnce.Do(func() {
		t.cancel()
		t.wg.Wait()

		t.opMu.Lock()
		t.mu.Lock()
		t.disposed = true
		t.accepting = false
		t.mu.Unlock()
		err = t.closeCore()
		t.opMu.Unlock()

		t.changes.Close()
	})
	return err
}

func (t *Transport[P]) adopt(rwc io.ReadWriteCloser) {
	remote := ""
	if c, ok := rwc.(interface{ RemoteAddr() net.Addr }); ok {
		remote = c.RemoteAddr().String()
	}

	t.mu.Lock()
	if !t.accepting {
		t.mu.Unlock()
		t.logger.Debug().Str("remote", remote).Msg("dropping stream adopted while closed")
		_ = rwc.Close()
		return
	}
	t.seq++
	id := fmt.Sprintf("%s-%d", t.cfg.Name, t.seq)
	o := &owned[P]{
		seq: t.seq,
		info: ChannelInfo[P]{
			ID:      id,
			Remote:  remote,
			Added:   time.Now(),
			Channel: t.factory.Create(rwc),
		},
	}
	t.channels[id] = o
	t.changes.Post(Change{Kind: ChannelAdded, ChannelID: id})
	n := len(t.channels)
	t.mu.Unlock()

	t.logger.Info().Str("channel", id).Str("remote", remote).Msg("channel added")
	observability.SetTransportChannels(t.cfg.Name, n)
}

// reconcile corrects the tracked flag to ground truth.
func (t *Transport[P]) reconcile() {
	t.setOpen(t.driver.IsOpenCore())
}

func (t *Transport[P]) setOpen(v bool) {
	t.mu.Lock()
	t.accepting = v && !t.disposed
	if t.open == v {
		t.mu.Unlock()
		return
	}
	t.open = v
	changes := []Change{{Kind: OpenChanged, Value: v}}

	var closing []*owned[P]
	if !v {
		for id, o := range t.channels {
			closing = append(closing, o)
			delete(t.channels, id)
		}
	}
	if canOpen := !v && !t.disposed && t.guardOpen(); canOpen != t.canOpen {
		t.canOpen = canOpen
		changes = append(changes, Change{Kind: CanOpenChanged, Value: canOpen})
	}
	if canClose := v && t.guardClose(); canClose != t.canClose {
		t.canClose = canClose
		changes = append(changes, Change{Kind: CanCloseChanged, Value: canClose})
	}
	sort.Slice(closing, func(i, j int) bool { return closing[i].seq < closing[j].seq })
	for _, o := range closing {
		changes = append(changes, Change{Kind: ChannelRemoved, ChannelID: o.info.ID})
	}
	t.changes.Post(changes...)
	remaining := len(t.channels)
	t.mu.Unlock()

	for _, o := range closing {
		if err := o.info.Channel.Close(); err != nil {
			t.logger.Debug().Err(err).Str("channel", o.info.ID).Msg("channel close")
		}
	}

	if v {
		t.logger.Info().Msg("transport open")
	} else {
		t.logger.Info().Int("channels_closed", len(closing)).Msg("transport closed")
	}
	observability.SetTransportOpen(t.cfg.Name, v)
	observability.SetTransportChannels(t.cfg.Name, remaining)
}

func (t *Transport[P]) guardOpen() bool {
	if g, ok := t.driver.(Guard); ok {
		return g.CanOpenCore()
	}
	return true
}

func (t *Transport[P]) guardClose() bool {
	if g, ok := t.driver.(Guard); ok {
		return g.CanCloseCore()
	}
	return true
}

func (t *Transport[P]) poll(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.AutoCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.opMu.Lock()
			t.mu.Lock()
			tracked := t.open
			t.mu.Unlock()
			if truth := t.driver.IsOpenCore(); truth != tracked {
				t.logger.Warn().Bool("tracked", tracked).Bool("actual", truth).Msg("reconciling open flag")
				t.setOpen(truth)
			}
			t.opMu.Unlock()
		}
	}
}
