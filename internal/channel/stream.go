package channel

import (
	"context"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/commlink/internal/notify"
	"github.com/danmuck/commlink/internal/protocol/field"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stream is the concrete Channel over one or two byte streams.
type Stream[P any] struct {
	codec  Codec[P]
	cfg    Config
	logger zerolog.Logger

	rc     io.ReadCloser
	wc     io.WriteCloser
	shared bool
	reader *field.Reader

	wmu  sync.Mutex
	wbuf *field.Writer

	hub    *notify.Hub[Event[P]]
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ Channel[any] = (*Stream[any])(nil)

// NewStream starts a channel reading and writing the same stream.
func NewStream[P any](codec Codec[P], rwc io.ReadWriteCloser, opts ...Option) *Stream[P] {
	return newStream(codec, rwc, rwc, true, opts)
}

// NewSplitStream starts a channel with separate read and write sides. Both
// sides are closed on Close.
func NewSplitStream[P any](codec Codec[P], rc io.ReadCloser, wc io.WriteCloser, opts ...Option) *Stream[P] {
	return newStream(codec, rc, wc, false, opts)
}

func newStream[P any](codec Codec[P], rc io.ReadCloser, wc io.WriteCloser, shared bool, opts []Option) *Stream[P] {
	o := options{cfg: DefaultConfig(), logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream[P]{
		codec:  codec,
		cfg:    o.cfg,
		rc:     rc,
		wc:     wc,
		shared: shared,
		reader: field.NewReader(rc),
		wbuf:   field.NewWriter(),
		hub:    notify.NewRetainingHub[Event[P]](o.cfg.Backlog),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.logger = o.logger.With().Str("channel", s.cfg.Name).Logger()
	go s.run()
	return s
}

func (s *Stream[P]) Name() string {
	return s.cfg.Name
}

func (s *Stream[P]) Transmit(p P) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.wbuf.Reset()
	if err := s.codec.Encode(s.wbuf, p); err != nil {
		s.wbuf.Reset()
		return err
	}
	if err := s.wbuf.FlushTo(s.wc); err != nil {
		if s.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Subscribe registers a consumer. The first subscriber also receives the
// events decoded before it arrived, up to Config.Backlog.
func (s *Stream[P]) Subscribe(buffer int) (<-chan Event[P], func()) {
	if buffer <= 0 {
		buffer = s.cfg.SubscriberBuffer
	}
	return s.hub.Subscribe(buffer)
}

// Dropped counts events decoded while nobody could receive them.
func (s *Stream[P]) Dropped() uint64 {
	return s.hub.Dropped()
}

// Done is closed once the decode loop has exited.
func (s *Stream[P]) Done() <-chan struct{} {
	return s.done
}

func (s *Stream[P]) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err := s.rc.Close()
		if !s.shared {
			if werr := s.wc.Close(); err == nil {
				err = werr
			}
		}
		s.hub.Close()
		<-s.done
		s.closeErr = err
		s.logger.Debug().Msg("channel closed")
	})
	return s.closeErr
}

func (s *Stream[P]) run() {
	defer close(s.done)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	failures := 0

	for {
		if s.ctx.Err() != nil {
			return
		}
		pkt, err := s.codec.Decode(s.reader)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			failures++
			s.logger.Debug().Err(err).Int("failures", failures).Msg("decode failed")
			if !s.hub.Publish(Event[P]{Err: err, At: time.Now()}) {
				return
			}
			if !s.sleep(NextBackoffDelay(s.cfg.Backoff, failures, rng)) {
				return
			}
			continue
		}
		failures = 0
		if !s.hub.Publish(Event[P]{Packet: pkt, At: time.Now()}) {
			return
		}
		if !s.sleep(s.cfg.IdleDelay) {
			return
		}
	}
}

func (s *Stream[P]) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
