package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/observability"
	"github.com/rs/zerolog"
)

// TCPDriver listens on every IPv4 interface and adopts each accepted
// connection.
type TCPDriver struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup

	acceptErrors atomic.Uint64
}

var (
	_ Driver = (*TCPDriver)(nil)
	_ Guard  = (*TCPDriver)(nil)
)

func NewTCPDriver(cfg Config, logger zerolog.Logger) *TCPDriver {
	return &TCPDriver{
		cfg:    cfg,
		logger: logger.With().Str("transport", cfg.Name).Logger(),
	}
}

// NewTCP returns a closed transport backed by a TCPDriver.
func NewTCP[P any](factory channel.Factory[P], cfg Config, logger zerolog.Logger) *Transport[P] {
	return New(NewTCPDriver(cfg, logger), factory, cfg, logger)
}

func (d *TCPDriver) OpenCore(adopt func(io.ReadWriteCloser)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln != nil {
		if bound(d.ln) {
			return nil
		}
		// A listener dropped underneath us is replaced.
		_ = d.stopLocked()
	}

	ln, err := listen(d.cfg.ListenPort, d.cfg.Backlog)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.ln = ln
	d.cancel = cancel
	d.logger.Info().Str("addr", ln.Addr().String()).Int("backlog", d.cfg.Backlog).Msg("listening")

	d.wg.Add(1)
	go d.acceptLoop(ctx, ln, adopt)
	return nil
}

func (d *TCPDriver) CloseCore() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *TCPDriver) stopLocked() error {
	if d.ln == nil {
		return nil
	}
	d.cancel()
	err := d.ln.Close()
	d.wg.Wait()
	d.ln, d.cancel = nil, nil
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// IsOpenCore reports whether the listener exists and its socket is bound.
func (d *TCPDriver) IsOpenCore() bool {
	d.mu.Lock()
	ln := d.ln
	d.mu.Unlock()
	return ln != nil && bound(ln)
}

func (d *TCPDriver) CanOpenCore() bool {
	return d.cfg.Validate() == nil
}

func (d *TCPDriver) CanCloseCore() bool {
	return true
}

func (d *TCPDriver) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return nil
	}
	return d.ln.Addr()
}

func (d *TCPDriver) AcceptErrors() uint64 {
	return d.acceptErrors.Load()
}

func (d *TCPDriver) acceptLoop(ctx context.Context, ln net.Listener, adopt func(io.ReadWriteCloser)) {
	defer d.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				d.logger.Debug().Msg("accept loop stopped")
				return
			}
			d.acceptErrors.Add(1)
			observability.RecordAcceptError(d.cfg.Name)
			d.logger.Warn().Err(err).Msg("accept failed")
			if !sleepContext(ctx, d.cfg.AcceptBackoff) {
				return
			}
			continue
		}
		if d.cfg.ReceiveTimeout > 0 {
			conn = &deadlineConn{Conn: conn, timeout: d.cfg.ReceiveTimeout}
		}
		adopt(conn)
	}
}

// deadlineConn refreshes the read deadline before every read.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
