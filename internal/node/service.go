package node

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/config"
	"github.com/danmuck/commlink/internal/demo"
	"github.com/danmuck/commlink/internal/observability"
	"github.com/danmuck/commlink/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Service struct {
	cfg       config.Config
	logger    zerolog.Logger
	transport *transport.Transport[*demo.LightCommand]
	router    *gin.Engine

	mu      sync.Mutex
	stop    context.CancelFunc
	workers sync.WaitGroup
}

var _ Node = (*Service)(nil)

func NewService(cfg config.Config, logger zerolog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := BuildCodec(cfg)
	if err != nil {
		return nil, err
	}
	tr := transport.NewTCP(BuildFactory(cfg, codec, logger), cfg.Transport, logger)
	s := &Service{
		cfg:       cfg,
		logger:    logger.With().Str("node", cfg.Name).Logger(),
		transport: tr,
	}
	s.router = observability.NewStatusRouter(cfg.Name, logger, tr)
	return s, nil
}

func (s *Service) NodeID() string          { return s.cfg.Name }
func (s *Service) Kind() string            { return "commlink" }
func (s *Service) HTTPRouter() *gin.Engine { return s.router }

func (s *Service) Transport() *transport.Transport[*demo.LightCommand] {
	return s.transport
}

// Start opens the transport and acknowledges commands on every accepted
// channel until Stop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return transport.ErrAlreadyOpen
	}

	changes, cancelWatch := s.transport.Watch(64)
	if err := s.transport.Open(); err != nil {
		cancelWatch()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = func() {
		cancel()
		cancelWatch()
	}

	s.workers.Add(1)
	go s.watch(ctx, changes)
	s.logger.Info().Str("addr", s.transport.Addr().String()).Msg("service started")
	return nil
}

// Stop disposes the transport and waits for every worker.
func (s *Service) Stop() error {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	err := s.transport.Dispose()
	s.workers.Wait()
	return err
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve starts the service plus the optional status server and blocks until
// ctx is done.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	statusErr := make(chan error, 1)
	var srv *http.Server
	if addr := strings.TrimSpace(s.cfg.StatusAddr); addr != "" {
		srv = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			s.logger.Info().Str("addr", addr).Msg("status server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				statusErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-statusErr:
		s.logger.Error().Err(runErr).Msg("status server failed")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if err := s.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (s *Service) watch(ctx context.Context, changes <-chan transport.Change) {
	defer s.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.Kind != transport.ChannelAdded {
				continue
			}
			for _, info := range s.transport.Channels() {
				if info.ID == change.ChannelID {
					s.workers.Add(1)
					go s.acknowledge(info.ID, info.Channel)
				}
			}
		}
	}
}

// acknowledge echoes every received command back on its channel.
func (s *Service) acknowledge(id string, ch channel.Channel[*demo.LightCommand]) {
	defer s.workers.Done()
	events, cancel := ch.Subscribe(0)
	defer cancel()

	logger := s.logger.With().Str("channel", id).Logger()
	for ev := range events {
		if ev.Err != nil {
			logger.Debug().Err(ev.Err).Msg("decode error")
			continue
		}
		logger.Info().Stringer("command", ev.Packet).Msg("command received")
		if err := ch.Transmit(ev.Packet); err != nil {
			if errors.Is(err, channel.ErrClosed) {
				return
			}
			logger.Warn().Err(err).Msg("acknowledge failed")
		}
	}
}
