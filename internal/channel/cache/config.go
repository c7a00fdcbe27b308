package cache

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danmuck/commlink/internal/channel/cache"

type Config struct {
	// MaxEntries bounds the entry collection; zero disables the bound.
	MaxEntries int
	// MaxAge expires stale fire-and-forget entries and evicts resolved ones.
	MaxAge        time.Duration
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:    256,
		MaxAge:        30 * time.Second,
		SweepInterval: time.Second,
	}
}

type options[P any] struct {
	cfg     Config
	matcher Matcher[P]
	logger  zerolog.Logger
	tracer  trace.Tracer
}

type Option[P any] func(*options[P])

func WithConfig[P any](cfg Config) Option[P] {
	return func(o *options[P]) {
		o.cfg = cfg
	}
}

func WithMatcher[P any](m Matcher[P]) Option[P] {
	return func(o *options[P]) {
		if m != nil {
			o.matcher = m
		}
	}
}

func WithLogger[P any](logger zerolog.Logger) Option[P] {
	return func(o *options[P]) {
		o.logger = logger
	}
}

func WithTracer[P any](tracer trace.Tracer) Option[P] {
	return func(o *options[P]) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

func buildOptions[P any](opts []Option[P]) options[P] {
	o := options[P]{
		cfg:     DefaultConfig(),
		matcher: FIFO[P],
		logger:  log.Logger,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
