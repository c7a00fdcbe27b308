package channel

import (
	"time"

	"github.com/rs/zerolog"
)

// BackoffConfig defines the delay after consecutive decode errors.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines decode loop pacing and subscriber defaults.
type Config struct {
	// Name labels the channel in logs and metrics.
	Name string
	// IdleDelay is the pause after each decoded packet.
	IdleDelay        time.Duration
	Backoff          BackoffConfig
	SubscriberBuffer int
	// Backlog bounds the events kept for a first subscriber that arrives
	// after decoding has started.
	Backlog int
}

func DefaultConfig() Config {
	return Config{
		IdleDelay: 5 * time.Millisecond,
		Backoff: BackoffConfig{
			InitialDelay: 50 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
		SubscriberBuffer: 16,
		Backlog:          16,
	}
}

type options struct {
	cfg    Config
	logger zerolog.Logger
}

type Option func(*options)

func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

func WithName(name string) Option {
	return func(o *options) {
		o.cfg.Name = name
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
