package transport

import (
	"fmt"
	"time"
)

type Config struct {
	// Name labels the transport in logs, metrics and channel ids.
	Name       string
	ListenPort int
	Backlog    int
	// AutoCheckOpen starts the reconciliation poll. When false the open flag
	// only changes through Open and Close.
	AutoCheckOpen     bool
	AutoCheckInterval time.Duration
	// ReceiveTimeout, when set, bounds every read on accepted connections.
	ReceiveTimeout time.Duration
	AcceptBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Name:              "tcp",
		ListenPort:        0,
		Backlog:           128,
		AutoCheckOpen:     false,
		AutoCheckInterval: time.Second,
		AcceptBackoff:     100 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d out of range", ErrInvalidConfig, c.ListenPort)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("%w: negative backlog", ErrInvalidConfig)
	}
	if c.AutoCheckOpen && c.AutoCheckInterval <= 0 {
		return fmt.Errorf("%w: auto check interval must be positive", ErrInvalidConfig)
	}
	if c.ReceiveTimeout < 0 || c.AcceptBackoff < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}
