// Package config loads commlinkctl TOML files over the package defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/commlink/internal/channel"
	"github.com/danmuck/commlink/internal/channel/cache"
	"github.com/danmuck/commlink/internal/protocol/encoding"
	"github.com/danmuck/commlink/internal/transport"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Name       string
	StatusAddr string
	Transport  transport.Config
	Channel    channel.Config
	// Cache bounds the correlation cache on client channels.
	Cache   cache.Config
	Monitor bool
	// Timestamp selects the codec's timestamp trailer; empty means none.
	Timestamp string
}

func Default() Config {
	return Config{
		Name:       "commlink",
		StatusAddr: "",
		Transport:  transport.DefaultConfig(),
		Channel:    channel.DefaultConfig(),
		Cache:      cache.DefaultConfig(),
		Monitor:    true,
	}
}

type fileConfig struct {
	Name       string        `toml:"name"`
	StatusAddr string        `toml:"status_addr"`
	Transport  fileTransport `toml:"transport"`
	Channel    fileChannel   `toml:"channel"`
	Cache      fileCache     `toml:"cache"`
	Codec      fileCodec     `toml:"codec"`
}

type fileTransport struct {
	Name              string `toml:"name"`
	ListenPort        int    `toml:"listen_port"`
	Backlog           int    `toml:"backlog"`
	AutoCheckOpen     bool   `toml:"auto_check_open"`
	AutoCheckInterval string `toml:"auto_check_interval"`
	ReceiveTimeout    string `toml:"receive_timeout"`
	AcceptBackoff     string `toml:"accept_backoff"`
}

type fileChannel struct {
	IdleDelay         string  `toml:"idle_delay"`
	SubscriberBuffer  int     `toml:"subscriber_buffer"`
	Backlog           int     `toml:"backlog"`
	BackoffInitial    string  `toml:"backoff_initial"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	BackoffMax        string  `toml:"backoff_max"`
	BackoffJitter     bool    `toml:"backoff_jitter"`
	Monitor           bool    `toml:"monitor"`
}

type fileCache struct {
	MaxEntries    int    `toml:"max_entries"`
	MaxAge        string `toml:"max_age"`
	SweepInterval string `toml:"sweep_interval"`
}

type fileCodec struct {
	Timestamp string `toml:"timestamp"`
}

func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load commlink config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Name = name
		}
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}

	if meta.IsDefined("transport", "name") {
		cfg.Transport.Name = strings.TrimSpace(raw.Transport.Name)
	}
	if meta.IsDefined("transport", "listen_port") {
		cfg.Transport.ListenPort = raw.Transport.ListenPort
	}
	if meta.IsDefined("transport", "backlog") {
		cfg.Transport.Backlog = raw.Transport.Backlog
	}
	if meta.IsDefined("transport", "auto_check_open") {
		cfg.Transport.AutoCheckOpen = raw.Transport.AutoCheckOpen
	}
	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"transport", "auto_check_interval"}, raw.Transport.AutoCheckInterval, &cfg.Transport.AutoCheckInterval},
		{[]string{"transport", "receive_timeout"}, raw.Transport.ReceiveTimeout, &cfg.Transport.ReceiveTimeout},
		{[]string{"transport", "accept_backoff"}, raw.Transport.AcceptBackoff, &cfg.Transport.AcceptBackoff},
		{[]string{"channel", "idle_delay"}, raw.Channel.IdleDelay, &cfg.Channel.IdleDelay},
		{[]string{"channel", "backoff_initial"}, raw.Channel.BackoffInitial, &cfg.Channel.Backoff.InitialDelay},
		{[]string{"channel", "backoff_max"}, raw.Channel.BackoffMax, &cfg.Channel.Backoff.MaxDelay},
		{[]string{"cache", "max_age"}, raw.Cache.MaxAge, &cfg.Cache.MaxAge},
		{[]string{"cache", "sweep_interval"}, raw.Cache.SweepInterval, &cfg.Cache.SweepInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("channel", "subscriber_buffer") {
		cfg.Channel.SubscriberBuffer = raw.Channel.SubscriberBuffer
	}
	if meta.IsDefined("channel", "backlog") {
		cfg.Channel.Backlog = raw.Channel.Backlog
	}
	if meta.IsDefined("channel", "backoff_multiplier") {
		cfg.Channel.Backoff.Multiplier = raw.Channel.BackoffMultiplier
	}
	if meta.IsDefined("channel", "backoff_jitter") {
		cfg.Channel.Backoff.Jitter = raw.Channel.BackoffJitter
	}
	if meta.IsDefined("channel", "monitor") {
		cfg.Monitor = raw.Channel.Monitor
	}
	if meta.IsDefined("cache", "max_entries") {
		cfg.Cache.MaxEntries = raw.Cache.MaxEntries
	}
	if meta.IsDefined("codec", "timestamp") {
		cfg.Timestamp = strings.ToLower(strings.TrimSpace(raw.Codec.Timestamp))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalid)
	}
	if strings.TrimSpace(c.Transport.Name) == "" {
		return fmt.Errorf("%w: missing transport name", ErrInvalid)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if c.Channel.IdleDelay < 0 || c.Channel.Backoff.InitialDelay < 0 || c.Channel.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative channel delay", ErrInvalid)
	}
	if c.Channel.SubscriberBuffer < 0 || c.Channel.Backlog < 0 {
		return fmt.Errorf("%w: negative subscriber buffer or backlog", ErrInvalid)
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxAge < 0 || c.Cache.SweepInterval < 0 {
		return fmt.Errorf("%w: negative cache bound", ErrInvalid)
	}
	if _, _, err := c.TimestampMode(); err != nil {
		return err
	}
	return nil
}

// TimestampMode reports whether the codec carries a timestamp and in which
// mode.
func (c Config) TimestampMode() (encoding.TimestampMode, bool, error) {
	switch c.Timestamp {
	case "", "none", "off":
		return encoding.TimestampPreserve, false, nil
	case "preserve":
		return encoding.TimestampPreserve, true, nil
	case "regenerate":
		return encoding.TimestampRegenerate, true, nil
	default:
		return 0, false, fmt.Errorf("%w: unknown timestamp mode %q", ErrInvalid, c.Timestamp)
	}
}
