package channel

import (
	"io"

	"github.com/rs/zerolog"
)

type streamFactory[P any] struct {
	codec Codec[P]
	opts  []Option
}

// NewFactory returns a Factory creating a Stream per adopted connection.
func NewFactory[P any](codec Codec[P], opts ...Option) Factory[P] {
	return &streamFactory[P]{codec: codec, opts: opts}
}

func (f *streamFactory[P]) Create(rwc io.ReadWriteCloser) Channel[P] {
	return NewStream(f.codec, rwc, f.opts...)
}

type monitoredFactory[P any] struct {
	inner  Factory[P]
	logger zerolog.Logger
}

// NewMonitoredFactory wraps every channel created by inner in a Monitored
// decorator.
func NewMonitoredFactory[P any](inner Factory[P], logger zerolog.Logger) Factory[P] {
	return &monitoredFactory[P]{inner: inner, logger: logger}
}

func (f *monitoredFactory[P]) Create(rwc io.ReadWriteCloser) Channel[P] {
	return NewMonitored(f.inner.Create(rwc), f.logger)
}
