// Package channel runs a codec over a byte stream.
//
// A Channel owns its stream and a background decode loop that publishes every
// decoded packet, and every decode error, as an Event to its subscribers.
// Decode errors never stop the loop; only Close does. The loop starts with
// the channel. Events decoded before the first Subscribe are kept for it up
// to a bound; after that, events nobody receives are dropped.
package channel

import (
	"io"
	"time"

	"github.com/danmuck/commlink/internal/protocol/field"
)

// Codec is the boundary between a channel and the packet encoding chain.
// *encoding.Codec[P] satisfies it.
type Codec[P any] interface {
	Encode(w *field.Writer, p P) error
	Decode(r *field.Reader) (P, error)
}

// Event is either a received packet or a decode error, never both.
type Event[P any] struct {
	Packet P
	Err    error
	At     time.Time
}

func (e Event[P]) IsError() bool {
	return e.Err != nil
}

type Channel[P any] interface {
	// Transmit encodes p and writes it in a single write.
	Transmit(p P) error
	// Subscribe returns a receive stream of events in decode order. The
	// stream is closed when the channel closes or cancel is called.
	Subscribe(buffer int) (<-chan Event[P], func())
	Close() error
}

// Factory wraps an adopted stream into a Channel.
type Factory[P any] interface {
	Create(rwc io.ReadWriteCloser) Channel[P]
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc[P any] func(rwc io.ReadWriteCloser) Channel[P]

func (f FactoryFunc[P]) Create(rwc io.ReadWriteCloser) Channel[P] {
	return f(rwc)
}
