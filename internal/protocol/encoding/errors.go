package encoding

import (
	"errors"
	"fmt"
)

// ErrFraming marks decode failures caused by unexpected bytes on the wire. A channel
// treats them as recoverable and keeps reading.
var ErrFraming = errors.New("encoding: framing error")

var (
	ErrHeaderMismatch       = fmt.Errorf("%w: header mismatch", ErrFraming)
	ErrUnknownFunction      = fmt.Errorf("%w: unknown function id", ErrFraming)
	ErrUnknownDiscriminator = fmt.Errorf("%w: unknown discriminator", ErrFraming)
)

var (
	ErrParamSize              = errors.New("encoding: parameter size mismatch")
	ErrPropertySize           = errors.New("encoding: property size mismatch")
	ErrTimestampRange         = errors.New("encoding: timestamp outside unsigned 32-bit seconds")
	ErrNoPacket               = errors.New("encoding: no packet")
	ErrPacketType             = errors.New("encoding: unexpected packet type")
	ErrUnregisteredPacket     = errors.New("encoding: packet type not registered")
	ErrDuplicateDiscriminator = errors.New("encoding: duplicate discriminator")
	ErrMissingTag             = errors.New("encoding: sub-chain has no ancestor or function tag")
	ErrBuilderConsumed        = errors.New("encoding: builder already built")
	ErrEmptyHeader            = errors.New("encoding: empty header")
	ErrNilFactory             = errors.New("encoding: nil packet factory")
)
