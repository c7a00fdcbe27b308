package encoding

import (
	"reflect"

	"github.com/danmuck/commlink/internal/protocol/field"
)

// Tagged is a layer that names the packet type of its sub-chain for a Descendant.
// Ancestor and Function layers are the only implementations.
type Tagged interface {
	Layer
	Discriminator() byte
	PacketType() reflect.Type
	// ownsDiscriminator reports whether the tag layer writes its own id byte.
	ownsDiscriminator() bool
}

// Ancestor tags a sub-chain with a discriminator. It writes nothing itself; the
// enclosing Descendant writes the discriminator.
type Ancestor struct {
	inner         Layer
	discriminator byte
	factory       func() Packet
	typ           reflect.Type
}

func NewAncestor(inner Layer, discriminator byte, factory func() Packet) (*Ancestor, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	return &Ancestor{
		inner:         inner,
		discriminator: discriminator,
		factory:       factory,
		typ:           reflect.TypeOf(factory()),
	}, nil
}

func (a *Ancestor) Inner() Layer { return a.inner }

func (a *Ancestor) Discriminator() byte { return a.discriminator }

func (a *Ancestor) PacketType() reflect.Type { return a.typ }

func (a *Ancestor) ownsDiscriminator() bool { return false }

func (a *Ancestor) Encode(w *field.Writer, p Packet) error {
	return a.inner.Encode(w, p)
}

// Decode constructs the tagged packet when no outer layer has.
func (a *Ancestor) Decode(r *field.Reader, p Packet) (Packet, error) {
	if p == nil {
		p = a.factory()
	}
	return a.inner.Decode(r, p)
}
