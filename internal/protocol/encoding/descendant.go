package encoding

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/danmuck/commlink/internal/protocol/field"
)

type branch struct {
	tag   Tagged
	chain Layer
}

// Descendant dispatches between sub-chains by a one-byte discriminator. The tables
// are fixed at construction.
type Descendant struct {
	inner  Layer
	byDisc map[byte]branch
	byType map[reflect.Type]branch
}

func NewDescendant(inner Layer, subs ...Layer) (*Descendant, error) {
	d := &Descendant{
		inner:  inner,
		byDisc: make(map[byte]branch, len(subs)),
		byType: make(map[reflect.Type]branch, len(subs)),
	}
	for i, sub := range subs {
		tag, ok := Find[Tagged](sub)
		if !ok {
			return nil, fmt.Errorf("%w: sub-chain %d", ErrMissingTag, i)
		}
		disc := tag.Discriminator()
		if _, dup := d.byDisc[disc]; dup {
			return nil, fmt.Errorf("%w: 0x%02x", ErrDuplicateDiscriminator, disc)
		}
		b := branch{tag: tag, chain: sub}
		d.byDisc[disc] = b
		if _, dup := d.byType[tag.PacketType()]; dup {
			return nil, fmt.Errorf("%w: type %s registered twice", ErrDuplicateDiscriminator, tag.PacketType())
		}
		d.byType[tag.PacketType()] = b
	}
	return d, nil
}

func (d *Descendant) Inner() Layer { return d.inner }

// Discriminators lists the registered discriminators in ascending order.
func (d *Descendant) Discriminators() []byte {
	out := make([]byte, 0, len(d.byDisc))
	for disc := range d.byDisc {
		out = append(out, disc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup returns the sub-chain registered for disc.
func (d *Descendant) Lookup(disc byte) (Layer, bool) {
	b, ok := d.byDisc[disc]
	if !ok {
		return nil, false
	}
	return b.chain, true
}

func (d *Descendant) Encode(w *field.Writer, p Packet) error {
	b, ok := d.byType[reflect.TypeOf(p)]
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnregisteredPacket, p)
	}
	if !b.tag.ownsDiscriminator() {
		_ = w.WriteByte(b.tag.Discriminator())
	}
	if err := b.chain.Encode(w, p); err != nil {
		return err
	}
	return d.inner.Encode(w, p)
}

func (d *Descendant) Decode(r *field.Reader, p Packet) (Packet, error) {
	disc, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	b, ok := d.byDisc[disc]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownDiscriminator, disc)
	}
	if b.tag.ownsDiscriminator() {
		if err := r.UnreadByte(); err != nil {
			return nil, err
		}
	}
	variant, err := b.chain.Decode(r, nil)
	if err != nil {
		return nil, err
	}
	return d.inner.Decode(r, variant)
}
