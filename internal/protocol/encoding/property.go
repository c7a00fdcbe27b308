package encoding

import (
	"fmt"

	"github.com/danmuck/commlink/internal/protocol/field"
)

// Property trails a packet with a fixed-size opaque field. Packets that are not a
// PropertyCarrier encode zeros and drop the field on decode.
type Property struct {
	inner Layer
	size  int
}

func NewProperty(inner Layer, size int) (*Property, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrPropertySize, size)
	}
	return &Property{inner: inner, size: size}, nil
}

func (l *Property) Size() int { return l.size }

func (l *Property) Inner() Layer { return l.inner }

func (l *Property) Encode(w *field.Writer, p Packet) error {
	if err := l.inner.Encode(w, p); err != nil {
		return err
	}
	pc, ok := p.(PropertyCarrier)
	if !ok {
		w.WriteZeros(l.size)
		return nil
	}
	prop := pc.Property()
	switch len(prop) {
	case 0:
		w.WriteZeros(l.size)
	case l.size:
		_, _ = w.Write(prop)
	default:
		return fmt.Errorf("%w: got %d bytes want %d", ErrPropertySize, len(prop), l.size)
	}
	return nil
}

func (l *Property) Decode(r *field.Reader, p Packet) (Packet, error) {
	p, err := l.inner.Decode(r, p)
	if err != nil {
		return nil, err
	}
	prop, err := r.ReadN(l.size)
	if err != nil {
		return nil, err
	}
	if pc, ok := p.(PropertyCarrier); ok {
		pc.SetProperty(prop)
	}
	return p, nil
}
