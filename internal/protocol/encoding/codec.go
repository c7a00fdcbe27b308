package encoding

import (
	"fmt"

	"github.com/danmuck/commlink/internal/protocol/field"
)

// Codec adapts a built chain to a concrete packet type P.
type Codec[P any] struct {
	root Layer
}

func For[P any](root Layer) *Codec[P] {
	return &Codec[P]{root: root}
}

func (c *Codec[P]) Root() Layer {
	return c.root
}

func (c *Codec[P]) Encode(w *field.Writer, p P) error {
	return Encode(c.root, w, p)
}

func (c *Codec[P]) Decode(r *field.Reader) (P, error) {
	var zero P
	pkt, err := Decode(c.root, r)
	if err != nil {
		return zero, err
	}
	v, ok := pkt.(P)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrPacketType, pkt)
	}
	return v, nil
}
