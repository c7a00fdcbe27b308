package encoding

import (
	"github.com/danmuck/commlink/internal/protocol/field"
)

// Layer is one node of a codec chain. Layers are immutable once built and may be
// shared by any number of channels.
type Layer interface {
	// Encode writes p, delegating the remainder to the inner layer.
	Encode(w *field.Writer, p Packet) error
	// Decode reads one packet. p is the packet built so far by outer layers (nil at
	// the root); the returned packet replaces it.
	Decode(r *field.Reader, p Packet) (Packet, error)
	// Inner returns the wrapped layer, nil for the base layer.
	Inner() Layer
}

type baseLayer struct{}

// Base returns the innermost layer of every chain. It owns no bytes.
func Base() Layer {
	return baseLayer{}
}

func (baseLayer) Encode(*field.Writer, Packet) error { return nil }

func (baseLayer) Decode(_ *field.Reader, p Packet) (Packet, error) { return p, nil }

func (baseLayer) Inner() Layer { return nil }

// Find walks l from the outermost layer inward and returns the first layer of type T.
func Find[T any](l Layer) (T, bool) {
	for l != nil {
		if v, ok := l.(T); ok {
			return v, true
		}
		l = l.Inner()
	}
	var zero T
	return zero, false
}

// Depth counts the layers in a chain, base included.
func Depth(l Layer) int {
	n := 0
	for l != nil {
		n++
		l = l.Inner()
	}
	return n
}

// Encode writes one packet through chain l.
func Encode(l Layer, w *field.Writer, p Packet) error {
	if p == nil {
		return ErrNoPacket
	}
	return l.Encode(w, p)
}

// Decode reads one packet through chain l.
func Decode(l Layer, r *field.Reader) (Packet, error) {
	p, err := l.Decode(r, nil)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNoPacket
	}
	return p, nil
}
