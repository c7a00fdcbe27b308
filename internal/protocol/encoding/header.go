package encoding

import (
	"bytes"
	"fmt"

	"github.com/danmuck/commlink/internal/protocol/field"
)

// Header prefixes every packet with fixed magic bytes.
type Header struct {
	inner Layer
	magic []byte
}

func NewHeader(inner Layer, magic []byte) (*Header, error) {
	if len(magic) == 0 {
		return nil, ErrEmptyHeader
	}
	m := make([]byte, len(magic))
	copy(m, magic)
	return &Header{inner: inner, magic: m}, nil
}

func (h *Header) Magic() []byte {
	out := make([]byte, len(h.magic))
	copy(out, h.magic)
	return out
}

func (h *Header) Inner() Layer { return h.inner }

func (h *Header) Encode(w *field.Writer, p Packet) error {
	_, _ = w.Write(h.magic)
	return h.inner.Encode(w, p)
}

// Decode consumes a single byte on mismatch so the next attempt starts one byte later.
func (h *Header) Decode(r *field.Reader, p Packet) (Packet, error) {
	got, err := r.Peek(len(h.magic))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(got, h.magic) {
		mismatch := fmt.Errorf("%w: got % x want % x", ErrHeaderMismatch, got, h.magic)
		if err := r.Discard(1); err != nil {
			return nil, err
		}
		return nil, mismatch
	}
	if err := r.Discard(len(h.magic)); err != nil {
		return nil, err
	}
	return h.inner.Decode(r, p)
}
