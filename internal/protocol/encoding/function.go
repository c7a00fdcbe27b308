package encoding

import (
	"fmt"
	"reflect"

	"github.com/danmuck/commlink/internal/protocol/field"
)

// Function writes a one-byte function id followed by a fixed-size parameter block.
// The declared size is authoritative: encode rejects a mismatched Param and decode
// hands exactly paramSize bytes to SetParam.
type Function struct {
	inner     Layer
	id        byte
	paramSize int
	factory   func() ParamPacket
	typ       reflect.Type
}

func NewFunction(inner Layer, id byte, paramSize int, factory func() ParamPacket) (*Function, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	if paramSize < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrParamSize, paramSize)
	}
	return &Function{
		inner:     inner,
		id:        id,
		paramSize: paramSize,
		factory:   factory,
		typ:       reflect.TypeOf(factory()),
	}, nil
}

func (f *Function) ID() byte { return f.id }

func (f *Function) ParamSize() int { return f.paramSize }

func (f *Function) Inner() Layer { return f.inner }

func (f *Function) Discriminator() byte { return f.id }

func (f *Function) PacketType() reflect.Type { return f.typ }

func (f *Function) ownsDiscriminator() bool { return true }

func (f *Function) Encode(w *field.Writer, p Packet) error {
	pp, ok := p.(ParamPacket)
	if !ok {
		return fmt.Errorf("%w: %T has no parameter block", ErrPacketType, p)
	}
	param := pp.Param()
	if len(param) != f.paramSize {
		return fmt.Errorf("%w: function 0x%02x got %d bytes want %d", ErrParamSize, f.id, len(param), f.paramSize)
	}
	_ = w.WriteByte(f.id)
	_, _ = w.Write(param)
	return f.inner.Encode(w, p)
}

func (f *Function) Decode(r *field.Reader, _ Packet) (Packet, error) {
	id, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if id != f.id {
		return nil, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrUnknownFunction, id, f.id)
	}
	param, err := r.ReadN(f.paramSize)
	if err != nil {
		return nil, err
	}
	pkt := f.factory()
	if err := pkt.SetParam(param); err != nil {
		return nil, fmt.Errorf("encoding: function 0x%02x set param: %w", f.id, err)
	}
	return f.inner.Decode(r, pkt)
}
