package field

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
)

const defaultReaderSize = 4096

// Reader is a buffered cursor over a byte stream. It is not safe for concurrent use;
// a channel's decode loop is its only caller.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r. Wrapping a *Reader again returns it unchanged.
func NewReader(r io.Reader) *Reader {
	if fr, ok := r.(*Reader); ok {
		return fr
	}
	return &Reader{br: bufio.NewReaderSize(r, defaultReaderSize)}
}

// NewBytesReader is a convenience for decoding an in-memory frame.
func NewBytesReader(b []byte) *Reader {
	return NewReader(bytes.NewReader(b))
}

// Read drains buffered bytes first, so a Reader can back another io consumer
// without losing what a layer peeked.
func (r *Reader) Read(p []byte) (int, error) {
	return r.br.Read(p)
}

func (r *Reader) Buffered() int {
	return r.br.Buffered()
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.br.ReadByte()
	if err != nil {
		return 0, shortRead(err)
	}
	return b, nil
}

// UnreadByte steps back over the byte returned by the last ReadByte.
func (r *Reader) UnreadByte() error {
	return r.br.UnreadByte()
}

// Peek returns the next n bytes without consuming them.
func (r *Reader) Peek(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeSize
	}
	b, err := r.br.Peek(n)
	if err != nil {
		return nil, shortRead(err)
	}
	return b, nil
}

func (r *Reader) Discard(n int) error {
	if n < 0 {
		return ErrNegativeSize
	}
	_, err := r.br.Discard(n)
	if err != nil {
		return shortRead(err)
	}
	return nil
}

// ReadN reads exactly n bytes into a fresh slice.
func (r *Reader) ReadN(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeSize
	}
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, shortRead(err)
	}
	return buf, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	b, err := r.ReadN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadUint64() (uint64, error) {
	b, err := r.ReadN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}
