package field

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrShortRead    = errors.New("field: short read")
	ErrNegativeSize = errors.New("field: negative size")
)

// shortRead keeps io.ErrUnexpectedEOF/io.EOF visible to callers that care about stream end.
func shortRead(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrShortRead, err)
	}
	return err
}
