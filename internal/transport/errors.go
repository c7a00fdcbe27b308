package transport

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOperation = errors.New("transport: invalid operation")
	ErrAlreadyOpen      = fmt.Errorf("%w: already open", ErrInvalidOperation)
	ErrNotOpen          = fmt.Errorf("%w: not open", ErrInvalidOperation)
	ErrOpenNotAllowed   = fmt.Errorf("%w: open not allowed", ErrInvalidOperation)
	ErrCloseNotAllowed  = fmt.Errorf("%w: close not allowed", ErrInvalidOperation)
	ErrDisposed         = fmt.Errorf("%w: disposed", ErrInvalidOperation)

	ErrUnknownChannel = errors.New("transport: unknown channel")
	ErrInvalidConfig  = errors.New("transport: invalid config")
)
