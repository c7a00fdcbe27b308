package channel

import "errors"

var ErrClosed = errors.New("channel: closed")
