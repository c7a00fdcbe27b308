package cache

import "errors"

var ErrTimeout = errors.New("cache: await timed out")
