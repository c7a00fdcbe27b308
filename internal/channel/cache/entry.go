package cache

import (
	"fmt"
	"time"
)

type Status int

const (
	StatusPending Status = iota
	StatusMatched
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusMatched:
		return "matched"
	case StatusExpired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Entry is a snapshot of one transmitted request and its correlation state.
type Entry[P any] struct {
	Seq      uint64
	Request  P
	Response P
	Status   Status
	Created  time.Time
	Resolved time.Time
	// Awaited is set while a caller is blocked in Await on this entry.
	Awaited bool
}

type ChangeKind int

const (
	Added ChangeKind = iota
	Matched
	Expired
	Evicted
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Matched:
		return "matched"
	case Expired:
		return "expired"
	case Evicted:
		return "evicted"
	default:
		return fmt.Sprintf("change(%d)", int(k))
	}
}

type Change[P any] struct {
	Kind  ChangeKind
	Entry Entry[P]
}

type Stats struct {
	Pending   int
	Added     uint64
	Matched   uint64
	Expired   uint64
	Evicted   uint64
	Unmatched uint64
}

type entry[P any] struct {
	Entry[P]
	done chan struct{}
	err  error
}

func (e *entry[P]) resolve(status Status, now time.Time, err error) {
	e.Status = status
	e.Resolved = now
	e.Awaited = false
	e.err = err
	close(e.done)
}
