package encoding

import (
	"fmt"
	"math"
	"time"

	"github.com/danmuck/commlink/internal/protocol/field"
)

// TimestampMode selects what a timestamp layer writes.
type TimestampMode int

const (
	// TimestampPreserve writes the packet's own time when it has one, so decode
	// reproduces it at one-second resolution.
	TimestampPreserve TimestampMode = iota
	// TimestampRegenerate always writes the encode time.
	TimestampRegenerate
)

func (m TimestampMode) String() string {
	switch m {
	case TimestampPreserve:
		return "preserve"
	case TimestampRegenerate:
		return "regenerate"
	default:
		return "unknown"
	}
}

// TimestampSize is the wire width of a timestamp: unsigned seconds since the epoch.
const TimestampSize = 4

// Timestamp trails a packet with Unix seconds.
type Timestamp struct {
	inner Layer
	mode  TimestampMode
	now   func() time.Time
}

func NewTimestamp(inner Layer, mode TimestampMode, now func() time.Time) *Timestamp {
	if now == nil {
		now = time.Now
	}
	return &Timestamp{inner: inner, mode: mode, now: now}
}

func (l *Timestamp) Mode() TimestampMode { return l.mode }

func (l *Timestamp) Inner() Layer { return l.inner }

// Encode fails with ErrTimestampRange before writing anything when the time
// falls outside 1970-01-01 through 2106-02-07 UTC.
func (l *Timestamp) Encode(w *field.Writer, p Packet) error {
	ts := l.now()
	if l.mode == TimestampPreserve {
		if tc, ok := p.(TimestampCarrier); ok && !tc.Timestamp().IsZero() {
			ts = tc.Timestamp()
		}
	}
	secs := ts.Unix()
	if secs < 0 || secs > math.MaxUint32 {
		return fmt.Errorf("%w: %s", ErrTimestampRange, ts.UTC().Format(time.RFC3339))
	}
	if err := l.inner.Encode(w, p); err != nil {
		return err
	}
	w.WriteUint32(uint32(secs))
	return nil
}

func (l *Timestamp) Decode(r *field.Reader, p Packet) (Packet, error) {
	p, err := l.inner.Decode(r, p)
	if err != nil {
		return nil, err
	}
	secs, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if tc, ok := p.(TimestampCarrier); ok {
		tc.SetTimestamp(time.Unix(int64(secs), 0).UTC())
	}
	return p, nil
}
