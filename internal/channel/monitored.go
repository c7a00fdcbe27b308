package channel

import (
	"sync"
	"time"

	"github.com/danmuck/commlink/internal/notify"
	"github.com/danmuck/commlink/internal/observability"
	"github.com/rs/zerolog"
)

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Traffic records one packet, or one failure, crossing a monitored channel.
type Traffic[P any] struct {
	Direction Direction
	Packet    P
	Err       error
	At        time.Time
}

type named interface {
	Name() string
}

// Monitored passes every call through to an inner channel while logging,
// counting and republishing the traffic.
type Monitored[P any] struct {
	inner   Channel[P]
	name    string
	logger  zerolog.Logger
	events  *notify.Hub[Event[P]]
	traffic *notify.Hub[Traffic[P]]
	done    chan struct{}

	closeOnce sync.Once
}

var _ Channel[any] = (*Monitored[any])(nil)

func NewMonitored[P any](inner Channel[P], logger zerolog.Logger) *Monitored[P] {
	name := ""
	if n, ok := inner.(named); ok {
		name = n.Name()
	}
	m := &Monitored[P]{
		inner:   inner,
		name:    name,
		logger:  logger.With().Str("channel", name).Logger(),
		events:  notify.NewRetainingHub[Event[P]](DefaultConfig().Backlog),
		traffic: notify.NewHub[Traffic[P]](),
		done:    make(chan struct{}),
	}
	in, cancel := inner.Subscribe(0)
	go m.forward(in, cancel)
	return m
}

func (m *Monitored[P]) Name() string {
	return m.name
}

func (m *Monitored[P]) forward(in <-chan Event[P], cancel func()) {
	defer close(m.done)
	defer cancel()
	defer m.traffic.Close()
	defer m.events.Close()

	for ev := range in {
		if ev.Err != nil {
			m.logger.Debug().Err(ev.Err).Msg("inbound decode error")
			observability.RecordPacket(m.name, string(Inbound), false)
		} else {
			m.logger.Debug().Type("packet", ev.Packet).Msg("inbound packet")
			observability.RecordPacket(m.name, string(Inbound), true)
		}
		m.traffic.Publish(Traffic[P]{Direction: Inbound, Packet: ev.Packet, Err: ev.Err, At: ev.At})
		m.events.Publish(ev)
	}
}

func (m *Monitored[P]) Transmit(p P) error {
	err := m.inner.Transmit(p)
	if err != nil {
		m.logger.Warn().Err(err).Type("packet", p).Msg("outbound transmit failed")
	} else {
		m.logger.Debug().Type("packet", p).Msg("outbound packet")
	}
	observability.RecordPacket(m.name, string(Outbound), err == nil)
	m.traffic.Publish(Traffic[P]{Direction: Outbound, Packet: p, Err: err, At: time.Now()})
	return err
}

func (m *Monitored[P]) Subscribe(buffer int) (<-chan Event[P], func()) {
	return m.events.Subscribe(buffer)
}

// Traffic streams inbound and outbound records from the moment of the call.
// Publishing blocks, so a subscriber must drain it or cancel.
func (m *Monitored[P]) Traffic(buffer int) (<-chan Traffic[P], func()) {
	return m.traffic.Subscribe(buffer)
}

func (m *Monitored[P]) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.events.Close()
		m.traffic.Close()
		err = m.inner.Close()
		<-m.done
		m.logger.Debug().Msg("monitored channel closed")
	})
	return err
}
