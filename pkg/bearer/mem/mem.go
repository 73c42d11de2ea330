// Package mem provides an in-process bearer: all bearers joined to a Bus
// form one broadcast domain, like radios sharing an advertising channel.
// Useful for tests and single-process demos.
package mem

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"meshio/pkg/bearer"
)

const (
	defaultMaxFilters = 3
	defaultMaxPayload = 31
	defaultAccuracy   = 5 * time.Millisecond
	defaultRSSI       = -45
	defaultChannel    = 37
	defaultQueueLen   = 64
)

// Options configures one bus member.
type Options struct {
	MaxFilters     uint8
	WindowAccuracy time.Duration
	MaxPayload     int
	// RSSI is stamped on packets this member receives.
	RSSI int8
	// QueueLen bounds the inbound feed; overflow drops packets.
	QueueLen int
	// TransmitHook, when set, observes every Transmit and may fail it.
	TransmitHook func(payload []byte) error
}

func (o *Options) fill() {
	if o.MaxFilters == 0 {
		o.MaxFilters = defaultMaxFilters
	}
	if o.WindowAccuracy == 0 {
		o.WindowAccuracy = defaultAccuracy
	}
	if o.MaxPayload == 0 {
		o.MaxPayload = defaultMaxPayload
	}
	if o.RSSI == 0 {
		o.RSSI = defaultRSSI
	}
	if o.QueueLen == 0 {
		o.QueueLen = defaultQueueLen
	}
}

// Bus is a shared broadcast domain.
type Bus struct {
	mu      sync.Mutex
	members []*Bearer
}

func NewBus() *Bus { return &Bus{} }

// Join creates a bearer attached to the bus.
func (b *Bus) Join(opts Options) *Bearer {
	opts.fill()
	m := &Bearer{
		bus:     b,
		opts:    opts,
		rx:      make(chan bearer.Packet, opts.QueueLen),
		filters: make(map[uint8][]byte),
	}
	b.mu.Lock()
	b.members = append(b.members, m)
	b.mu.Unlock()
	return m
}

// Constructor adapts a bus for a bearer.Factory registration. The opts
// value must be an Options (or zero value via nil).
func (b *Bus) Constructor() bearer.Constructor {
	return func(_ context.Context, opts any) (bearer.Bearer, error) {
		o, _ := opts.(Options)
		return b.Join(o), nil
	}
}

func (b *Bus) leave(m *Bearer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, x := range b.members {
		if x == m {
			b.members = append(b.members[:i], b.members[i+1:]...)
			return
		}
	}
}

// broadcast delivers to every member except the sender. Radios do not hear
// their own advertisements.
func (b *Bus) broadcast(from *Bearer, ch uint8, data []byte) {
	b.mu.Lock()
	members := slices.Clone(b.members)
	b.mu.Unlock()
	now := time.Now()
	for _, m := range members {
		if m == from {
			continue
		}
		m.deliver(bearer.Packet{
			Instant: now,
			Channel: ch,
			RSSI:    m.opts.RSSI,
			Data:    slices.Clone(data),
		})
	}
}

// Bearer is one bus member.
type Bearer struct {
	bus  *Bus
	opts Options
	rx   chan bearer.Packet

	mu      sync.Mutex
	filters map[uint8][]byte
	closed  bool
}

func (m *Bearer) Kind() bearer.Kind { return bearer.KindMem }

func (m *Bearer) Caps() bearer.Caps {
	return bearer.Caps{
		MaxFilters:     m.opts.MaxFilters,
		WindowAccuracy: m.opts.WindowAccuracy,
		MaxPayload:     m.opts.MaxPayload,
	}
}

func (m *Bearer) Packets() <-chan bearer.Packet { return m.rx }

func (m *Bearer) Transmit(_ context.Context, payload []byte, hints bearer.TxHints) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("mem: bearer closed")
	}
	hook := m.opts.TransmitHook
	m.mu.Unlock()
	if len(payload) > m.opts.MaxPayload {
		return errors.New("mem: payload exceeds bearer limit")
	}
	if hook != nil {
		if err := hook(payload); err != nil {
			return err
		}
	}
	ch := hints.Channel
	if ch == 0 {
		ch = defaultChannel
	}
	m.bus.broadcast(m, ch, payload)
	return nil
}

func (m *Bearer) ProgramFilter(id uint8, pattern []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mem: bearer closed")
	}
	m.filters[id] = slices.Clone(pattern)
	return nil
}

func (m *Bearer) ClearFilter(id uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.filters, id)
	return nil
}

func (m *Bearer) deliver(p bearer.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.rx <- p:
	default:
		// feed full: drop, never deliver late
	}
}

func (m *Bearer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.bus.leave(m)
	close(m.rx)
	return nil
}
