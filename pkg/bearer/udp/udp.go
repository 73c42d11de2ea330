// Package udp implements a bearer over a UDP multicast group. The group is
// a shared broadcast domain, so several processes on one network segment
// behave like radios on a common advertising channel. Frames are CBOR
// encoded; payloads stay opaque.
package udp

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshio/pkg/bearer"
	"meshio/pkg/codec"
)

const (
	// DefaultGroup is the multicast group and port used when none is
	// configured.
	DefaultGroup = "239.109.101.1:37773"

	defaultMaxFilters = 3
	defaultMaxPayload = 31
	defaultAccuracy   = 10 * time.Millisecond
	defaultRSSI       = -50
	defaultChannel    = 37
	defaultQueueLen   = 128
)

// Options configures the multicast bearer.
type Options struct {
	// Group is the "addr:port" of the multicast group.
	Group string
	// Interface optionally names the interface to join on.
	Interface string
	// RSSI is stamped on received packets; multicast carries no signal
	// strength, so reception reports a configured constant.
	RSSI int8
	// Channel is the advertising channel stamped on outbound frames when
	// the transmit hints carry none.
	Channel uint8

	MaxFilters     uint8
	WindowAccuracy time.Duration
	MaxPayload     int
	QueueLen       int
}

func (o *Options) fill() {
	if o.Group == "" {
		o.Group = DefaultGroup
	}
	if o.RSSI == 0 {
		o.RSSI = defaultRSSI
	}
	if o.Channel == 0 {
		o.Channel = defaultChannel
	}
	if o.MaxFilters == 0 {
		o.MaxFilters = defaultMaxFilters
	}
	if o.WindowAccuracy == 0 {
		o.WindowAccuracy = defaultAccuracy
	}
	if o.MaxPayload == 0 {
		o.MaxPayload = defaultMaxPayload
	}
	if o.QueueLen == 0 {
		o.QueueLen = defaultQueueLen
	}
}

// Bearer is a multicast group member.
type Bearer struct {
	opts   Options
	log    *zap.Logger
	cdc    codec.Codec
	origin uint64

	recv *net.UDPConn
	send *net.UDPConn
	rx   chan bearer.Packet

	mu      sync.Mutex
	filters map[uint8][]byte
	closed  bool
}

// New joins the multicast group and starts the read loop.
func New(opts Options) (*Bearer, error) {
	opts.fill()
	gaddr, err := net.ResolveUDPAddr("udp4", opts.Group)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve group: %w", err)
	}
	var ifi *net.Interface
	if opts.Interface != "" {
		ifi, err = net.InterfaceByName(opts.Interface)
		if err != nil {
			return nil, fmt.Errorf("udp: interface %q: %w", opts.Interface, err)
		}
	}
	recv, err := net.ListenMulticastUDP("udp4", ifi, gaddr)
	if err != nil {
		return nil, fmt.Errorf("udp: join group: %w", err)
	}
	send, err := net.DialUDP("udp4", nil, gaddr)
	if err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("udp: open sender: %w", err)
	}
	cdc, err := codec.CBOR()
	if err != nil {
		_ = recv.Close()
		_ = send.Close()
		return nil, err
	}
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		_ = recv.Close()
		_ = send.Close()
		return nil, err
	}
	b := &Bearer{
		opts:    opts,
		log:     zap.L().Named("bearer.udp"),
		cdc:     cdc,
		origin:  binary.LittleEndian.Uint64(seed[:]),
		recv:    recv,
		send:    send,
		rx:      make(chan bearer.Packet, opts.QueueLen),
		filters: make(map[uint8][]byte),
	}
	go b.readLoop()
	return b, nil
}

// Constructor adapts New for a bearer.Factory registration.
func Constructor() bearer.Constructor {
	return func(_ context.Context, opts any) (bearer.Bearer, error) {
		o, _ := opts.(Options)
		return New(o)
	}
}

func (b *Bearer) Kind() bearer.Kind { return bearer.KindUDP }

func (b *Bearer) Caps() bearer.Caps {
	return bearer.Caps{
		MaxFilters:     b.opts.MaxFilters,
		WindowAccuracy: b.opts.WindowAccuracy,
		MaxPayload:     b.opts.MaxPayload,
	}
}

func (b *Bearer) Packets() <-chan bearer.Packet { return b.rx }

func (b *Bearer) Transmit(_ context.Context, payload []byte, hints bearer.TxHints) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errors.New("udp: bearer closed")
	}
	if len(payload) > b.opts.MaxPayload {
		return errors.New("udp: payload exceeds bearer limit")
	}
	ch := hints.Channel
	if ch == 0 {
		ch = b.opts.Channel
	}
	buf, err := bearer.EncodeFrame(b.cdc, bearer.Frame{
		Origin:  b.origin,
		Channel: ch,
		Data:    payload,
	})
	if err != nil {
		return err
	}
	if _, err := b.send.Write(buf); err != nil {
		return fmt.Errorf("udp: transmit: %w", err)
	}
	return nil
}

func (b *Bearer) ProgramFilter(id uint8, pattern []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("udp: bearer closed")
	}
	b.filters[id] = slices.Clone(pattern)
	return nil
}

func (b *Bearer) ClearFilter(id uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.filters, id)
	return nil
}

func (b *Bearer) readLoop() {
	defer close(b.rx)
	buf := make([]byte, 1500)
	for {
		n, _, err := b.recv.ReadFromUDP(buf)
		if err != nil {
			return
		}
		f, err := bearer.DecodeFrame(b.cdc, buf[:n])
		if err != nil {
			b.log.Debug("dropping undecodable frame", zap.Error(err))
			continue
		}
		// multicast loopback: skip our own transmissions
		if f.Origin == b.origin {
			continue
		}
		p := bearer.Packet{
			Instant: time.Now(),
			Channel: f.Channel,
			RSSI:    b.opts.RSSI,
			Data:    f.Data,
		}
		select {
		case b.rx <- p:
		default:
			b.log.Warn("inbound feed full, packet dropped")
		}
	}
}

func (b *Bearer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	err := b.recv.Close()
	if e := b.send.Close(); err == nil {
		err = e
	}
	return err
}
