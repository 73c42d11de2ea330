//go:build windows

package winpipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/Microsoft/go-winio"
	"go.uber.org/zap"

	"meshio/pkg/bearer"
	"meshio/pkg/codec"
)

// Bearer talks to the radio daemon over one duplex pipe: outbound frames
// are transmissions, inbound frames are receptions. The daemon owns the
// actual radio and stamps channel metadata.
type Bearer struct {
	opts Options
	log  *zap.Logger
	cdc  codec.Codec

	c  net.Conn
	br *bufio.Reader
	rx chan bearer.Packet

	mu      sync.Mutex
	filters map[uint8][]byte
	closed  bool
}

// New dials the daemon pipe and starts the read loop.
func New(opts Options) (bearer.Bearer, error) {
	opts.fill()
	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	c, err := winio.DialPipeContext(ctx, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("winpipe: dial %s: %w", opts.Name, err)
	}
	cdc, err := codec.CBOR()
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	b := &Bearer{
		opts:    opts,
		log:     zap.L().Named("bearer.winpipe"),
		cdc:     cdc,
		c:       c,
		br:      bufio.NewReader(c),
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

func (b *Bearer) Kind() bearer.Kind { return bearer.KindWinPipe }

func (b *Bearer) Caps() bearer.Caps {
	return bearer.Caps{
		MaxFilters:     b.opts.MaxFilters,
		WindowAccuracy: b.opts.WindowAccuracy,
		MaxPayload:     b.opts.MaxPayload,
	}
}

func (b *Bearer) Packets() <-chan bearer.Packet { return b.rx }

func (b *Bearer) Transmit(_ context.Context, payload []byte, hints bearer.TxHints) error {
	if len(payload) > b.opts.MaxPayload {
		return errors.New("winpipe: payload exceeds bearer limit")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("winpipe: bearer closed")
	}
	return bearer.WriteFrame(b.c, b.cdc, bearer.Frame{
		Channel: hints.Channel,
		Data:    payload,
	})
}

func (b *Bearer) ProgramFilter(id uint8, pattern []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("winpipe: bearer closed")
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
	for {
		f, err := bearer.ReadFrame(b.br, b.cdc)
		if err != nil {
			return
		}
		p := bearer.Packet{
			Instant: time.Now(),
			Channel: f.Channel,
			RSSI:    -50,
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
	return b.c.Close()
}
