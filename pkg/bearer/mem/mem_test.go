package mem

import (
	"context"
	"testing"
	"time"

	"meshio/pkg/bearer"
)

func recvOne(t *testing.T, b *Bearer, d time.Duration) bearer.Packet {
	t.Helper()
	select {
	case p, ok := <-b.Packets():
		if !ok {
			t.Fatalf("feed closed")
		}
		return p
	case <-time.After(d):
		t.Fatalf("no packet within %v", d)
	}
	return bearer.Packet{}
}

func TestBroadcastReachesOthersNotSelf(t *testing.T) {
	bus := NewBus()
	a := bus.Join(Options{})
	b := bus.Join(Options{})
	c := bus.Join(Options{})
	defer a.Close()
	defer b.Close()
	defer c.Close()

	payload := []byte{0x2A, 0x01}
	if err := a.Transmit(context.Background(), payload, bearer.TxHints{Channel: 38}); err != nil {
		t.Fatalf("transmit: %v", err)
	}

	for _, m := range []*Bearer{b, c} {
		p := recvOne(t, m, time.Second)
		if string(p.Data) != string(payload) {
			t.Fatalf("payload mismatch: %x", p.Data)
		}
		if p.Channel != 38 {
			t.Fatalf("channel not propagated: %d", p.Channel)
		}
		if p.RSSI == 0 {
			t.Fatalf("expected RSSI stamped")
		}
	}
	select {
	case p := <-a.Packets():
		t.Fatalf("sender heard itself: %x", p.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDefaultsAndCaps(t *testing.T) {
	bus := NewBus()
	m := bus.Join(Options{})
	defer m.Close()

	caps := m.Caps()
	if caps.MaxFilters != defaultMaxFilters || caps.MaxPayload != defaultMaxPayload {
		t.Fatalf("unexpected caps: %+v", caps)
	}
	if m.Kind() != bearer.KindMem {
		t.Fatalf("wrong kind: %v", m.Kind())
	}
	if err := m.Transmit(context.Background(), make([]byte, defaultMaxPayload+1), bearer.TxHints{}); err == nil {
		t.Fatalf("oversized payload accepted")
	}
}

func TestCloseLeavesBus(t *testing.T) {
	bus := NewBus()
	a := bus.Join(Options{})
	b := bus.Join(Options{})
	defer a.Close()

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-b.Packets(); ok {
		t.Fatalf("feed still open after close")
	}
	// transmitting to a departed member is not an error for the sender
	if err := a.Transmit(context.Background(), []byte{0x01}, bearer.TxHints{}); err != nil {
		t.Fatalf("transmit after peer close: %v", err)
	}
	if err := b.Transmit(context.Background(), []byte{0x01}, bearer.TxHints{}); err == nil {
		t.Fatalf("closed bearer accepted transmit")
	}
}

func TestTransmitHookFailure(t *testing.T) {
	bus := NewBus()
	a := bus.Join(Options{TransmitHook: func([]byte) error { return context.DeadlineExceeded }})
	b := bus.Join(Options{})
	defer a.Close()
	defer b.Close()

	if err := a.Transmit(context.Background(), []byte{0x01}, bearer.TxHints{}); err == nil {
		t.Fatalf("hook failure not surfaced")
	}
	select {
	case p := <-b.Packets():
		t.Fatalf("failed transmit still delivered: %x", p.Data)
	case <-time.After(50 * time.Millisecond):
	}
}
