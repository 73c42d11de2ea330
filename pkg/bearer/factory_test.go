package bearer

import (
	"context"
	"errors"
	"testing"
	"time"
)

type nopBearer struct{ ch chan Packet }

func (n *nopBearer) Kind() Kind { return KindMem }
func (n *nopBearer) Caps() Caps {
	return Caps{MaxFilters: 3, WindowAccuracy: time.Millisecond, MaxPayload: 31}
}
func (n *nopBearer) Packets() <-chan Packet                          { return n.ch }
func (n *nopBearer) ProgramFilter(uint8, []byte) error               { return nil }
func (n *nopBearer) ClearFilter(uint8) error                         { return nil }
func (n *nopBearer) Close() error                                    { close(n.ch); return nil }
func (n *nopBearer) Transmit(context.Context, []byte, TxHints) error { return nil }

func TestFactoryDispatch(t *testing.T) {
	f := NewFactory()
	if _, err := f.New(context.Background(), KindUDP, nil); err == nil {
		t.Fatalf("expected error for unregistered kind")
	}

	wantOpts := "opts-token"
	f.Register(KindMem, func(_ context.Context, opts any) (Bearer, error) {
		if opts != wantOpts {
			t.Errorf("opaque options not passed through: %v", opts)
		}
		return &nopBearer{ch: make(chan Packet)}, nil
	})
	b, err := f.New(context.Background(), KindMem, wantOpts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if b.Kind() != KindMem {
		t.Fatalf("wrong kind: %v", b.Kind())
	}
	if kinds := f.Kinds(); len(kinds) != 1 || kinds[0] != KindMem {
		t.Fatalf("unexpected kinds: %v", kinds)
	}

	boom := errors.New("no radio")
	f.Register(KindUDP, func(context.Context, any) (Bearer, error) { return nil, boom })
	if _, err := f.New(context.Background(), KindUDP, nil); !errors.Is(err, boom) {
		t.Fatalf("constructor error not surfaced: %v", err)
	}
}
