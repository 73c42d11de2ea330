package meshio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meshio/pkg/bearer"
	"meshio/pkg/bearer/mem"
)

// fireLog records successful transmissions through the mem bearer hook and
// can fail the first N attempts.
type fireLog struct {
	mu    sync.Mutex
	times []time.Time
	fail  int
}

func (f *fireLog) hook(_ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("radio busy")
	}
	f.times = append(f.times, time.Now())
	return nil
}

func (f *fireLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.times)
}

func (f *fireLog) snapshot() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.times))
	copy(out, f.times)
	return out
}

func newTestIO(t *testing.T, opts Options, memOpts mem.Options) (*IO, *mem.Bearer) {
	t.Helper()
	bus := mem.NewBus()
	f := bearer.NewFactory()
	f.Register(bearer.KindMem, bus.Constructor())
	m, err := New(f, bearer.KindMem, memOpts, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	peer := bus.Join(mem.Options{})
	t.Cleanup(func() {
		_ = m.Close()
		_ = peer.Close()
	})
	return m, peer
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackendUnavailable(t *testing.T) {
	f := bearer.NewFactory()
	_, err := New(f, bearer.KindUDP, nil, Options{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestCaps(t *testing.T) {
	m, _ := newTestIO(t, Options{}, mem.Options{MaxFilters: 2, MaxPayload: 29})
	caps := m.Caps()
	if caps.MaxFilters != 2 || caps.MaxPayload != 29 {
		t.Fatalf("unexpected caps: %+v", caps)
	}
	if caps.WindowAccuracy <= 0 {
		t.Fatalf("expected positive window accuracy")
	}
}

func TestRegisterDeregisterLifecycle(t *testing.T) {
	m, _ := newTestIO(t, Options{}, mem.Options{MaxFilters: 2})
	cb := func(any, RecvInfo, []byte) {}

	if err := m.RegisterRecv(FilterBeacon, cb, nil); err != nil {
		t.Fatalf("register beacon: %v", err)
	}
	if err := m.RegisterRecv(FilterBeacon, cb, nil); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if err := m.RegisterRecv(FilterProvisioning, cb, nil); err != nil {
		t.Fatalf("register provisioning: %v", err)
	}
	if err := m.RegisterRecv(FilterNetwork, cb, nil); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if err := m.DeregisterRecv(FilterNetwork); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.DeregisterRecv(FilterBeacon); err != nil {
		t.Fatalf("deregister beacon: %v", err)
	}
	// capacity freed, and the id can be taken again after deregistration
	if err := m.RegisterRecv(FilterNetwork, cb, nil); err != nil {
		t.Fatalf("register network after free: %v", err)
	}
}

func TestRegisterInvalidArgs(t *testing.T) {
	m, _ := newTestIO(t, Options{}, mem.Options{})
	if err := m.RegisterRecv(FilterID(9), func(any, RecvInfo, []byte) {}, nil); err == nil {
		t.Fatalf("expected error for invalid filter id")
	}
	if err := m.RegisterRecv(FilterBeacon, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestSetFilterRequiresRegistration(t *testing.T) {
	m, _ := newTestIO(t, Options{}, mem.Options{})
	err := m.SetFilter(FilterNetwork, []byte{0xAA}, nil, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetFilterStatusDelivered(t *testing.T) {
	m, _ := newTestIO(t, Options{}, mem.Options{})
	if err := m.RegisterRecv(FilterNetwork, func(any, RecvInfo, []byte) {}, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	statusCh := make(chan FilterStatus, 1)
	err := m.SetFilter(FilterNetwork, []byte{0xAA}, func(_ any, s FilterStatus, id FilterID) {
		if id != FilterNetwork {
			t.Errorf("status for wrong filter: %v", id)
		}
		statusCh <- s
	}, nil)
	if err != nil {
		t.Fatalf("set filter: %v", err)
	}
	select {
	case s := <-statusCh:
		if s != FilterInstalled {
			t.Fatalf("expected FilterInstalled, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("status callback never delivered")
	}
}

type rxEvent struct {
	id      FilterID
	payload []byte
}

func setFilterSync(t *testing.T, m *IO, id FilterID, match []byte) {
	t.Helper()
	done := make(chan struct{})
	if err := m.SetFilter(id, match, func(any, FilterStatus, FilterID) { close(done) }, nil); err != nil {
		t.Fatalf("set filter %v: %v", id, err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("filter %v install status never arrived", id)
	}
}

func TestDispatchPrefixMatch(t *testing.T) {
	m, peer := newTestIO(t, Options{}, mem.Options{})
	events := make(chan rxEvent, 16)
	recorder := func(id FilterID) RecvFunc {
		return func(_ any, _ RecvInfo, payload []byte) {
			events <- rxEvent{id: id, payload: payload}
		}
	}
	if err := m.RegisterRecv(FilterNetwork, recorder(FilterNetwork), nil); err != nil {
		t.Fatalf("register network: %v", err)
	}
	if err := m.RegisterRecv(FilterProvisioning, recorder(FilterProvisioning), nil); err != nil {
		t.Fatalf("register provisioning: %v", err)
	}
	setFilterSync(t, m, FilterNetwork, []byte{0xAA})
	setFilterSync(t, m, FilterProvisioning, []byte{0xBB})

	if err := peer.Transmit(context.Background(), []byte{0xAA, 0x01, 0x02}, bearer.TxHints{}); err != nil {
		t.Fatalf("peer transmit: %v", err)
	}
	select {
	case ev := <-events:
		if ev.id != FilterNetwork {
			t.Fatalf("packet reached wrong filter: %v", ev.id)
		}
		if string(ev.payload) != string([]byte{0xAA, 0x01, 0x02}) {
			t.Fatalf("payload mismatch: %x", ev.payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("matching packet never dispatched")
	}

	// a packet matching nothing reaches nobody
	if err := peer.Transmit(context.Background(), []byte{0xCC}, bearer.TxHints{}); err != nil {
		t.Fatalf("peer transmit: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected dispatch to %v", ev.id)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDispatchMultiMatchRegistrationOrder(t *testing.T) {
	m, peer := newTestIO(t, Options{}, mem.Options{})
	events := make(chan rxEvent, 16)
	recorder := func(id FilterID) RecvFunc {
		return func(_ any, _ RecvInfo, payload []byte) {
			events <- rxEvent{id: id, payload: payload}
		}
	}
	// overlapping prefixes; beacon registered first
	if err := m.RegisterRecv(FilterBeacon, recorder(FilterBeacon), nil); err != nil {
		t.Fatalf("register beacon: %v", err)
	}
	if err := m.RegisterRecv(FilterNetwork, recorder(FilterNetwork), nil); err != nil {
		t.Fatalf("register network: %v", err)
	}
	setFilterSync(t, m, FilterBeacon, []byte{0xAA})
	setFilterSync(t, m, FilterNetwork, []byte{0xAA, 0x01})

	if err := peer.Transmit(context.Background(), []byte{0xAA, 0x01, 0xFF}, bearer.TxHints{}); err != nil {
		t.Fatalf("peer transmit: %v", err)
	}
	var got []FilterID
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev.id)
		case <-time.After(time.Second):
			t.Fatalf("expected 2 dispatches, got %v", got)
		}
	}
	if got[0] != FilterBeacon || got[1] != FilterNetwork {
		t.Fatalf("dispatch order not registration order: %v", got)
	}
	select {
	case ev := <-events:
		t.Fatalf("extra dispatch to %v", ev.id)
	case <-time.After(100 * time.Millisecond):
	}
}
