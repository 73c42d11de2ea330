// Package meshio is the bearer-agnostic I/O layer of the mesh stack. It
// classifies inbound advertising packets and routes them to registered
// consumers, and schedules outbound transmissions under the three mesh
// timing disciplines (General, Poll, PollResponse).
//
// One exclusion domain per instance covers the filter table, the pending
// transmission set, fire decisions and cancel decisions. Receive and
// status callbacks run on dedicated goroutines outside that domain, so a
// callback may re-enter the instance (register, send, cancel) freely.
package meshio

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshio/pkg/bearer"
)

// Options tunes per-instance policy. The zero value is usable.
type Options struct {
	// DutyCycled models a low-power node: packets are dispatched only
	// inside open Poll receive windows, and only to the window's filters.
	// When false (the default) reception stays enabled for all registered
	// filters at all times.
	DutyCycled bool

	// CloseWindowOnMatch tears a Poll receive window down as soon as one
	// qualifying packet arrives, instead of waiting for expiry.
	CloseWindowOnMatch bool

	// MaxPayload overrides the bearer payload limit when smaller than it.
	MaxPayload int

	// Jitter overrides the pre-transmission delay draw; nil means uniform
	// over [min, max]. Tests inject a deterministic source here.
	Jitter func(min, max time.Duration) time.Duration

	// Logger defaults to the global zap logger.
	Logger *zap.Logger
}

// IO is one active mesh I/O instance bound to a single bearer. All methods
// are safe for concurrent use. After Close, every method fails with
// ErrClosed.
type IO struct {
	log  *zap.Logger
	brr  bearer.Bearer
	caps bearer.Caps
	opts Options

	mu      sync.Mutex
	filters []*filterEntry
	pending txQueue
	rng     *rand.Rand
	closed  bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs an instance over a bearer of the given kind, built by the
// supplied factory from opaque backend options. Construction fails fast
// with ErrBackendUnavailable if the backend cannot initialize.
func New(f *bearer.Factory, kind bearer.Kind, backendOpts any, opts Options) (*IO, error) {
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}
	log = log.Named("meshio")

	brr, err := f.New(context.Background(), kind, backendOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}

	m := &IO{
		log:  log,
		brr:  brr,
		caps: brr.Caps(),
		opts: opts,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	m.wg.Add(2)
	go m.schedulerLoop()
	go m.recvLoop()
	log.Info("instance created",
		zap.Stringer("bearer", kind),
		zap.Uint8("max_filters", m.caps.MaxFilters),
		zap.Duration("window_accuracy", m.caps.WindowAccuracy))
	return m, nil
}

// Caps returns the static backend limits. Side-effect free.
func (m *IO) Caps() bearer.Caps { return m.caps }

// Close cancels every pending transmission, deregisters every filter and
// releases the bearer. It is a barrier: it returns only after in-flight
// callbacks have finished. Calling any method afterwards fails with
// ErrClosed.
func (m *IO) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	dropped := len(m.pending)
	m.pending = nil
	cleared := make([]FilterID, 0, len(m.filters))
	for _, f := range m.filters {
		if f.match != nil {
			cleared = append(cleared, f.id)
		}
	}
	m.filters = nil
	m.mu.Unlock()

	close(m.stop)
	for _, id := range cleared {
		_ = m.brr.ClearFilter(uint8(id))
	}
	err := m.brr.Close()
	m.wg.Wait()
	m.log.Info("instance closed", zap.Int("cancelled", dropped))
	return err
}

// RegisterRecv binds a receive callback to a filter id. The id must not
// already be registered and the table is bounded by Caps().MaxFilters.
func (m *IO) RegisterRecv(id FilterID, cb RecvFunc, ctxData any) error {
	if !id.valid() {
		return fmt.Errorf("meshio: invalid filter id %d", id)
	}
	if cb == nil {
		return fmt.Errorf("meshio: nil receive callback")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, f := range m.filters {
		if f.id == id {
			return ErrAlreadyRegistered
		}
	}
	if len(m.filters) >= int(m.caps.MaxFilters) {
		return ErrCapacityExceeded
	}
	m.filters = append(m.filters, &filterEntry{id: id, recv: cb, ctxData: ctxData})
	m.log.Debug("filter registered", zap.Stringer("filter", id))
	return nil
}

// DeregisterRecv removes the callback for a filter id and clears any
// pattern programmed for it in the backend.
func (m *IO) DeregisterRecv(id FilterID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	idx := -1
	var hadMatch bool
	for i, f := range m.filters {
		if f.id == id {
			idx = i
			hadMatch = f.match != nil
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.filters = append(m.filters[:idx], m.filters[idx+1:]...)
	m.mu.Unlock()

	if hadMatch {
		_ = m.brr.ClearFilter(uint8(id))
	}
	m.log.Debug("filter deregistered", zap.Stringer("filter", id))
	return nil
}

// SetFilter programs the match pattern for a registered filter. The
// backend matcher is programmed asynchronously; the install outcome is
// delivered through cb off the calling goroutine.
func (m *IO) SetFilter(id FilterID, match []byte, cb StatusFunc, ctxData any) error {
	if !id.valid() {
		return fmt.Errorf("meshio: invalid filter id %d", id)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var entry *filterEntry
	for _, f := range m.filters {
		if f.id == id {
			entry = f
			break
		}
	}
	if entry == nil {
		m.mu.Unlock()
		return ErrNotFound
	}
	entry.match = slices.Clone(match)
	// Add while the lock still pins closed=false, so Close cannot start
	// waiting before this install goroutine is counted.
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		status := FilterInstalled
		if err := m.brr.ProgramFilter(uint8(id), match); err != nil {
			status = FilterInstallFailed
			m.log.Warn("filter install failed",
				zap.Stringer("filter", id), zap.Error(err))
		}
		if cb != nil {
			cb(ctxData, status, id)
		}
	}()
	return nil
}

func (m *IO) maxPayload() int {
	if m.opts.MaxPayload > 0 && m.opts.MaxPayload < m.caps.MaxPayload {
		return m.opts.MaxPayload
	}
	return m.caps.MaxPayload
}

// signalWake nudges the scheduler to re-arm its timer. Non-blocking.
func (m *IO) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
