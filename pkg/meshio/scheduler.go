package meshio

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meshio/pkg/bearer"
)

// Send schedules a payload for transmission under the given timing
// discipline. The payload is copied; the caller may reuse its buffer.
func (m *IO) Send(t Timing, payload []byte) error {
	if t == nil {
		return fmt.Errorf("%w: nil descriptor", ErrInvalidTiming)
	}
	if err := t.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTiming, err)
	}
	if limit := m.maxPayload(); len(payload) > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), limit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := time.Now()
	tx := &pendingTx{
		id:      uuid.NewString(),
		payload: slices.Clone(payload),
		timing:  t,
		heapIdx: -1,
	}
	switch tt := t.(type) {
	case General:
		if tt.Count == TxCountUnlimited {
			tx.remaining = -1
		} else {
			tx.remaining = int(tt.Count)
		}
		tx.fireAt = now.Add(m.jitter(tt.MinDelay, tt.MaxDelay))
	case Poll:
		tx.remaining = 1
		tx.fireAt = now.Add(m.jitter(tt.MinDelay, tt.MaxDelay))
	case PollResponse:
		tx.remaining = 1
		at := tt.Instant.Add(tt.Delay)
		if at.Before(now) {
			// past due: fire immediately, never drop
			at = now
		}
		tx.fireAt = at
	}
	heap.Push(&m.pending, tx)
	m.signalWake()
	m.log.Debug("send scheduled",
		zap.String("tx", tx.id),
		zap.Int("len", len(tx.payload)),
		zap.Time("fire_at", tx.fireAt))
	return nil
}

// Cancel removes every pending transmission whose payload has pattern as a
// prefix; an empty pattern matches all. A Poll receive window owned by a
// cancelled transmission is torn down with it. Cancellation is
// synchronous: once Cancel returns, no fire of a removed transmission can
// occur, because fire and cancel decisions share the instance lock.
func (m *IO) Cancel(pattern []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	var victims []*pendingTx
	for _, tx := range m.pending {
		if bytes.HasPrefix(tx.payload, pattern) {
			victims = append(victims, tx)
		}
	}
	for _, tx := range victims {
		heap.Remove(&m.pending, tx.heapIdx)
		m.log.Debug("transmission cancelled", zap.String("tx", tx.id))
	}
	if len(victims) > 0 {
		m.signalWake()
	}
	return len(victims)
}

// PendingCount reports the number of scheduled transmissions, open Poll
// windows included.
func (m *IO) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// schedulerLoop owns the timer. All due-event processing happens inside
// the instance lock so that a concurrent Cancel can never lose the race
// against a fire.
func (m *IO) schedulerLoop() {
	defer m.wg.Done()
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		m.mu.Lock()
		now := time.Now()
		for len(m.pending) > 0 && !m.pending[0].fireAt.After(now) {
			tx := heap.Pop(&m.pending).(*pendingTx)
			m.processDue(tx, now)
		}
		wait := time.Duration(-1)
		if len(m.pending) > 0 {
			wait = time.Until(m.pending[0].fireAt)
			if wait < 0 {
				wait = 0
			}
		}
		m.mu.Unlock()

		if wait < 0 {
			select {
			case <-m.stop:
				return
			case <-m.wake:
			}
			continue
		}
		timer.Reset(wait)
		select {
		case <-m.stop:
			timer.Stop()
			return
		case <-m.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
	}
}

// processDue handles one due event with the lock held. The entry has been
// popped; it is pushed back when it has a future event.
func (m *IO) processDue(tx *pendingTx, now time.Time) {
	if tx.phase == phaseWindow {
		m.log.Debug("poll window expired", zap.String("tx", tx.id))
		return
	}
	switch t := tx.timing.(type) {
	case General:
		err := m.transmit(tx, bearer.TxHints{Count: t.Count, Interval: t.Interval})
		if err != nil {
			// Retried at the next natural fire time; the attempt is not
			// consumed. Never re-attempted immediately.
			tx.fireAt = tx.fireAt.Add(t.Interval + m.jitter(t.MinDelay, t.MaxDelay))
			heap.Push(&m.pending, tx)
			return
		}
		if tx.remaining > 0 {
			tx.remaining--
			if tx.remaining == 0 {
				return
			}
		}
		tx.fireAt = tx.fireAt.Add(t.Interval + m.jitter(t.MinDelay, t.MaxDelay))
		heap.Push(&m.pending, tx)
	case Poll:
		// Single-shot timing: a transmit failure is reported, not retried.
		// The window is armed regardless; its timing is anchored to the
		// send attempt.
		_ = m.transmit(tx, bearer.TxHints{})
		tx.phase = phaseWindow
		tx.windowOpen = now.Add(t.ScanDelay)
		tx.windowClose = tx.windowOpen.Add(t.ScanDuration)
		tx.windowIDs = slices.Clone(t.FilterIDs)
		tx.fireAt = tx.windowClose
		heap.Push(&m.pending, tx)
		m.log.Debug("poll window armed",
			zap.String("tx", tx.id),
			zap.Time("open", tx.windowOpen),
			zap.Time("close", tx.windowClose))
	case PollResponse:
		// Single-shot timing: reported, not retried.
		_ = m.transmit(tx, bearer.TxHints{})
	}
}

func (m *IO) transmit(tx *pendingTx, hints bearer.TxHints) error {
	if err := m.brr.Transmit(context.Background(), tx.payload, hints); err != nil {
		m.log.Warn("transmit failed",
			zap.String("tx", tx.id),
			zap.Error(fmt.Errorf("%w: %w", ErrTransmitFailed, err)))
		return err
	}
	m.log.Debug("transmitted", zap.String("tx", tx.id), zap.Int("len", len(tx.payload)))
	return nil
}

// jitter draws the pre-transmission anti-collision delay. Uniform over
// [min, max] unless overridden.
func (m *IO) jitter(min, max time.Duration) time.Duration {
	if m.opts.Jitter != nil {
		return m.opts.Jitter(min, max)
	}
	if max <= min {
		return min
	}
	return min + time.Duration(m.rng.Int63n(int64(max-min)+1))
}
