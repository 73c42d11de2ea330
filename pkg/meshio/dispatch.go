package meshio

import (
	"bytes"
	"container/heap"
	"slices"
	"time"

	"go.uber.org/zap"

	"meshio/pkg/bearer"
)

func (m *IO) recvLoop() {
	defer m.wg.Done()
	for pkt := range m.brr.Packets() {
		m.dispatch(pkt)
	}
}

// dispatch evaluates one inbound packet against every registered filter.
// A packet may match zero, one or several filters; each match invokes that
// filter's callback exactly once, in registration order. Callbacks run
// after the lock is released, so they may re-enter the instance.
func (m *IO) dispatch(pkt bearer.Packet) {
	type delivery struct {
		recv    RecvFunc
		ctxData any
	}

	at := pkt.Instant
	if at.IsZero() {
		at = time.Now()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var dels []delivery
	var matched []FilterID
	for _, f := range m.filters {
		if len(f.match) > 0 && !bytes.HasPrefix(pkt.Data, f.match) {
			continue
		}
		if !m.eligible(f.id, at) {
			continue
		}
		dels = append(dels, delivery{f.recv, f.ctxData})
		matched = append(matched, f.id)
	}
	if m.opts.CloseWindowOnMatch && len(matched) > 0 {
		m.closeMatchedWindows(matched, at)
	}
	m.mu.Unlock()

	if len(dels) == 0 {
		return
	}
	m.log.Debug("packet dispatched",
		zap.Int("len", len(pkt.Data)),
		zap.Int("matches", len(dels)))
	info := RecvInfo{Instant: at, Channel: pkt.Channel, RSSI: pkt.RSSI}
	for _, d := range dels {
		d.recv(d.ctxData, info, pkt.Data)
	}
}

// eligible reports whether a filter may receive at the given instant. An
// always-scanning node receives for every registered filter; a
// duty-cycled one only inside an open Poll window naming the filter.
func (m *IO) eligible(id FilterID, at time.Time) bool {
	if !m.opts.DutyCycled {
		return true
	}
	for _, tx := range m.pending {
		if tx.windowOpenAt(at) && slices.Contains(tx.windowIDs, id) {
			return true
		}
	}
	return false
}

// closeMatchedWindows tears down open windows whose filters produced a
// qualifying receive. Policy-gated by Options.CloseWindowOnMatch.
func (m *IO) closeMatchedWindows(ids []FilterID, at time.Time) {
	var victims []*pendingTx
	for _, tx := range m.pending {
		if !tx.windowOpenAt(at) {
			continue
		}
		for _, id := range ids {
			if slices.Contains(tx.windowIDs, id) {
				victims = append(victims, tx)
				break
			}
		}
	}
	for _, tx := range victims {
		heap.Remove(&m.pending, tx.heapIdx)
		m.log.Debug("poll window closed on match", zap.String("tx", tx.id))
	}
	if len(victims) > 0 {
		m.signalWake()
	}
}
