package meshio

import "time"

type txPhase uint8

const (
	// phaseSend: the next event is a transmission attempt.
	phaseSend txPhase = iota
	// phaseWindow: the send is done and the entry waits for its Poll
	// receive window to expire.
	phaseWindow
)

// pendingTx is one scheduled payload awaiting future events. It is
// identified for cancellation purposes only by payload prefix; id exists
// for log correlation.
type pendingTx struct {
	id        string
	payload   []byte
	timing    Timing
	remaining int // General attempts left; -1 when unlimited
	phase     txPhase
	fireAt    time.Time
	heapIdx   int

	// Poll receive window, valid in phaseWindow.
	windowOpen  time.Time
	windowClose time.Time
	windowIDs   []FilterID
}

func (tx *pendingTx) windowOpenAt(at time.Time) bool {
	return tx.phase == phaseWindow && !at.Before(tx.windowOpen) && at.Before(tx.windowClose)
}

// txQueue is a min-heap over fireAt, used with container/heap.
type txQueue []*pendingTx

func (q txQueue) Len() int           { return len(q) }
func (q txQueue) Less(i, j int) bool { return q[i].fireAt.Before(q[j].fireAt) }
func (q txQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIdx = i
	q[j].heapIdx = j
}

func (q *txQueue) Push(x any) {
	tx := x.(*pendingTx)
	tx.heapIdx = len(*q)
	*q = append(*q, tx)
}

func (q *txQueue) Pop() any {
	old := *q
	n := len(old)
	tx := old[n-1]
	old[n-1] = nil
	tx.heapIdx = -1
	*q = old[:n-1]
	return tx
}
