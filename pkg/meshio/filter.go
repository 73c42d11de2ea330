package meshio

import "time"

// FilterID selects one of the fixed packet classes a consumer can
// subscribe to. At most one callback per id is registered at a time.
type FilterID uint8

const (
	FilterBeacon FilterID = iota + 1
	FilterProvisioning
	FilterNetwork
)

func (f FilterID) String() string {
	switch f {
	case FilterBeacon:
		return "beacon"
	case FilterProvisioning:
		return "provisioning"
	case FilterNetwork:
		return "network"
	default:
		return "invalid"
	}
}

func (f FilterID) valid() bool { return f >= FilterBeacon && f <= FilterNetwork }

// RecvInfo carries reception metadata for one inbound packet.
type RecvInfo struct {
	Instant time.Time
	Channel uint8
	RSSI    int8
}

// RecvFunc is invoked once per matching packet, on the dispatch goroutine.
// It must not block; long work belongs on the consumer's own goroutine.
type RecvFunc func(ctxData any, info RecvInfo, payload []byte)

// FilterStatus reports the outcome of programming a backend matcher.
type FilterStatus int

const (
	FilterInstalled FilterStatus = iota
	FilterInstallFailed
)

func (s FilterStatus) String() string {
	if s == FilterInstalled {
		return "installed"
	}
	return "install-failed"
}

// StatusFunc receives asynchronous filter-install status. Programming a
// hardware matcher takes backend-determined time, so the result cannot be
// returned synchronously.
type StatusFunc func(ctxData any, status FilterStatus, id FilterID)

type filterEntry struct {
	id      FilterID
	match   []byte
	recv    RecvFunc
	ctxData any
}
