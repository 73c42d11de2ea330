// Package bearer defines the backend contract for the mesh I/O layer: an
// opaque radio (or radio emulation) that transmits advertising payloads,
// delivers inbound packets and programs hardware match filters.
package bearer

import (
	"context"
	"time"
)

// Kind identifies a bearer backend type.
type Kind int

const (
	KindUnknown Kind = iota
	KindMem
	KindUDP
	KindWinPipe
)

func (k Kind) String() string {
	switch k {
	case KindMem:
		return "mem"
	case KindUDP:
		return "udp"
	case KindWinPipe:
		return "winpipe"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) Kind {
	switch s {
	case "mem":
		return KindMem
	case "udp":
		return KindUDP
	case "winpipe":
		return KindWinPipe
	default:
		return KindUnknown
	}
}

// Caps describes static backend limits. They never change over the life of
// a bearer instance.
type Caps struct {
	// MaxFilters is the number of match filters the backend can hold.
	MaxFilters uint8
	// WindowAccuracy is the granularity the backend can honour for
	// scan-window open/close points.
	WindowAccuracy time.Duration
	// MaxPayload is the largest payload Transmit accepts, in bytes.
	MaxPayload int
}

// Packet is one inbound advertising packet with reception metadata.
// Data is opaque to this layer; its encoding belongs to the stack above.
type Packet struct {
	Instant time.Time
	Channel uint8
	RSSI    int8
	Data    []byte
}

// TxHints carries per-transmission hints for backends whose hardware can
// repeat bursts itself. Backends are free to ignore them.
type TxHints struct {
	Channel  uint8
	Count    uint8
	Interval time.Duration
}

// Bearer is a single radio backend instance. Implementations must be safe
// for concurrent use; Transmit may be called while Packets is being drained.
type Bearer interface {
	Kind() Kind
	Caps() Caps

	// Transmit sends one payload. It must not block beyond ctx; a send that
	// cannot be queued is an error, never a silent drop.
	Transmit(ctx context.Context, payload []byte, hints TxHints) error

	// Packets returns the inbound feed. The channel is closed when the
	// bearer is closed. Slow consumers may lose packets; they are never
	// delivered late.
	Packets() <-chan Packet

	// ProgramFilter installs a match pattern in the backend matcher.
	// Programming may take real time on hardware backends.
	ProgramFilter(id uint8, pattern []byte) error

	// ClearFilter removes a previously programmed pattern.
	ClearFilter(id uint8) error

	// Close releases the backend. Packets is closed, further calls fail.
	Close() error
}
