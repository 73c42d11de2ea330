package meshio

import (
	"fmt"
	"time"
)

// TxCountUnlimited makes a General transmission repeat until cancelled.
const TxCountUnlimited = 0

// Timing is the transmission timing descriptor: exactly one of General,
// Poll or PollResponse. The scheduler handles the variants exhaustively.
type Timing interface {
	validate() error
}

// General repeats a transmission Count times (TxCountUnlimited for
// unlimited) every Interval, each individual send preceded by a jitter
// delay drawn from [MinDelay, MaxDelay].
type General struct {
	Interval time.Duration
	Count    uint8
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Poll performs one jittered send and then opens a receive window of
// ScanDuration, ScanDelay after the send, confined to FilterIDs. The
// window is torn down automatically when it expires. This implements the
// low-power node side of friendship polling.
type Poll struct {
	ScanDuration time.Duration
	ScanDelay    time.Duration
	FilterIDs    []FilterID
	MinDelay     time.Duration
	MaxDelay     time.Duration
}

// PollResponse performs a single send anchored at Instant+Delay. A
// past-due anchor fires immediately; the response is never dropped. This
// implements the Friend side of friendship polling.
type PollResponse struct {
	Instant time.Time
	Delay   time.Duration
}

func (t General) validate() error {
	if t.Interval <= 0 {
		return fmt.Errorf("general: interval must be positive")
	}
	if t.MinDelay < 0 || t.MaxDelay < 0 || t.MinDelay > t.MaxDelay {
		return fmt.Errorf("general: delay range [%v, %v] invalid", t.MinDelay, t.MaxDelay)
	}
	return nil
}

func (t Poll) validate() error {
	if t.ScanDuration <= 0 {
		return fmt.Errorf("poll: scan duration must be positive")
	}
	if t.ScanDelay < 0 {
		return fmt.Errorf("poll: scan delay must not be negative")
	}
	if len(t.FilterIDs) == 0 || len(t.FilterIDs) > 2 {
		return fmt.Errorf("poll: 1 or 2 filter ids required, got %d", len(t.FilterIDs))
	}
	for _, id := range t.FilterIDs {
		if !id.valid() {
			return fmt.Errorf("poll: invalid filter id %d", id)
		}
	}
	if t.MinDelay < 0 || t.MaxDelay < 0 || t.MinDelay > t.MaxDelay {
		return fmt.Errorf("poll: delay range [%v, %v] invalid", t.MinDelay, t.MaxDelay)
	}
	return nil
}

func (t PollResponse) validate() error {
	if t.Delay < 0 {
		return fmt.Errorf("poll response: delay must not be negative")
	}
	return nil
}
