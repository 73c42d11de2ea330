// Package winpipe implements a Windows bearer that exchanges codec frames
// with an external radio daemon over a named pipe. On other platforms the
// constructor reports the backend as unavailable.
package winpipe

import "time"

// DefaultPipe is the daemon pipe used when none is configured.
const DefaultPipe = `\\.\pipe\meshio-radio`

// Options configures the named-pipe bearer.
type Options struct {
	// Name is the pipe path of the radio daemon.
	Name string
	// DialTimeout bounds the initial pipe connection.
	DialTimeout time.Duration

	MaxFilters     uint8
	WindowAccuracy time.Duration
	MaxPayload     int
	QueueLen       int
}

func (o *Options) fill() {
	if o.Name == "" {
		o.Name = DefaultPipe
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.MaxFilters == 0 {
		o.MaxFilters = 3
	}
	if o.WindowAccuracy == 0 {
		o.WindowAccuracy = 10 * time.Millisecond
	}
	if o.MaxPayload == 0 {
		o.MaxPayload = 31
	}
	if o.QueueLen == 0 {
		o.QueueLen = 128
	}
}
