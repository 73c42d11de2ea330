package meshio

import "errors"

var (
	// ErrCapacityExceeded means the backend filter table is full.
	ErrCapacityExceeded = errors.New("meshio: filter capacity exceeded")
	// ErrAlreadyRegistered means the filter id already has a callback.
	ErrAlreadyRegistered = errors.New("meshio: filter already registered")
	// ErrNotFound means the filter id has no registered callback.
	ErrNotFound = errors.New("meshio: filter not registered")
	// ErrPayloadTooLarge means the payload exceeds the bearer limit.
	ErrPayloadTooLarge = errors.New("meshio: payload too large")
	// ErrInvalidTiming means the timing descriptor failed validation.
	ErrInvalidTiming = errors.New("meshio: invalid timing descriptor")
	// ErrBackendUnavailable means the bearer could not be constructed or
	// is gone.
	ErrBackendUnavailable = errors.New("meshio: backend unavailable")
	// ErrTransmitFailed wraps a bearer-level transmit error.
	ErrTransmitFailed = errors.New("meshio: transmit failed")
	// ErrClosed means the instance has been destroyed.
	ErrClosed = errors.New("meshio: instance closed")
)
