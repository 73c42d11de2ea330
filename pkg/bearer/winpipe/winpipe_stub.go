//go:build !windows

package winpipe

import (
	"context"
	"fmt"

	"meshio/pkg/bearer"
)

// New reports the backend as unavailable off Windows.
func New(Options) (bearer.Bearer, error) {
	return nil, fmt.Errorf("winpipe bearer is not supported on this platform")
}

// Constructor adapts New for a bearer.Factory registration.
func Constructor() bearer.Constructor {
	return func(_ context.Context, opts any) (bearer.Bearer, error) {
		o, _ := opts.(Options)
		return New(o)
	}
}
