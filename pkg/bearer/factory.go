package bearer

import (
	"context"
	"fmt"
	"sync"
)

// Constructor builds a bearer from backend-specific options. The options
// value is opaque to the factory; each backend documents its own type.
type Constructor func(ctx context.Context, opts any) (Bearer, error)

// Factory maps bearer kinds to constructors. It replaces a process-global
// backend registry: callers build one, register the kinds they support and
// pass it to the I/O layer at construction time.
type Factory struct {
	mu    sync.RWMutex
	ctors map[Kind]Constructor
}

func NewFactory() *Factory { return &Factory{ctors: make(map[Kind]Constructor)} }

// Register adds or replaces the constructor for a kind.
func (f *Factory) Register(k Kind, c Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[k] = c
}

// Kinds returns the registered kinds.
func (f *Factory) Kinds() []Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Kind, 0, len(f.ctors))
	for k := range f.ctors {
		out = append(out, k)
	}
	return out
}

// New constructs a bearer of the given kind.
func (f *Factory) New(ctx context.Context, k Kind, opts any) (Bearer, error) {
	f.mu.RLock()
	c := f.ctors[k]
	f.mu.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("bearer: no constructor registered for kind %s", k)
	}
	return c(ctx, opts)
}
