package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"graphload/internal/config"
)

// Config selects and configures a store backend.
type Config struct {
	// Kind is the registered backend name, e.g. "badger" or "postgres".
	Kind string

	// DSN is the backend connection string or path.
	DSN string

	// Options holds backend-specific knobs (pool sizes, in_memory, ...).
	Options config.Options
}

// Factory opens a store for a Config.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind. Backends call it
// from init.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// Open looks up the factory for cfg.Kind and opens the store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no graph store registered for kind=%q (known: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend names in sorted order.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
