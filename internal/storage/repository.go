package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to create a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic interface for the star-schema loader.
//
// IMPORTANT: This interface is intentionally minimal and focused on what
// the pipeline needs. Each backend implements the semantics in its own
// idiomatic way (pgx batch inserts, database/sql elsewhere).
type Repository interface {
	// Close releases backend resources (connections, pools).
	// Treat Close as "call once" at process shutdown.
	Close()

	// EnsureTables creates tables as needed (create-if-not-exists).
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// LoadTables appends every table's rows inside ONE transaction, in
	// slice order. On any failure the whole transaction rolls back and the
	// error is returned; partial loads never persist. The returned map
	// holds rows written per table on success.
	LoadTables(ctx context.Context, loads []TableLoad) (map[string]int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. Registering
// the same kind twice panics; failing fast avoids ambiguous backend
// selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
