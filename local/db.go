package local

import (
	"context"
	"errors"
	"sync"

	"github.com/hupe1980/mirrordb/store"
)

// StoreFactory builds the storage adapter for a named collection. Factories
// let one database spread its collections across adapter instances, for
// example one log file or one sqlite table set per collection.
type StoreFactory func(ctx context.Context, name string) (store.Store, error)

// DBOptions configure a database registry.
type DBOptions struct {
	// Factory builds per-collection adapters. Defaults to in-memory stores.
	Factory StoreFactory
}

// DB is a registry of named collections sharing one adapter factory.
// Collection handles are created on first use and cached.
type DB struct {
	factory StoreFactory

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// NewDB creates a database registry.
func NewDB(optFns ...func(o *DBOptions)) *DB {
	opts := DBOptions{
		Factory: func(ctx context.Context, name string) (store.Store, error) {
			return store.NewMemory(), nil
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &DB{factory: opts.Factory, collections: make(map[string]*Collection)}
}

// Collection returns the named collection, creating its adapter on first use.
func (db *DB) Collection(ctx context.Context, name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, errors.New("local: db is closed")
	}
	if c, ok := db.collections[name]; ok {
		return c, nil
	}
	st, err := db.factory(ctx, name)
	if err != nil {
		return nil, err
	}
	c, err := NewCollection(name, st)
	if err != nil {
		st.Close() //nolint:errcheck // best effort on construction failure
		return nil, err
	}
	db.collections[name] = c
	return c, nil
}

// Names returns the names of collections created so far.
func (db *DB) Names() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]string, 0, len(db.collections))
	for name := range db.collections {
		out = append(out, name)
	}
	return out
}

// Close closes every collection. The first error is returned; all
// collections are closed regardless.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	var firstErr error
	for _, c := range db.collections {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
