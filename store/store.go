// Package store defines the storage adapter contract backing a local
// collection, plus the built-in in-memory and append-only log-file adapters.
// Key-value and embedded-SQL adapters live in subpackages.
package store

import (
	"context"
	"errors"

	"github.com/hupe1980/mirrordb/document"
)

// ErrCorrupt is returned by LoadAll when previously persisted data cannot be
// decoded. This is the one irrecoverable condition adapters may report.
var ErrCorrupt = errors.New("store: corrupt data")

// State is the lifecycle state of a collection entry.
type State uint8

const (
	// StateCached is a read-only snapshot obtained from the remote.
	StateCached State = iota + 1
	// StateUpserted is a locally modified document pending upload.
	StateUpserted
	// StateRemoved is a tombstone pending upload.
	StateRemoved
)

// Entry is one persisted collection entry. Doc is nil for tombstones; Base is
// only meaningful for upserted entries and may be nil (force-overwrite
// semantics on upload).
type Entry struct {
	ID    string            `json:"id"`
	State State             `json:"state"`
	Doc   document.Document `json:"doc,omitempty"`
	Base  document.Document `json:"base,omitempty"`
}

// Store is the uniform local-collection storage contract. Adapters may buffer
// writes but LoadAll must reflect every prior successful Persist call.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadAll returns the full materialized entry set.
	LoadAll(ctx context.Context) ([]Entry, error)

	// Persist applies a batch of entry writes and a batch of physical
	// removals atomically with respect to LoadAll.
	Persist(ctx context.Context, upserts []Entry, removals []string) error

	// Close releases adapter resources.
	Close() error
}

func cloneEntry(e Entry) Entry {
	e.Doc = e.Doc.Clone()
	e.Base = e.Base.Clone()
	return e
}
