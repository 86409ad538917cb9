package local

import (
	"errors"
	"fmt"
)

// ErrMissingAdapter is returned when a collection is constructed without a
// storage adapter.
var ErrMissingAdapter = errors.New("local: missing storage adapter")

// ErrBaseIDMismatch indicates an upsert whose base document carries a
// different id than the document it belongs to.
type ErrBaseIDMismatch struct {
	DocID  string
	BaseID string
}

func (e *ErrBaseIDMismatch) Error() string {
	return fmt.Sprintf("local: base id %q does not match doc id %q", e.BaseID, e.DocID)
}

// ErrBaseCountMismatch indicates an upsert batch whose base sequence has a
// different length than its document sequence.
type ErrBaseCountMismatch struct {
	Docs  int
	Bases int
}

func (e *ErrBaseCountMismatch) Error() string {
	return fmt.Sprintf("local: %d bases for %d docs", e.Bases, e.Docs)
}
