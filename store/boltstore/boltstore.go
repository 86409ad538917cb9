// Package boltstore provides a key-value storage adapter backed by bbolt.
// Each collection maps to one bucket; entries are codec-encoded values keyed
// by document id.
package boltstore

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/hupe1980/mirrordb/codec"
	"github.com/hupe1980/mirrordb/store"
)

// Options configure the bbolt adapter.
type Options struct {
	// Codec encodes entry values. Defaults to codec.Default.
	Codec codec.Codec

	// FileMode is the mode the database file is created with.
	FileMode uint32
}

// DB wraps one bbolt database file. Collections share the file, one bucket
// per collection.
type DB struct {
	db *bbolt.DB
	c  codec.Codec
}

// Open opens (or creates) a bbolt database file at path.
func Open(path string, optFns ...func(o *Options)) (*DB, error) {
	opts := Options{Codec: codec.Default, FileMode: 0o600}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open: %w", err)
	}
	return &DB{db: db, c: opts.Codec}, nil
}

// Close closes the underlying database file.
func (d *DB) Close() error { return d.db.Close() }

// Collection returns a store.Store over the named bucket, creating it if
// needed.
func (d *DB) Collection(name string) (*Store, error) {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: create bucket %q: %w", name, err)
	}
	return &Store{db: d.db, bucket: []byte(name), c: d.c}, nil
}

// Store is the per-collection adapter. It satisfies store.Store.
type Store struct {
	db     *bbolt.DB
	bucket []byte
	c      codec.Codec
}

// LoadAll implements store.Store.
func (s *Store) LoadAll(ctx context.Context) ([]store.Entry, error) {
	var out []store.Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e store.Entry
			if err := s.c.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("%w: entry %q: %v", store.ErrCorrupt, k, err)
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Persist implements store.Store. Writes and removals apply in one
// transaction.
func (s *Store) Persist(ctx context.Context, upserts []store.Entry, removals []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return fmt.Errorf("boltstore: bucket: %w", err)
		}
		for _, e := range upserts {
			v, err := s.c.Marshal(e)
			if err != nil {
				return fmt.Errorf("boltstore: encode entry %q: %w", e.ID, err)
			}
			if err := b.Put([]byte(e.ID), v); err != nil {
				return fmt.Errorf("boltstore: put %q: %w", e.ID, err)
			}
		}
		for _, id := range removals {
			if err := b.Delete([]byte(id)); err != nil {
				return fmt.Errorf("boltstore: delete %q: %w", id, err)
			}
		}
		return nil
	})
}

// Close implements store.Store. The shared database file stays open; close it
// via DB.Close.
func (s *Store) Close() error { return nil }
