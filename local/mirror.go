package local

import (
	"context"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/query"
)

// Mirror replicates every state transition of a master collection into a
// replica collection. Writes apply to the master first; the replica then
// receives the same transition, including ids the master assigned. Reads are
// served from the master only. A typical pairing is a fast in-memory master
// with a durable replica that survives restarts.
type Mirror struct {
	master  *Collection
	replica *Collection
}

// NewMirror pairs a master collection with its replica.
func NewMirror(master, replica *Collection) *Mirror {
	return &Mirror{master: master, replica: replica}
}

// Master returns the master collection.
func (m *Mirror) Master() *Collection { return m.master }

// Replica returns the replica collection.
func (m *Mirror) Replica() *Collection { return m.replica }

// Find queries the master.
func (m *Mirror) Find(selector document.Document, opts query.Options) *Query {
	return m.master.Find(selector, opts)
}

// Upsert writes to the master, then replays the id-assigned documents into
// the replica.
func (m *Mirror) Upsert(ctx context.Context, docs ...document.Document) ([]document.Document, error) {
	out, err := m.master.Upsert(ctx, docs...)
	if err != nil {
		return nil, err
	}
	if _, err := m.replica.Upsert(ctx, out...); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertWithBases is Upsert with caller-supplied bases.
func (m *Mirror) UpsertWithBases(ctx context.Context, docs, bases []document.Document) ([]document.Document, error) {
	out, err := m.master.UpsertWithBases(ctx, docs, bases)
	if err != nil {
		return nil, err
	}
	if _, err := m.replica.UpsertWithBases(ctx, out, bases); err != nil {
		return nil, err
	}
	return out, nil
}

// Remove tombstones an id in both collections.
func (m *Mirror) Remove(ctx context.Context, id string) error {
	if err := m.master.Remove(ctx, id); err != nil {
		return err
	}
	return m.replica.Remove(ctx, id)
}

// Cache reconciles a remote result set into both collections.
func (m *Mirror) Cache(ctx context.Context, docs []document.Document, selector document.Document, opts query.Options) error {
	if err := m.master.Cache(ctx, docs, selector, opts); err != nil {
		return err
	}
	return m.replica.Cache(ctx, docs, selector, opts)
}

// CacheOne writes a single server document into both collections.
func (m *Mirror) CacheOne(ctx context.Context, doc document.Document) error {
	if err := m.master.CacheOne(ctx, doc); err != nil {
		return err
	}
	return m.replica.CacheOne(ctx, doc)
}

// Seed inserts documents into both collections for absent ids only.
func (m *Mirror) Seed(ctx context.Context, docs ...document.Document) error {
	if err := m.master.Seed(ctx, docs...); err != nil {
		return err
	}
	return m.replica.Seed(ctx, docs...)
}

// Uncache drops cached entries matching the selector from both collections.
func (m *Mirror) Uncache(ctx context.Context, selector document.Document) error {
	if err := m.master.Uncache(ctx, selector); err != nil {
		return err
	}
	return m.replica.Uncache(ctx, selector)
}

// PendingUpserts reports the master's pending upserts.
func (m *Mirror) PendingUpserts(ctx context.Context) ([]Pending, error) {
	return m.master.PendingUpserts(ctx)
}

// PendingRemoves reports the master's tombstoned ids.
func (m *Mirror) PendingRemoves(ctx context.Context) ([]string, error) {
	return m.master.PendingRemoves(ctx)
}

// ResolveUpserts applies upload resolutions to both collections.
func (m *Mirror) ResolveUpserts(ctx context.Context, resolutions []Resolution) error {
	if err := m.master.ResolveUpserts(ctx, resolutions); err != nil {
		return err
	}
	return m.replica.ResolveUpserts(ctx, resolutions)
}

// ResolveRemove purges a confirmed tombstone from both collections.
func (m *Mirror) ResolveRemove(ctx context.Context, id string) error {
	if err := m.master.ResolveRemove(ctx, id); err != nil {
		return err
	}
	return m.replica.ResolveRemove(ctx, id)
}

// DiscardUpsert drops a rejected pending upsert from both collections.
func (m *Mirror) DiscardUpsert(ctx context.Context, id string) error {
	if err := m.master.DiscardUpsert(ctx, id); err != nil {
		return err
	}
	return m.replica.DiscardUpsert(ctx, id)
}

// Close closes both collections. The master is closed first.
func (m *Mirror) Close() error {
	err := m.master.Close()
	if rerr := m.replica.Close(); err == nil {
		err = rerr
	}
	return err
}

// MirrorDB is a registry of mirrored collections backed by a master and a
// replica database.
type MirrorDB struct {
	master  *DB
	replica *DB
}

// NewMirrorDB pairs a master database with its replica.
func NewMirrorDB(master, replica *DB) *MirrorDB {
	return &MirrorDB{master: master, replica: replica}
}

// Collection returns a mirror over the named collection of both databases.
func (db *MirrorDB) Collection(ctx context.Context, name string) (*Mirror, error) {
	master, err := db.master.Collection(ctx, name)
	if err != nil {
		return nil, err
	}
	replica, err := db.replica.Collection(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewMirror(master, replica), nil
}

// Close closes both databases.
func (db *MirrorDB) Close() error {
	err := db.master.Close()
	if rerr := db.replica.Close(); err == nil {
		err = rerr
	}
	return err
}
