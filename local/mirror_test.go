package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/query"
	"github.com/hupe1980/mirrordb/store"
)

func newTestMirror(t *testing.T) (*Mirror, *store.Memory, *store.Memory) {
	t.Helper()
	masterStore := store.NewMemory()
	replicaStore := store.NewMemory()
	master, err := NewCollection("tasks", masterStore)
	require.NoError(t, err)
	replica, err := NewCollection("tasks", replicaStore)
	require.NoError(t, err)
	return NewMirror(master, replica), masterStore, replicaStore
}

func TestMirror(t *testing.T) {
	ctx := context.Background()

	t.Run("UpsertReplicatesAssignedIDs", func(t *testing.T) {
		m, masterStore, replicaStore := newTestMirror(t)

		out, err := m.Upsert(ctx, document.Document{"title": "one"})
		require.NoError(t, err)
		id := out[0].ID()
		require.NotEmpty(t, id)

		assert.Equal(t, 1, masterStore.Len())
		assert.Equal(t, 1, replicaStore.Len())

		// The replica holds the same id the master assigned.
		docs, err := m.Replica().Find(document.Document{"_id": id}, query.Options{}).Fetch(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("RemoveAndResolveReachBoth", func(t *testing.T) {
		m, _, _ := newTestMirror(t)
		out, err := m.Upsert(ctx, document.Document{"title": "x"})
		require.NoError(t, err)
		id := out[0].ID()

		require.NoError(t, m.Remove(ctx, id))
		require.NoError(t, m.ResolveRemove(ctx, id))

		for _, c := range []*Collection{m.Master(), m.Replica()} {
			removes, err := c.PendingRemoves(ctx)
			require.NoError(t, err)
			assert.Empty(t, removes)
		}
	})

	t.Run("ReadsGoToMaster", func(t *testing.T) {
		m, _, _ := newTestMirror(t)
		// Write into the replica only, bypassing the mirror.
		_, err := m.Replica().Upsert(ctx, document.Document{"_id": "r"})
		require.NoError(t, err)

		docs, err := m.Find(nil, query.Options{}).Fetch(ctx)
		require.NoError(t, err)
		assert.Empty(t, docs)

		pending, err := m.PendingUpserts(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("CacheReplicates", func(t *testing.T) {
		m, _, _ := newTestMirror(t)
		require.NoError(t, m.Cache(ctx, []document.Document{{"_id": "a"}}, nil, query.Options{}))
		docs, err := m.Replica().Find(nil, query.Options{}).Fetch(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})
}

func TestMirrorDB(t *testing.T) {
	ctx := context.Background()
	mdb := NewMirrorDB(NewDB(), NewDB())
	defer mdb.Close()

	m, err := mdb.Collection(ctx, "tasks")
	require.NoError(t, err)

	_, err = m.Upsert(ctx, document.Document{"_id": "a"})
	require.NoError(t, err)

	docs, err := m.Master().Find(nil, query.Options{}).Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
