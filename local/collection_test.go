package local

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/query"
	"github.com/hupe1980/mirrordb/store"
)

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	c, err := NewCollection("tasks", store.NewMemory())
	require.NoError(t, err)
	return c
}

func fetchIDs(t *testing.T, c *Collection, selector document.Document, opts query.Options) []string {
	t.Helper()
	docs, err := c.Find(selector, opts).Fetch(context.Background())
	require.NoError(t, err)
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func TestNewCollection(t *testing.T) {
	_, err := NewCollection("tasks", nil)
	assert.ErrorIs(t, err, ErrMissingAdapter)
}

func TestUpsertAndFind(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	out, err := c.Upsert(ctx, document.Document{"title": "one"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	id := out[0].ID()
	require.NotEmpty(t, id)

	// An immediately following find observes the write.
	docs, err := c.Find(document.Document{"_id": id}, query.Options{}).Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "one", docs[0]["title"])

	// Results are copies; mutating them does not leak into the collection.
	docs[0]["title"] = "hacked"
	again, err := c.Find(document.Document{"_id": id}, query.Options{}).Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "one", again[0]["title"])

	// The input document was not mutated by id assignment.
	pending, err := c.PendingUpserts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].Doc.ID())
	assert.Nil(t, pending[0].Base)
}

func TestUpsertBaseCapture(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	// A cached document becomes the base of the first local edit.
	require.NoError(t, c.CacheOne(ctx, document.Document{"_id": "a", "x": float64(1)}))
	_, err := c.Upsert(ctx, document.Document{"_id": "a", "x": float64(2)})
	require.NoError(t, err)

	pending, err := c.PendingUpserts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, float64(2), pending[0].Doc["x"])
	require.NotNil(t, pending[0].Base)
	assert.Equal(t, float64(1), pending[0].Base["x"])

	// A second edit keeps the original base.
	_, err = c.Upsert(ctx, document.Document{"_id": "a", "x": float64(3)})
	require.NoError(t, err)
	pending, err = c.PendingUpserts(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(3), pending[0].Doc["x"])
	assert.Equal(t, float64(1), pending[0].Base["x"])

	// A fresh upsert with no cached entry has no base.
	_, err = c.Upsert(ctx, document.Document{"_id": "b", "x": float64(9)})
	require.NoError(t, err)
	pending, err = c.PendingUpserts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Nil(t, pending[1].Base)
}

func TestUpsertWithBases(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	t.Run("SuppliedBase", func(t *testing.T) {
		_, err := c.UpsertWithBases(ctx,
			[]document.Document{{"_id": "a", "x": float64(2)}},
			[]document.Document{{"_id": "a", "x": float64(1)}},
		)
		require.NoError(t, err)
		pending, err := c.PendingUpserts(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(1), pending[0].Base["x"])
	})

	t.Run("NilBaseMeansOverwrite", func(t *testing.T) {
		_, err := c.UpsertWithBases(ctx,
			[]document.Document{{"_id": "b"}},
			[]document.Document{nil},
		)
		require.NoError(t, err)
	})

	t.Run("CountMismatch", func(t *testing.T) {
		_, err := c.UpsertWithBases(ctx, []document.Document{{"_id": "c"}}, nil)
		var cm *ErrBaseCountMismatch
		assert.ErrorAs(t, err, &cm)
	})

	t.Run("IDMismatch", func(t *testing.T) {
		_, err := c.UpsertWithBases(ctx,
			[]document.Document{{"_id": "c"}},
			[]document.Document{{"_id": "other"}},
		)
		var im *ErrBaseIDMismatch
		require.ErrorAs(t, err, &im)
		assert.Equal(t, "c", im.DocID)
		assert.Equal(t, "other", im.BaseID)
	})
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	_, err := c.Upsert(ctx, document.Document{"_id": "a"})
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, "a"))

	// The tombstone hides the document and drops the pending upsert.
	assert.Empty(t, fetchIDs(t, c, nil, query.Options{}))
	pending, err := c.PendingUpserts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	removes, err := c.PendingRemoves(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, removes)

	// Removing again is a no-op.
	require.NoError(t, c.Remove(ctx, "a"))
	removes, err = c.PendingRemoves(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, removes)
}

func TestCache(t *testing.T) {
	ctx := context.Background()

	t.Run("TombstoneNotReinstated", func(t *testing.T) {
		c := newTestCollection(t)
		require.NoError(t, c.CacheOne(ctx, document.Document{"_id": "a", "x": float64(1)}))
		require.NoError(t, c.Remove(ctx, "a"))

		// A late remote result still carrying the document must not revive it.
		require.NoError(t, c.Cache(ctx, []document.Document{{"_id": "a", "x": float64(1)}}, nil, query.Options{}))
		assert.Empty(t, fetchIDs(t, c, nil, query.Options{}))
		removes, err := c.PendingRemoves(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, removes)
	})

	t.Run("PendingUpsertWins", func(t *testing.T) {
		c := newTestCollection(t)
		_, err := c.Upsert(ctx, document.Document{"_id": "a", "x": float64(2)})
		require.NoError(t, err)

		require.NoError(t, c.Cache(ctx, []document.Document{{"_id": "a", "x": float64(9)}}, nil, query.Options{}))
		docs, err := c.Find(nil, query.Options{}).Fetch(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, float64(2), docs[0]["x"])
	})

	t.Run("RevisionInvariant", func(t *testing.T) {
		c := newTestCollection(t)
		require.NoError(t, c.CacheOne(ctx, document.Document{"_id": "a", "_rev": float64(5), "x": "new"}))

		// An out-of-order reply with an older revision is discarded.
		require.NoError(t, c.Cache(ctx, []document.Document{{"_id": "a", "_rev": float64(3), "x": "old"}}, nil, query.Options{}))
		docs, err := c.Find(nil, query.Options{}).Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "new", docs[0]["x"])

		// A newer revision overwrites.
		require.NoError(t, c.Cache(ctx, []document.Document{{"_id": "a", "_rev": float64(7), "x": "newer"}}, nil, query.Options{}))
		docs, err = c.Find(nil, query.Options{}).Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, "newer", docs[0]["x"])
	})

	t.Run("EvictsStaleMatches", func(t *testing.T) {
		c := newTestCollection(t)
		sel := document.Document{"grp": "x"}
		require.NoError(t, c.Cache(ctx, []document.Document{
			{"_id": "a", "grp": "x"},
			{"_id": "b", "grp": "x"},
			{"_id": "other", "grp": "y"},
		}, nil, query.Options{}))

		// The remote no longer returns b for the same selector.
		require.NoError(t, c.Cache(ctx, []document.Document{{"_id": "a", "grp": "x"}}, sel, query.Options{}))
		assert.ElementsMatch(t, []string{"a", "other"}, fetchIDs(t, c, nil, query.Options{}))
	})

	t.Run("LimitBoundsEviction", func(t *testing.T) {
		c := newTestCollection(t)
		require.NoError(t, c.Cache(ctx, []document.Document{
			{"_id": "a", "n": float64(1)},
			{"_id": "b", "n": float64(2)},
			{"_id": "c", "n": float64(3)},
		}, nil, query.Options{}))

		// A full limited window sorted by n returns a and b: only entries at
		// or before the window's end are provably stale; c stays.
		opts := query.Options{Sort: query.Sort{query.Asc("n")}, Limit: 2}
		require.NoError(t, c.Cache(ctx, []document.Document{
			{"_id": "a", "n": float64(1)},
			{"_id": "x", "n": float64(2)},
		}, nil, opts))
		assert.ElementsMatch(t, []string{"a", "x", "c"}, fetchIDs(t, c, nil, query.Options{}))
	})

	t.Run("UnfilledLimitEvictsAll", func(t *testing.T) {
		c := newTestCollection(t)
		require.NoError(t, c.Cache(ctx, []document.Document{
			{"_id": "a", "n": float64(1)},
			{"_id": "b", "n": float64(2)},
		}, nil, query.Options{}))

		// The result did not fill the limit, so it is the complete match set.
		opts := query.Options{Sort: query.Sort{query.Asc("n")}, Limit: 5}
		require.NoError(t, c.Cache(ctx, []document.Document{{"_id": "a", "n": float64(1)}}, nil, opts))
		assert.Equal(t, []string{"a"}, fetchIDs(t, c, nil, query.Options{}))
	})

	t.Run("LimitWithoutSortEvictsNothing", func(t *testing.T) {
		c := newTestCollection(t)
		require.NoError(t, c.Cache(ctx, []document.Document{
			{"_id": "a"},
			{"_id": "b"},
		}, nil, query.Options{}))

		require.NoError(t, c.Cache(ctx, []document.Document{{"_id": "a"}}, nil, query.Options{Limit: 1}))
		assert.ElementsMatch(t, []string{"a", "b"}, fetchIDs(t, c, nil, query.Options{}))
	})
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	_, err := c.Upsert(ctx, document.Document{"_id": "a", "x": float64(2)})
	require.NoError(t, err)

	require.NoError(t, c.Seed(ctx,
		document.Document{"_id": "a", "x": float64(0)},
		document.Document{"_id": "b", "x": float64(1)},
	))

	docs, err := c.Find(nil, query.Options{Sort: query.Sort{query.Asc("_id")}}).Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	// The existing pending upsert is untouched; only b was seeded.
	assert.Equal(t, float64(2), docs[0]["x"])
	assert.Equal(t, float64(1), docs[1]["x"])
}

func TestUncache(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	require.NoError(t, c.CacheOne(ctx, document.Document{"_id": "a", "grp": "x"}))
	require.NoError(t, c.CacheOne(ctx, document.Document{"_id": "b", "grp": "y"}))
	_, err := c.Upsert(ctx, document.Document{"_id": "p", "grp": "x"})
	require.NoError(t, err)

	require.NoError(t, c.Uncache(ctx, document.Document{"grp": "x"}))

	// Cached a is gone; pending p survives even though it matches.
	assert.ElementsMatch(t, []string{"b", "p"}, fetchIDs(t, c, nil, query.Options{}))
	pending, err := c.PendingUpserts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestResolveUpserts(t *testing.T) {
	ctx := context.Background()

	t.Run("CleanResolution", func(t *testing.T) {
		c := newTestCollection(t)
		out, err := c.Upsert(ctx, document.Document{"_id": "a", "x": float64(1)})
		require.NoError(t, err)

		resolved := document.Document{"_id": "a", "_rev": float64(1), "x": float64(1)}
		require.NoError(t, c.ResolveUpserts(ctx, []Resolution{{Doc: resolved, Snapshot: out[0]}}))

		pending, err := c.PendingUpserts(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		docs, err := c.Find(nil, query.Options{}).Fetch(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(1), docs[0]["_rev"])
	})

	t.Run("RacingLocalEditStaysPending", func(t *testing.T) {
		c := newTestCollection(t)
		snapshot, err := c.Upsert(ctx, document.Document{"_id": "a", "x": float64(1)})
		require.NoError(t, err)

		// The user edits again while the upload is in flight.
		_, err = c.Upsert(ctx, document.Document{"_id": "a", "x": float64(2)})
		require.NoError(t, err)

		resolved := document.Document{"_id": "a", "_rev": float64(1), "x": float64(1)}
		require.NoError(t, c.ResolveUpserts(ctx, []Resolution{{Doc: resolved, Snapshot: snapshot[0]}}))

		// The newer edit is still pending, now based on the server document.
		pending, err := c.PendingUpserts(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, float64(2), pending[0].Doc["x"])
		assert.Equal(t, float64(1), pending[0].Base["_rev"])
		assert.Equal(t, float64(1), pending[0].Base["x"])
	})

	t.Run("UnknownIDIgnored", func(t *testing.T) {
		c := newTestCollection(t)
		require.NoError(t, c.ResolveUpserts(ctx, []Resolution{{
			Doc:      document.Document{"_id": "ghost"},
			Snapshot: document.Document{"_id": "ghost"},
		}}))
	})
}

func TestResolveRemoveAndDiscard(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	_, err := c.Upsert(ctx, document.Document{"_id": "keep", "x": float64(1)})
	require.NoError(t, err)
	_, err = c.Upsert(ctx, document.Document{"_id": "drop", "x": float64(1)})
	require.NoError(t, err)
	require.NoError(t, c.Remove(ctx, "gone"))

	require.NoError(t, c.DiscardUpsert(ctx, "drop"))
	require.NoError(t, c.ResolveRemove(ctx, "gone"))

	pending, err := c.PendingUpserts(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "keep", pending[0].Doc.ID())

	removes, err := c.PendingRemoves(ctx)
	require.NoError(t, err)
	assert.Empty(t, removes)

	// Discarding a non-pending id is a no-op.
	require.NoError(t, c.DiscardUpsert(ctx, "keep2"))
	require.NoError(t, c.ResolveRemove(ctx, "keep"))
	pending, err = c.PendingUpserts(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// failingStore fails Persist after an optional number of successes.
type failingStore struct {
	*store.Memory
	failures int
	calls    int
}

var errDisk = errors.New("disk failure")

func (f *failingStore) Persist(ctx context.Context, upserts []store.Entry, removals []string) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errDisk
	}
	return f.Memory.Persist(ctx, upserts, removals)
}

func TestAdapterFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{Memory: store.NewMemory(), failures: 1}
	c, err := NewCollection("tasks", fs)
	require.NoError(t, err)

	_, err = c.Upsert(ctx, document.Document{"_id": "a"})
	assert.ErrorIs(t, err, errDisk)

	// Nothing is visible and nothing is pending.
	assert.Empty(t, fetchIDs(t, c, nil, query.Options{}))
	pending, err := c.PendingUpserts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// The next attempt succeeds.
	_, err = c.Upsert(ctx, document.Document{"_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, fetchIDs(t, c, nil, query.Options{}))
}

func TestLoadFromExistingStore(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Persist(ctx, []store.Entry{
		{ID: "a", State: store.StateCached, Doc: document.Document{"_id": "a"}},
		{ID: "b", State: store.StateRemoved},
	}, nil))

	c, err := NewCollection("tasks", mem)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, fetchIDs(t, c, nil, query.Options{}))
	removes, err := c.PendingRemoves(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, removes)
}
