package store

import (
	"context"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mirrordb/document"
)

func sortedEntries(t *testing.T, s Store) []Entry {
	t.Helper()
	entries, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistAndLoad", func(t *testing.T) {
		m := NewMemory()
		err := m.Persist(ctx, []Entry{
			{ID: "a", State: StateCached, Doc: document.Document{"_id": "a", "n": float64(1)}},
			{ID: "b", State: StateRemoved},
		}, nil)
		require.NoError(t, err)

		entries := sortedEntries(t, m)
		require.Len(t, entries, 2)
		assert.Equal(t, StateCached, entries[0].State)
		assert.Nil(t, entries[1].Doc)
		assert.Equal(t, 2, m.Len())

		require.NoError(t, m.Persist(ctx, nil, []string{"b"}))
		assert.Equal(t, 1, m.Len())
	})

	t.Run("NoAliasing", func(t *testing.T) {
		m := NewMemory()
		doc := document.Document{"_id": "a", "n": float64(1)}
		require.NoError(t, m.Persist(ctx, []Entry{{ID: "a", State: StateCached, Doc: doc}}, nil))
		doc["n"] = float64(99)

		entries := sortedEntries(t, m)
		assert.Equal(t, float64(1), entries[0].Doc["n"])

		entries[0].Doc["n"] = float64(42)
		again := sortedEntries(t, m)
		assert.Equal(t, float64(1), again[0].Doc["n"])
	})
}

func TestLog(t *testing.T) {
	ctx := context.Background()

	entryA := Entry{ID: "a", State: StateUpserted,
		Doc:  document.Document{"_id": "a", "n": float64(2)},
		Base: document.Document{"_id": "a", "n": float64(1)},
	}
	entryB := Entry{ID: "b", State: StateCached, Doc: document.Document{"_id": "b"}}

	t.Run("ReplayAfterReopen", func(t *testing.T) {
		path := LogPath(t.TempDir(), "tasks")

		l, err := NewLog(path)
		require.NoError(t, err)
		require.NoError(t, l.Persist(ctx, []Entry{entryA, entryB}, nil))
		require.NoError(t, l.Persist(ctx, nil, []string{"b"}))
		require.NoError(t, l.Close())

		l2, err := NewLog(path)
		require.NoError(t, err)
		defer l2.Close()

		entries := sortedEntries(t, l2)
		require.Len(t, entries, 1)
		assert.Equal(t, "a", entries[0].ID)
		assert.Equal(t, StateUpserted, entries[0].State)
		assert.Equal(t, float64(2), entries[0].Doc["n"])
		assert.Equal(t, float64(1), entries[0].Base["n"])
	})

	t.Run("HeaderSelectsCompression", func(t *testing.T) {
		path := LogPath(t.TempDir(), "tasks")

		l, err := NewLog(path, func(o *LogOptions) { o.Compression = LZ4{} })
		require.NoError(t, err)
		require.NoError(t, l.Persist(ctx, []Entry{entryA}, nil))
		require.NoError(t, l.Close())

		// Reopen with a different configured compression; the header wins.
		l2, err := NewLog(path, func(o *LogOptions) { o.Compression = NoCompression{} })
		require.NoError(t, err)
		defer l2.Close()

		entries := sortedEntries(t, l2)
		require.Len(t, entries, 1)
		assert.Equal(t, "a", entries[0].ID)
	})

	t.Run("Compact", func(t *testing.T) {
		path := LogPath(t.TempDir(), "tasks")

		l, err := NewLog(path)
		require.NoError(t, err)
		for range 20 {
			require.NoError(t, l.Persist(ctx, []Entry{entryA}, nil))
		}
		require.NoError(t, l.Persist(ctx, []Entry{entryB}, nil))

		before, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, l.Compact(ctx))
		after, err := os.Stat(path)
		require.NoError(t, err)
		assert.Less(t, after.Size(), before.Size())

		// Appends still work after the swap.
		require.NoError(t, l.Persist(ctx, nil, []string{"b"}))
		require.NoError(t, l.Close())

		l2, err := NewLog(path)
		require.NoError(t, err)
		defer l2.Close()
		entries := sortedEntries(t, l2)
		require.Len(t, entries, 1)
		assert.Equal(t, "a", entries[0].ID)
	})

	t.Run("CorruptHeader", func(t *testing.T) {
		path := LogPath(t.TempDir(), "tasks")
		require.NoError(t, os.WriteFile(path, []byte("not a header\n"), 0o600))

		_, err := NewLog(path)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("TruncatedRecord", func(t *testing.T) {
		path := LogPath(t.TempDir(), "tasks")
		l, err := NewLog(path)
		require.NoError(t, err)
		require.NoError(t, l.Persist(ctx, []Entry{entryA}, nil))
		require.NoError(t, l.Close())

		b, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, b[:len(b)-3], 0o600))

		_, err = NewLog(path)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestCompression(t *testing.T) {
	payload := []byte(`{"id":"a","state":1,"doc":{"_id":"a","text":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}}`)
	for _, name := range []string{"none", "s2", "lz4"} {
		t.Run(name, func(t *testing.T) {
			c, ok := CompressionByName(name)
			require.True(t, ok)
			assert.Equal(t, name, c.Name())

			out, err := c.Decompress(c.Compress(payload))
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}

	_, ok := CompressionByName("zstd")
	assert.False(t, ok)
}
