package local

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/store"
)

func TestDB(t *testing.T) {
	ctx := context.Background()

	t.Run("CollectionsAreCached", func(t *testing.T) {
		db := NewDB()
		defer db.Close()

		a, err := db.Collection(ctx, "tasks")
		require.NoError(t, err)
		b, err := db.Collection(ctx, "tasks")
		require.NoError(t, err)
		assert.Same(t, a, b)

		_, err = db.Collection(ctx, "notes")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"tasks", "notes"}, db.Names())
	})

	t.Run("FactoryPerCollection", func(t *testing.T) {
		stores := make(map[string]*store.Memory)
		db := NewDB(func(o *DBOptions) {
			o.Factory = func(ctx context.Context, name string) (store.Store, error) {
				m := store.NewMemory()
				stores[name] = m
				return m, nil
			}
		})
		defer db.Close()

		c, err := db.Collection(ctx, "tasks")
		require.NoError(t, err)
		_, err = c.Upsert(ctx, document.Document{"_id": "a"})
		require.NoError(t, err)

		require.Contains(t, stores, "tasks")
		assert.Equal(t, 1, stores["tasks"].Len())
	})

	t.Run("FactoryError", func(t *testing.T) {
		boom := errors.New("boom")
		db := NewDB(func(o *DBOptions) {
			o.Factory = func(ctx context.Context, name string) (store.Store, error) {
				return nil, boom
			}
		})
		defer db.Close()

		_, err := db.Collection(ctx, "tasks")
		assert.ErrorIs(t, err, boom)
	})

	t.Run("ClosedDB", func(t *testing.T) {
		db := NewDB()
		require.NoError(t, db.Close())
		_, err := db.Collection(ctx, "tasks")
		assert.Error(t, err)
		// Closing twice is fine.
		assert.NoError(t, db.Close())
	})
}
