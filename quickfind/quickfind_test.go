package quickfind

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mirrordb/codec"
	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/query"
	"github.com/hupe1980/mirrordb/remote"
)

func TestShard(t *testing.T) {
	// Determinism and range.
	for _, id := range []string{"a", "b", "longer-id-123", ""} {
		s := Shard(id, 16)
		assert.Equal(t, s, Shard(id, 16))
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 16)
	}
	assert.NotEqual(t, Shard("a", 1<<30), Shard("b", 1<<30))
}

func TestDocHash(t *testing.T) {
	t.Run("RevStandsInForBody", func(t *testing.T) {
		a := document.Document{"_id": "a", "_rev": float64(3), "x": 1}
		b := document.Document{"_id": "a", "_rev": float64(3), "x": 999}
		assert.Equal(t, DocHash(a), DocHash(b))

		c := document.Document{"_id": "a", "_rev": float64(4), "x": 1}
		assert.NotEqual(t, DocHash(a), DocHash(c))
	})

	t.Run("NoRevHashesCanonicalBody", func(t *testing.T) {
		a := document.Document{"_id": "a", "x": float64(1)}
		b := document.Document{"x": float64(1), "_id": "a"}
		assert.Equal(t, DocHash(a), DocHash(b))

		c := document.Document{"_id": "a", "x": float64(2)}
		assert.NotEqual(t, DocHash(a), DocHash(c))
	})
}

func TestShardHashes(t *testing.T) {
	docs := []document.Document{
		{"_id": "a", "_rev": float64(1)},
		{"_id": "b", "_rev": float64(1)},
		{"_id": "c", "_rev": float64(2)},
	}

	t.Run("OrderIndependent", func(t *testing.T) {
		reversed := []document.Document{docs[2], docs[1], docs[0]}
		assert.Equal(t, ShardHashes(docs, 16), ShardHashes(reversed, 16))
	})

	t.Run("SingleChangeFlipsOnlyItsShard", func(t *testing.T) {
		changed := []document.Document{
			docs[0], docs[1],
			{"_id": "c", "_rev": float64(3)},
		}
		before := ShardHashes(docs, 16)
		after := ShardHashes(changed, 16)

		diff := 0
		for i := range before {
			if before[i] != after[i] {
				diff++
				assert.Equal(t, Shard("c", 16), i)
			}
		}
		assert.Equal(t, 1, diff)
	})

	t.Run("IdenticalSetsMatch", func(t *testing.T) {
		assert.Equal(t, ShardHashes(docs, 16), ShardHashes(docs, 16))
	})
}

// serverTransport simulates a sync server holding a document set and
// answering quickfind handshakes with the mismatching shards.
type serverTransport struct {
	docs []document.Document
}

func (s *serverTransport) Do(ctx context.Context, req *remote.Request) (*remote.Response, error) {
	var qreq remote.QuickfindRequest
	if err := codec.Default.Unmarshal(req.Body, &qreq); err != nil {
		return nil, err
	}
	serverHashes := ShardHashes(s.docs, qreq.Shards)

	byShard := make(map[int][]document.Document)
	for _, d := range s.docs {
		idx := Shard(d.ID(), qreq.Shards)
		byShard[idx] = append(byShard[idx], d)
	}

	var resp remote.QuickfindResponse
	for i, h := range serverHashes {
		if i < len(qreq.Hashes) && qreq.Hashes[i] == h {
			continue
		}
		if len(byShard[i]) == 0 && (i >= len(qreq.Hashes) || qreq.Hashes[i] == 0) {
			continue
		}
		resp.Shards = append(resp.Shards, remote.QuickfindShard{Index: i, Docs: byShard[i]})
	}
	body, err := codec.Default.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &remote.Response{Status: 200, Body: body}, nil
}

func TestEngineFetch(t *testing.T) {
	ctx := context.Background()

	base := []document.Document{
		{"_id": "a", "_rev": float64(1), "n": float64(1)},
		{"_id": "b", "_rev": float64(1), "n": float64(2)},
		{"_id": "c", "_rev": float64(1), "n": float64(3)},
	}

	t.Run("IdenticalScopeTransfersNothing", func(t *testing.T) {
		srv := &serverTransport{docs: base}
		client := remote.NewClient(srv, "tasks")
		e := New()

		merged, changed, err := e.Fetch(ctx, client, base, nil, query.Options{})
		require.NoError(t, err)
		assert.Equal(t, 0, changed)
		assert.Len(t, merged, 3)
	})

	t.Run("SingleChangedDocUpdatesOneShard", func(t *testing.T) {
		serverDocs := []document.Document{
			base[0], base[1],
			{"_id": "c", "_rev": float64(2), "n": float64(30)},
		}
		srv := &serverTransport{docs: serverDocs}
		client := remote.NewClient(srv, "tasks")
		e := New()

		merged, changed, err := e.Fetch(ctx, client, base, nil, query.Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, changed)
		require.Len(t, merged, 3)

		byID := make(map[string]document.Document)
		for _, d := range merged {
			byID[d.ID()] = d
		}
		assert.Equal(t, float64(30), byID["c"]["n"])
		assert.Equal(t, float64(1), byID["a"]["n"])
	})

	t.Run("RemovedIDsDropOut", func(t *testing.T) {
		e := New()
		merged := e.merge(base, []remote.QuickfindShard{
			{Index: Shard("b", e.Shards()), Removed: []string{"b"}},
		})
		require.Len(t, merged, 2)
		for _, d := range merged {
			assert.NotEqual(t, "b", d.ID())
		}
	})
}
