// Package quickfind implements the shard-hash diff handshake that lets a
// client holding a mostly current cache skip transferring unchanged result
// sets. Ids are partitioned into a fixed number of shards by FNV-1a; each
// shard's membership is folded into one order-independent hash; the server
// returns full contents only for shards whose hash differs.
//
// The partition and hash functions are a wire contract: both ends must
// compute them identically across versions.
package quickfind

import (
	"context"
	"hash/fnv"
	"io"
	"strconv"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/query"
	"github.com/hupe1980/mirrordb/remote"
)

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 16

// Shard returns the shard index for a document id under an n-shard partition.
func Shard(id string, n int) int {
	h := fnv.New32a()
	io.WriteString(h, id) //nolint:errcheck // hash writes never fail
	return int(h.Sum32() % uint32(n))
}

// DocHash returns the per-document hash folded into its shard's hash. The
// revision marker stands in for the full document when present, so servers
// need not re-encode unchanged documents.
func DocHash(doc document.Document) uint64 {
	h := fnv.New64a()
	io.WriteString(h, doc.ID()) //nolint:errcheck
	h.Write([]byte{0})          //nolint:errcheck
	if rev, ok := doc.Rev(); ok {
		io.WriteString(h, strconv.FormatFloat(rev, 'g', -1, 64)) //nolint:errcheck
	} else {
		io.WriteString(h, document.Canonical(doc)) //nolint:errcheck
	}
	return h.Sum64()
}

// ShardHashes folds the documents into n per-shard hashes. The fold is XOR,
// so shard hashes are independent of document order.
func ShardHashes(docs []document.Document, n int) []uint64 {
	hashes := make([]uint64, n)
	for _, d := range docs {
		hashes[Shard(d.ID(), n)] ^= DocHash(d)
	}
	return hashes
}

// Options configure an Engine.
type Options struct {
	// Shards is the partition width. Defaults to DefaultShards.
	Shards int
}

// Engine runs the quickfind handshake for one query and merges the reply
// into the locally cached scope.
type Engine struct {
	shards int
}

// New creates an engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{Shards: DefaultShards}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	return &Engine{shards: opts.Shards}
}

// Shards returns the configured partition width.
func (e *Engine) Shards() int { return e.shards }

// Fetch performs the handshake against client for the given query scope.
// local is the locally cached result for the same selector and options. It
// returns the merged document set plus the number of shards the server
// reported as changed; zero changed shards means the local scope was already
// current.
func (e *Engine) Fetch(ctx context.Context, client *remote.Client, local []document.Document, selector document.Document, opts query.Options) ([]document.Document, int, error) {
	resp, err := client.Quickfind(ctx, &remote.QuickfindRequest{
		Selector: selector,
		Fields:   opts.Fields,
		Sort:     opts.Sort,
		Limit:    opts.Limit,
		Shards:   e.shards,
		Hashes:   ShardHashes(local, e.shards),
	})
	if err != nil {
		return nil, 0, err
	}
	return e.merge(local, resp.Shards), len(resp.Shards), nil
}

// merge replaces the membership of each changed shard with the server's
// documents, drops ids the server no longer has, and keeps every unchanged
// shard as-is from the local scope.
func (e *Engine) merge(local []document.Document, changed []remote.QuickfindShard) []document.Document {
	if len(changed) == 0 {
		return local
	}
	replaced := make(map[int]struct{}, len(changed))
	removed := make(map[string]struct{})
	for _, s := range changed {
		replaced[s.Index] = struct{}{}
		for _, id := range s.Removed {
			removed[id] = struct{}{}
		}
	}

	out := make([]document.Document, 0, len(local))
	for _, d := range local {
		id := d.ID()
		if _, gone := removed[id]; gone {
			continue
		}
		if _, ok := replaced[Shard(id, e.shards)]; ok {
			continue
		}
		out = append(out, d)
	}
	for _, s := range changed {
		for _, d := range s.Docs {
			if _, gone := removed[d.ID()]; gone {
				continue
			}
			out = append(out, d)
		}
	}
	return out
}
