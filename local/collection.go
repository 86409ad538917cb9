// Package local implements the client-side document set: a per-collection
// lifecycle state machine over a storage adapter, the database registry that
// owns collections, and a best-effort replicating mirror.
//
// Every document id is in exactly one of three states: cached (read-only
// snapshot from the remote), upserted (local change pending upload, with an
// optional base snapshot for 3-way merging), or removed (tombstone pending
// upload). All state transitions are computed atomically per collection, with
// adapter I/O as the only suspension point; a failed persist leaves the
// collection in its pre-operation state.
package local

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/query"
	"github.com/hupe1980/mirrordb/store"
)

// Pending is one entry of the pending-upsert set: the locally modified
// document and the base snapshot it was derived from (nil base means
// force-overwrite on upload).
type Pending struct {
	Doc  document.Document
	Base document.Document
}

// Resolution reports the outcome of uploading one pending upsert. Doc is the
// server-resolved document; Snapshot is the pending document value that was
// uploaded to produce it.
type Resolution struct {
	Doc      document.Document
	Snapshot document.Document
}

// Collection is a single named document set over one storage adapter.
type Collection struct {
	name string
	st   store.Store

	mu      sync.Mutex
	entries map[string]store.Entry
	loaded  bool
}

// NewCollection creates a collection over the given adapter.
func NewCollection(name string, st store.Store) (*Collection, error) {
	if st == nil {
		return nil, ErrMissingAdapter
	}
	return &Collection{name: name, st: st, entries: make(map[string]store.Entry)}, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Close releases the storage adapter.
func (c *Collection) Close() error { return c.st.Close() }

func (c *Collection) ensureLoaded(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	entries, err := c.st.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		c.entries[e.ID] = e
	}
	c.loaded = true
	return nil
}

// commit persists staged writes and only then applies them to memory, so an
// adapter failure leaves the collection in its pre-operation state.
func (c *Collection) commit(ctx context.Context, puts []store.Entry, dels []string) error {
	if len(puts) == 0 && len(dels) == 0 {
		return nil
	}
	if err := c.st.Persist(ctx, puts, dels); err != nil {
		return err
	}
	for _, e := range puts {
		c.entries[e.ID] = e
	}
	for _, id := range dels {
		delete(c.entries, id)
	}
	return nil
}

// Query is a lazy find handle. Building it performs no work; Fetch compiles
// the selector and runs the query pipeline over the materialized set.
type Query struct {
	c        *Collection
	selector document.Document
	opts     query.Options
}

// Find returns a lazy query handle. It never blocks writers.
func (c *Collection) Find(selector document.Document, opts query.Options) *Query {
	return &Query{c: c, selector: selector, opts: opts}
}

// Fetch executes the query and returns matching documents. Results are
// deep copies; callers may mutate them freely.
func (q *Query) Fetch(ctx context.Context) ([]document.Document, error) {
	compiled, err := query.Compile(q.selector)
	if err != nil {
		return nil, err
	}
	docs, err := q.c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out, err := query.Process(docs, compiled, q.opts)
	if err != nil {
		return nil, err
	}
	for i, d := range out {
		out[i] = d.Clone()
	}
	return out, nil
}

// FetchOne executes the query and returns the first match, or nil.
func (q *Query) FetchOne(ctx context.Context) (document.Document, error) {
	limited := *q
	if limited.opts.Limit <= 0 {
		limited.opts.Limit = 1
	}
	docs, err := limited.Fetch(ctx)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// snapshot returns the live documents (cached and upserted states).
func (c *Collection) snapshot(ctx context.Context) ([]document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	docs := make([]document.Document, 0, len(c.entries))
	for _, e := range c.entries {
		if e.State == store.StateRemoved {
			continue
		}
		docs = append(docs, e.Doc)
	}
	return docs, nil
}

// CachedDocs returns the cached-state documents only, excluding pending
// local changes. Quickfind hashes are computed over this set so that pending
// edits do not permanently desynchronize shard hashes.
func (c *Collection) CachedDocs(ctx context.Context) ([]document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	var docs []document.Document
	for _, e := range c.entries {
		if e.State == store.StateCached {
			docs = append(docs, e.Doc)
		}
	}
	return docs, nil
}

// Upsert writes documents into the upserted state without supplying bases:
// a document upserted over a cached entry captures the cached value as its
// base, and a repeated upsert keeps the original base so the server can
// still merge against the true starting point. Documents lacking an id get
// one assigned. The returned documents carry the assigned ids.
func (c *Collection) Upsert(ctx context.Context, docs ...document.Document) ([]document.Document, error) {
	return c.upsert(ctx, docs, nil, false)
}

// UpsertWithBases is Upsert with caller-supplied bases, paired by index.
// A nil base element requests force-overwrite semantics on upload.
func (c *Collection) UpsertWithBases(ctx context.Context, docs, bases []document.Document) ([]document.Document, error) {
	if len(bases) != len(docs) {
		return nil, &ErrBaseCountMismatch{Docs: len(docs), Bases: len(bases)}
	}
	return c.upsert(ctx, docs, bases, true)
}

func (c *Collection) upsert(ctx context.Context, docs, bases []document.Document, hasBases bool) ([]document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	out := make([]document.Document, len(docs))
	puts := make([]store.Entry, 0, len(docs))
	for i, d := range docs {
		doc := d.Clone()
		id := doc.EnsureID()
		out[i] = doc

		var supplied document.Document
		if hasBases {
			supplied = bases[i]
			if supplied != nil && supplied.ID() != id {
				return nil, &ErrBaseIDMismatch{DocID: id, BaseID: supplied.ID()}
			}
		}

		existing, ok := c.entries[id]
		var base document.Document
		switch {
		case ok && existing.State == store.StateUpserted && existing.Base != nil:
			// A pending upsert already recorded its starting point; keep it.
			base = existing.Base
		case hasBases:
			base = supplied.Clone()
		case ok && existing.State == store.StateCached:
			base = existing.Doc
		}

		puts = append(puts, store.Entry{
			ID:    id,
			State: store.StateUpserted,
			Doc:   doc.Clone(),
			Base:  base,
		})
	}
	if err := c.commit(ctx, puts, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Remove tombstones an id. A pending upsert for the id is dropped along with
// its base; removing an already-removed id is a no-op.
func (c *Collection) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	if e, ok := c.entries[id]; ok && e.State == store.StateRemoved {
		return nil
	}
	return c.commit(ctx, []store.Entry{{ID: id, State: store.StateRemoved}}, nil)
}

// Cache reconciles a remote query result against the cached entries matching
// the same selector/options window: it adds or updates entries not shadowed
// by pending local state, and evicts previously cached entries that fell out
// of the result window. The revision invariant applies to every write: a
// stored document with a strictly newer revision is never overwritten.
func (c *Collection) Cache(ctx context.Context, docs []document.Document, selector document.Document, opts query.Options) error {
	compiled, err := query.Compile(selector)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}

	incoming := make(map[string]struct{}, len(docs))
	var puts []store.Entry
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			continue
		}
		incoming[id] = struct{}{}
		if e := c.stageCached(doc); e != nil {
			puts = append(puts, *e)
		}
	}

	// Stale eviction. With a limit, staleness is only provable for the part
	// of the sort order the result actually covered: when the result fills
	// the limit, evict only entries sorting at-or-before the last returned
	// document; without a sort nothing is provably stale.
	evictAll := opts.Limit <= 0 || len(docs) < opts.Limit
	var cmp query.Comparator
	var last document.Document
	if !evictAll && len(opts.Sort) > 0 && len(docs) > 0 {
		cmp = query.CompileSort(opts.Sort)
		last = docs[len(docs)-1]
	}

	var dels []string
	for id, e := range c.entries {
		if e.State != store.StateCached {
			continue
		}
		if _, ok := incoming[id]; ok {
			continue
		}
		if !compiled.Match(e.Doc) {
			continue
		}
		if evictAll || (cmp != nil && cmp(e.Doc, last) <= 0) {
			dels = append(dels, id)
		}
	}
	return c.commit(ctx, puts, dels)
}

// CacheOne writes a single server-sourced document into the cached state,
// honoring pending-state precedence and the revision invariant.
func (c *Collection) CacheOne(ctx context.Context, doc document.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	if e := c.stageCached(doc); e != nil {
		return c.commit(ctx, []store.Entry{*e}, nil)
	}
	return nil
}

// stageCached returns a cached-state entry for doc, or nil when the write
// must be discarded (pending state wins, or the stored revision is newer).
func (c *Collection) stageCached(doc document.Document) *store.Entry {
	id := doc.ID()
	if id == "" {
		return nil
	}
	if e, ok := c.entries[id]; ok {
		if e.State != store.StateCached {
			return nil
		}
		if document.NewerRev(e.Doc, doc) {
			return nil
		}
	}
	return &store.Entry{ID: id, State: store.StateCached, Doc: doc.Clone()}
}

// Seed inserts documents only for ids with no existing entry in any state.
func (c *Collection) Seed(ctx context.Context, docs ...document.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	var puts []store.Entry
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			continue
		}
		if _, ok := c.entries[id]; ok {
			continue
		}
		puts = append(puts, store.Entry{ID: id, State: store.StateCached, Doc: doc.Clone()})
	}
	return c.commit(ctx, puts, nil)
}

// Uncache deletes cached entries matching the selector. Entries with pending
// upserts or tombstones are never touched.
func (c *Collection) Uncache(ctx context.Context, selector document.Document) error {
	compiled, err := query.Compile(selector)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	var dels []string
	for id, e := range c.entries {
		if e.State == store.StateCached && compiled.Match(e.Doc) {
			dels = append(dels, id)
		}
	}
	return c.commit(ctx, nil, dels)
}

// PendingUpserts returns the pending-upsert set as deep copies.
func (c *Collection) PendingUpserts(ctx context.Context) ([]Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	var out []Pending
	for _, e := range c.entries {
		if e.State == store.StateUpserted {
			out = append(out, Pending{Doc: e.Doc.Clone(), Base: e.Base.Clone()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Doc.ID() < out[j].Doc.ID() })
	return out, nil
}

// PendingRemoves returns the tombstoned ids.
func (c *Collection) PendingRemoves(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	var out []string
	for id, e := range c.entries {
		if e.State == store.StateRemoved {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ResolveUpserts applies server resolutions to pending upserts. If the
// stored pending document still equals the uploaded snapshot the entry
// becomes cached(Doc); otherwise a newer local upsert raced the upload, so
// only the stored base advances to the server-resolved document and the
// pending value stays untouched for the next round.
func (c *Collection) ResolveUpserts(ctx context.Context, resolutions []Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	var puts []store.Entry
	for _, res := range resolutions {
		id := res.Doc.ID()
		if id == "" {
			id = res.Snapshot.ID()
		}
		e, ok := c.entries[id]
		if !ok || e.State != store.StateUpserted {
			continue
		}
		if document.Equal(e.Doc, res.Snapshot) {
			puts = append(puts, store.Entry{ID: id, State: store.StateCached, Doc: res.Doc.Clone()})
		} else {
			puts = append(puts, store.Entry{ID: id, State: store.StateUpserted, Doc: e.Doc, Base: res.Doc.Clone()})
		}
	}
	return c.commit(ctx, puts, nil)
}

// ResolveRemove purges a tombstone entirely. No-op if the id is not
// tombstoned.
func (c *Collection) ResolveRemove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	if e, ok := c.entries[id]; !ok || e.State != store.StateRemoved {
		return nil
	}
	return c.commit(ctx, nil, []string{id})
}

// DiscardUpsert drops a pending upsert without resolving it against a server
// value; the local change is abandoned. Used when the server reports the
// change as not permitted or already gone.
func (c *Collection) DiscardUpsert(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(ctx); err != nil {
		return err
	}
	if e, ok := c.entries[id]; !ok || e.State != store.StateUpserted {
		return nil
	}
	return c.commit(ctx, nil, []string{id})
}
