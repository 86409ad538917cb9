package mirrordb

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/local"
	"github.com/hupe1980/mirrordb/query"
	"github.com/hupe1980/mirrordb/quickfind"
	"github.com/hupe1980/mirrordb/remote"
)

// HybridDB is a local-first mirror of a remote document database. Reads are
// answered from the local store immediately and corrected when the remote
// replies; writes land locally and reach the remote through Upload.
type HybridDB struct {
	opts      options
	localDB   *local.DB
	transport remote.Transport
	qf        *quickfind.Engine

	mu      sync.Mutex
	clients map[string]*remote.Client
	closed  bool

	uploadMu sync.Mutex
}

// New creates a HybridDB over the given transport. A nil transport is
// allowed for offline-only use; remote sub-queries then fail as unavailable
// and the local fallbacks apply.
func New(transport remote.Transport, optFns ...Option) (*HybridDB, error) {
	opts := applyOptions(optFns)

	var dbOpts []func(o *local.DBOptions)
	if opts.storeFactory != nil {
		dbOpts = append(dbOpts, func(o *local.DBOptions) { o.Factory = opts.storeFactory })
	}

	var qfOpts []func(o *quickfind.Options)
	if opts.quickfindShards > 0 {
		qfOpts = append(qfOpts, func(o *quickfind.Options) { o.Shards = opts.quickfindShards })
	}

	return &HybridDB{
		opts:      opts,
		localDB:   local.NewDB(dbOpts...),
		transport: transport,
		qf:        quickfind.New(qfOpts...),
		clients:   make(map[string]*remote.Client),
	}, nil
}

// Local exposes the underlying local database, for direct cache and seed
// management.
func (db *HybridDB) Local() *local.DB { return db.localDB }

// Close closes the local database. In-flight remote replies are dropped.
func (db *HybridDB) Close() error {
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
	return db.localDB.Close()
}

func (db *HybridDB) client(name string) *remote.Client {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.clients[name]; ok {
		return c
	}
	c := remote.NewClient(db.transport, name, func(o *remote.ClientOptions) {
		o.Codec = db.opts.codec
		o.ClientID = db.opts.clientID
		o.Limiter = db.opts.limiter
	})
	db.clients[name] = c
	return c
}

func (db *HybridDB) config(collection string, perCall []QueryConfig) queryConfig {
	layers := make([]QueryConfig, 0, 2+len(perCall))
	layers = append(layers, db.opts.queryDefaults)
	if cfg, ok := db.opts.collectionConfigs[collection]; ok {
		layers = append(layers, cfg)
	}
	layers = append(layers, perCall...)
	return resolveConfig(layers...)
}

// Collection returns a hybrid handle over the named collection.
func (db *HybridDB) Collection(name string) *Collection {
	return &Collection{db: db, name: name}
}

// Collection is a hybrid view of one named document set: local state plus the
// matching remote endpoint.
type Collection struct {
	db   *HybridDB
	name string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Local returns the local collection behind this handle.
func (c *Collection) Local(ctx context.Context) (*local.Collection, error) {
	return c.db.localDB.Collection(ctx, c.name)
}

// Upsert writes documents locally into the pending-upsert state. The change
// reaches the remote on the next Upload.
func (c *Collection) Upsert(ctx context.Context, docs ...document.Document) ([]document.Document, error) {
	lc, err := c.Local(ctx)
	if err != nil {
		return nil, err
	}
	out, err := lc.Upsert(ctx, docs...)
	return out, translateError(err)
}

// UpsertWithBases is Upsert with explicit base snapshots for 3-way merging.
func (c *Collection) UpsertWithBases(ctx context.Context, docs, bases []document.Document) ([]document.Document, error) {
	lc, err := c.Local(ctx)
	if err != nil {
		return nil, err
	}
	out, err := lc.UpsertWithBases(ctx, docs, bases)
	return out, translateError(err)
}

// Remove tombstones a document locally. The removal reaches the remote on the
// next Upload.
func (c *Collection) Remove(ctx context.Context, id string) error {
	lc, err := c.Local(ctx)
	if err != nil {
		return err
	}
	return translateError(lc.Remove(ctx, id))
}

// FindResult is one delivery of a hybrid find. At most two are sent: an
// optional interim local result followed by the confirmed one. A confirmed
// result identical to the delivered interim is elided.
type FindResult struct {
	Docs    []document.Document
	Interim bool
	Err     error
}

// Find runs the hybrid query. The returned channel delivers per the interim
// configuration and then closes. Cancellation of ctx abandons undelivered
// results.
func (c *Collection) Find(ctx context.Context, selector document.Document, opts query.Options, cfg ...QueryConfig) <-chan FindResult {
	ch := make(chan FindResult, 2)
	conf := c.db.config(c.name, cfg)
	go func() {
		defer close(ch)
		c.find(ctx, ch, selector, opts, conf)
	}()
	return ch
}

func (c *Collection) find(ctx context.Context, ch chan<- FindResult, selector document.Document, opts query.Options, conf queryConfig) {
	start := time.Now()
	deliver := func(r FindResult) {
		c.db.opts.metricsCollector.RecordFind(r.Interim, len(r.Docs), time.Since(start), r.Err)
		c.db.opts.logger.LogFind(ctx, c.name, len(r.Docs), r.Interim, r.Err)
		select {
		case ch <- r:
		case <-ctx.Done():
		}
	}

	if _, err := query.Compile(selector); err != nil {
		deliver(FindResult{Err: translateError(err)})
		return
	}
	lc, err := c.Local(ctx)
	if err != nil {
		deliver(FindResult{Err: translateError(err)})
		return
	}

	if conf.interim {
		interim, err := lc.Find(selector, opts).Fetch(ctx)
		if err != nil {
			deliver(FindResult{Err: translateError(err)})
			return
		}
		deliver(FindResult{Docs: interim, Interim: true})

		final, err := c.confirmed(ctx, lc, selector, opts, conf)
		if err != nil {
			deliver(FindResult{Err: translateError(err)})
			return
		}
		if docsEqual(interim, final) {
			return
		}
		deliver(FindResult{Docs: final})
		return
	}

	// Confirmed-only mode still computes the local result concurrently so a
	// transport failure can fall back without a second pass.
	var (
		localDocs []document.Document
		localErr  error
		finalDocs []document.Document
		finalErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		localDocs, localErr = lc.Find(selector, opts).Fetch(gctx)
		return nil
	})
	g.Go(func() error {
		finalDocs, finalErr = c.confirmed(gctx, lc, selector, opts, conf)
		return nil
	})
	_ = g.Wait()

	if finalErr == nil {
		deliver(FindResult{Docs: finalDocs})
		return
	}
	if conf.useLocalOnRemoteError && isRemoteUnavailable(finalErr) && localErr == nil {
		deliver(FindResult{Docs: localDocs})
		return
	}
	deliver(FindResult{Err: translateError(finalErr)})
}

// confirmed fetches the remote result (full query or quickfind handshake),
// reconciles it into the local collection when configured, and returns the
// confirmed document set.
func (c *Collection) confirmed(ctx context.Context, lc *local.Collection, selector document.Document, opts query.Options, conf queryConfig) ([]document.Document, error) {
	remoteDocs, err := c.fetchRemote(ctx, lc, selector, opts, conf)
	if err != nil {
		return nil, err
	}
	if !conf.cacheFind {
		return remoteDocs, nil
	}
	cacheStart := time.Now()
	err = lc.Cache(ctx, remoteDocs, selector, opts)
	c.db.opts.metricsCollector.RecordCache(len(remoteDocs), time.Since(cacheStart), err)
	c.db.opts.logger.LogCache(ctx, c.name, len(remoteDocs), err)
	if err != nil {
		return nil, err
	}
	// Pending local changes shadow the remote answer; re-run over the
	// reconciled state.
	return lc.Find(selector, opts).Fetch(ctx)
}

func (c *Collection) fetchRemote(ctx context.Context, lc *local.Collection, selector document.Document, opts query.Options, conf queryConfig) ([]document.Document, error) {
	client := c.db.client(c.name)
	if !conf.quickfind {
		return client.Query(ctx, selector, opts)
	}

	// Quickfind scope: cached documents narrowed by the same query, without
	// projection so hashes cover full documents.
	cached, err := lc.CachedDocs(ctx)
	if err != nil {
		return nil, err
	}
	compiled, err := query.Compile(selector)
	if err != nil {
		return nil, err
	}
	scopeOpts := opts
	scopeOpts.Fields = nil
	scope, err := query.Process(cached, compiled, scopeOpts)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	merged, changed, err := c.db.qf.Fetch(ctx, client, scope, selector, opts)
	c.db.opts.metricsCollector.RecordQuickfind(c.db.qf.Shards(), changed, time.Since(start), err)
	c.db.opts.logger.LogQuickfind(ctx, c.name, c.db.qf.Shards(), changed, err)
	if err != nil {
		return nil, err
	}
	// Re-impose sort, window and projection over the merged set.
	return query.Process(merged, compiled, opts)
}

// FindOneResult is one delivery of a hybrid findOne. Doc is nil when no
// document matches.
type FindOneResult struct {
	Doc     document.Document
	Interim bool
	Err     error
}

// FindOne runs the hybrid single-document query. An interim delivery never
// carries a nil document: with an empty local result the delivery waits for
// the remote. With Shortcut enabled a local match suppresses the remote call
// entirely.
func (c *Collection) FindOne(ctx context.Context, selector document.Document, opts query.Options, cfg ...QueryConfig) <-chan FindOneResult {
	ch := make(chan FindOneResult, 2)
	conf := c.db.config(c.name, cfg)
	go func() {
		defer close(ch)
		c.findOne(ctx, ch, selector, opts, conf)
	}()
	return ch
}

func (c *Collection) findOne(ctx context.Context, ch chan<- FindOneResult, selector document.Document, opts query.Options, conf queryConfig) {
	start := time.Now()
	deliver := func(r FindOneResult) {
		n := 0
		if r.Doc != nil {
			n = 1
		}
		c.db.opts.metricsCollector.RecordFind(r.Interim, n, time.Since(start), r.Err)
		c.db.opts.logger.LogFind(ctx, c.name, n, r.Interim, r.Err)
		select {
		case ch <- r:
		case <-ctx.Done():
		}
	}

	if _, err := query.Compile(selector); err != nil {
		deliver(FindOneResult{Err: translateError(err)})
		return
	}
	lc, err := c.Local(ctx)
	if err != nil {
		deliver(FindOneResult{Err: translateError(err)})
		return
	}

	localDoc, err := lc.Find(selector, opts).FetchOne(ctx)
	if err != nil {
		deliver(FindOneResult{Err: translateError(err)})
		return
	}

	if conf.shortcut && localDoc != nil {
		deliver(FindOneResult{Doc: localDoc})
		return
	}

	interimSent := false
	if conf.interim && localDoc != nil {
		deliver(FindOneResult{Doc: localDoc, Interim: true})
		interimSent = true
	}

	remoteDoc, err := c.confirmedOne(ctx, lc, selector, opts, conf)
	if err != nil {
		if !interimSent && conf.useLocalOnRemoteError && isRemoteUnavailable(err) {
			deliver(FindOneResult{Doc: localDoc})
			return
		}
		deliver(FindOneResult{Err: translateError(err)})
		return
	}
	if interimSent && document.Equal(localDoc, remoteDoc) {
		return
	}
	deliver(FindOneResult{Doc: remoteDoc})
}

func (c *Collection) confirmedOne(ctx context.Context, lc *local.Collection, selector document.Document, opts query.Options, conf queryConfig) (document.Document, error) {
	oneOpts := opts
	oneOpts.Limit = 1
	docs, err := c.db.client(c.name).Query(ctx, selector, oneOpts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	doc := docs[0]
	if conf.cacheFindOne {
		cacheStart := time.Now()
		err = lc.CacheOne(ctx, doc)
		c.db.opts.metricsCollector.RecordCache(1, time.Since(cacheStart), err)
		if err != nil {
			return nil, err
		}
		// Pending local state wins over the remote answer.
		if fresh, err := lc.Find(selector, oneOpts).FetchOne(ctx); err == nil && fresh != nil {
			return fresh, nil
		}
	}
	return doc, nil
}

func docsEqual(a, b []document.Document) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !document.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
