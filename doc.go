// Package mirrordb provides an embeddable, local-first mirror of a remote
// document database for Go.
//
// Every read is answered immediately from a local store and corrected once
// the remote replies; every write lands locally first and is pushed to the
// remote in explicit upload cycles. The result is an application that stays
// fully responsive offline and converges when connectivity returns.
//
// # Quick Start
//
//	ctx := context.Background()
//	transport := remote.NewHTTPTransport("https://sync.example.com/api")
//	db, _ := mirrordb.New(transport)
//	defer db.Close()
//
//	tasks := db.Collection("tasks")
//	tasks.Upsert(ctx, document.Document{"title": "write report", "done": false})
//
//	for res := range tasks.Find(ctx, document.Document{"done": false}, query.Options{}) {
//	    if res.Err != nil {
//	        log.Fatal(res.Err)
//	    }
//	    render(res.Docs, res.Interim)
//	}
//
//	db.Upload(ctx) // push pending changes
//
// # Delivery Model
//
// Find delivers up to twice per call: an interim result computed from local
// state, then a confirmed result once the remote has answered and its
// documents are reconciled into the local cache. A confirmed result identical
// to the interim one is elided. FindOne follows the same duality but never
// delivers an interim miss.
//
// # Durability
//
// Local state lives behind a pluggable storage adapter. In-memory,
// append-only log, bbolt and sqlite adapters ship in the store packages:
//
//	db, _ := mirrordb.New(transport,
//	    mirrordb.WithStoreFactory(func(ctx context.Context, name string) (store.Store, error) {
//	        return store.NewLog(store.LogPath("./data", name))
//	    }))
//
// # Key Features
//
//   - Mongo-style selectors with geospatial operators ($near, $geoIntersects)
//   - Three-state document lifecycle with base snapshots for 3-way merges
//   - Quickfind shard-hash handshake to skip transferring unchanged results
//   - Per-collection and per-call query configuration
//   - Best-effort replicating mirror for paired fast/durable stores
package mirrordb
