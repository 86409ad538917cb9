package mirrordb

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/local"
	"github.com/hupe1980/mirrordb/remote"
)

// UploadFault is one pending change the server rejected.
type UploadFault struct {
	Collection string
	ID         string
	Err        error
}

// UploadReport summarizes one upload cycle. Discarded lists the changes
// abandoned on permission or gone responses; Conflicts lists the changes left
// pending after a concurrent-upsert response, to be retried on the next
// cycle.
type UploadReport struct {
	Upserts   int
	Removes   int
	Discarded []UploadFault
	Conflicts []UploadFault
}

// Upload drains the pending state of every collection through the remote.
// Collections upload concurrently; within a collection, upserts with a base
// go through Patch, baseless ones through Upsert, removals through Remove.
// Server resolutions feed back into the local state. Concurrent Upload calls
// are serialized internally.
func (db *HybridDB) Upload(ctx context.Context) (*UploadReport, error) {
	db.uploadMu.Lock()
	defer db.uploadMu.Unlock()

	report := &UploadReport{}
	var reportMu sync.Mutex

	names := db.localDB.Names()
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return db.uploadCollection(gctx, name, report, &reportMu)
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (db *HybridDB) uploadCollection(ctx context.Context, name string, report *UploadReport, reportMu *sync.Mutex) error {
	start := time.Now()
	lc, err := db.localDB.Collection(ctx, name)
	if err != nil {
		return err
	}
	pending, err := lc.PendingUpserts(ctx)
	if err != nil {
		return err
	}
	removes, err := lc.PendingRemoves(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 && len(removes) == 0 {
		return nil
	}

	client := db.client(name)

	var based, baseless []local.Pending
	for _, p := range pending {
		if p.Base != nil {
			based = append(based, p)
		} else {
			baseless = append(baseless, p)
		}
	}

	var (
		resolutions []local.Resolution
		discarded   []UploadFault
		conflicts   []UploadFault
	)
	handleBatch := func(sent []local.Pending, results []remote.ItemResult) error {
		for i, res := range results {
			id := sent[i].Doc.ID()
			switch {
			case res.Err == nil:
				resolutions = append(resolutions, local.Resolution{Doc: res.Doc, Snapshot: sent[i].Doc})
			case remote.IsDiscard(res.Err):
				if err := lc.DiscardUpsert(ctx, id); err != nil {
					return err
				}
				discarded = append(discarded, UploadFault{Collection: name, ID: id, Err: res.Err})
			case errors.Is(res.Err, remote.ErrConflict):
				conflicts = append(conflicts, UploadFault{Collection: name, ID: id, Err: res.Err})
			default:
				// Auth and validation faults abort the collection's cycle.
				return res.Err
			}
		}
		return nil
	}

	if len(based) > 0 {
		docs := make([]document.Document, len(based))
		bases := make([]document.Document, len(based))
		for i, p := range based {
			docs[i] = p.Doc
			bases[i] = p.Base
		}
		results, err := client.Patch(ctx, docs, bases)
		if err != nil {
			return err
		}
		if err := handleBatch(based, results); err != nil {
			return err
		}
	}
	if len(baseless) > 0 {
		docs := make([]document.Document, len(baseless))
		for i, p := range baseless {
			docs[i] = p.Doc
		}
		results, err := client.Upsert(ctx, docs)
		if err != nil {
			return err
		}
		if err := handleBatch(baseless, results); err != nil {
			return err
		}
	}
	if len(resolutions) > 0 {
		if err := lc.ResolveUpserts(ctx, resolutions); err != nil {
			return err
		}
	}

	removed := 0
	for _, id := range removes {
		err := client.Remove(ctx, id)
		switch {
		case err == nil:
			if err := lc.ResolveRemove(ctx, id); err != nil {
				return err
			}
			removed++
		case remote.IsDiscard(err):
			// The server already lacks the document; the tombstone has
			// nothing left to report.
			if rerr := lc.ResolveRemove(ctx, id); rerr != nil {
				return rerr
			}
			discarded = append(discarded, UploadFault{Collection: name, ID: id, Err: err})
		default:
			return err
		}
	}

	reportMu.Lock()
	report.Upserts += len(resolutions)
	report.Removes += removed
	report.Discarded = append(report.Discarded, discarded...)
	report.Conflicts = append(report.Conflicts, conflicts...)
	reportMu.Unlock()

	db.opts.metricsCollector.RecordUpload(len(pending)+len(removes), len(discarded), len(conflicts), time.Since(start))
	db.opts.logger.LogUpload(ctx, name, len(resolutions), removed, len(discarded), len(conflicts))
	return nil
}
