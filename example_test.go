package mirrordb_test

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/hupe1980/mirrordb"
	"github.com/hupe1980/mirrordb/codec"
	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/query"
	"github.com/hupe1980/mirrordb/remote"
)

// scriptedTransport answers queries with a fixed document set and echoes
// uploaded documents back with a server revision, standing in for a real
// sync server.
type scriptedTransport struct {
	docs []document.Document
}

func (s *scriptedTransport) Do(ctx context.Context, req *remote.Request) (*remote.Response, error) {
	switch req.Method {
	case http.MethodPost, http.MethodPatch:
		var docs []document.Document
		if req.Method == http.MethodPatch {
			var body struct {
				Doc []document.Document `json:"doc"`
			}
			if err := codec.Default.Unmarshal(req.Body, &body); err != nil {
				return nil, err
			}
			docs = body.Doc
		} else if err := codec.Default.Unmarshal(req.Body, &docs); err != nil {
			return nil, err
		}
		out := make([]document.Document, len(docs))
		for i, d := range docs {
			merged := d.Clone()
			merged["_rev"] = float64(1)
			out[i] = merged
		}
		body, _ := codec.Default.Marshal(out)
		return &remote.Response{Status: http.StatusOK, Body: body}, nil
	case http.MethodDelete:
		return &remote.Response{Status: http.StatusOK}, nil
	default:
		body, _ := codec.Default.Marshal(s.docs)
		return &remote.Response{Status: http.StatusOK, Body: body}, nil
	}
}

// Example_find demonstrates the two-phase delivery of a hybrid query: the
// local answer arrives first, the server-confirmed answer follows.
func Example_find() {
	ctx := context.Background()

	transport := &scriptedTransport{docs: []document.Document{
		{"_id": "t1", "_rev": float64(1), "title": "write docs", "done": false},
	}}
	db, err := mirrordb.New(transport)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tasks := db.Collection("tasks")
	for res := range tasks.Find(ctx, document.Document{"done": false}, query.Options{}) {
		if res.Err != nil {
			log.Fatal(res.Err)
		}
		label := "confirmed"
		if res.Interim {
			label = "interim"
		}
		fmt.Printf("%s: %d document(s)\n", label, len(res.Docs))
	}
	// Output:
	// interim: 0 document(s)
	// confirmed: 1 document(s)
}

// Example_offline demonstrates that writes queue locally without a remote.
func Example_offline() {
	ctx := context.Background()

	db, err := mirrordb.New(nil) // offline-only
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tasks := db.Collection("tasks")
	if _, err := tasks.Upsert(ctx, document.Document{"title": "buy milk"}); err != nil {
		log.Fatal(err)
	}

	lc, err := tasks.Local(ctx)
	if err != nil {
		log.Fatal(err)
	}
	pending, err := lc.PendingUpserts(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("pending upserts: %d\n", len(pending))
	// Output: pending upserts: 1
}

// Example_upload demonstrates draining the pending state to the server.
func Example_upload() {
	ctx := context.Background()

	db, err := mirrordb.New(&scriptedTransport{})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	tasks := db.Collection("tasks")
	if _, err := tasks.Upsert(ctx, document.Document{"_id": "t1", "title": "ship it"}); err != nil {
		log.Fatal(err)
	}

	report, err := db.Upload(ctx)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("uploaded %d upsert(s), %d conflict(s)\n", report.Upserts, len(report.Conflicts))
	// Output: uploaded 1 upsert(s), 0 conflict(s)
}

// Example_queryConfig demonstrates per-call tuning of the hybrid behavior.
func Example_queryConfig() {
	ctx := context.Background()

	db, err := mirrordb.New(&scriptedTransport{docs: []document.Document{
		{"_id": "t1", "_rev": float64(1), "title": "write docs"},
	}})
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// Confirmed-only: a single delivery, no interim result.
	tasks := db.Collection("tasks")
	for res := range tasks.Find(ctx, nil, query.Options{}, mirrordb.QueryConfig{
		Interim: mirrordb.Bool(false),
	}) {
		if res.Err != nil {
			log.Fatal(res.Err)
		}
		fmt.Printf("deliveries carry %d document(s)\n", len(res.Docs))
	}
	// Output: deliveries carry 1 document(s)
}
