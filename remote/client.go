package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/hupe1980/mirrordb/codec"
	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/query"
)

// maxSelectorURLBytes is the encoded-selector size above which Query switches
// from GET query parameters to the POST find body form.
const maxSelectorURLBytes = 2048

// ItemResult is one entry of a batch upsert/patch reply. Exactly one of Doc
// and Err is set; item faults are independent of their siblings.
type ItemResult struct {
	Doc document.Document
	Err error
}

// QuickfindShard is one mismatching shard of a quickfind reply: the shard's
// full current document set plus the ids it no longer contains.
type QuickfindShard struct {
	Index   int                 `json:"index"`
	Docs    []document.Document `json:"docs"`
	Removed []string            `json:"removed,omitempty"`
}

// QuickfindRequest is the shard-hash handshake payload.
type QuickfindRequest struct {
	Selector document.Document `json:"selector,omitempty"`
	Fields   query.Fields      `json:"fields,omitempty"`
	Sort     query.Sort        `json:"sort,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Shards   int               `json:"shards"`
	Hashes   []uint64          `json:"hashes"`
}

// QuickfindResponse lists the shards whose hash did not match.
type QuickfindResponse struct {
	Shards []QuickfindShard `json:"shards"`
}

// ClientOptions configure a protocol client.
type ClientOptions struct {
	// Codec encodes and decodes wire bodies. Defaults to codec.Default.
	Codec codec.Codec

	// ClientID, when set, is appended as the client query parameter to every
	// request for auth and telemetry correlation.
	ClientID string

	// Limiter throttles outgoing requests. Nil means unlimited.
	Limiter *rate.Limiter
}

// Client is a stateless protocol client for one collection endpoint.
type Client struct {
	transport  Transport
	collection string
	codec      codec.Codec
	clientID   string
	limiter    *rate.Limiter
}

// NewClient creates a client for the named collection over the transport.
func NewClient(transport Transport, collection string, optFns ...func(o *ClientOptions)) *Client {
	opts := ClientOptions{Codec: codec.Default}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	return &Client{
		transport:  transport,
		collection: collection,
		codec:      opts.Codec,
		clientID:   opts.ClientID,
		limiter:    opts.Limiter,
	}
}

// Collection returns the collection name this client is bound to.
func (c *Client) Collection() string { return c.collection }

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) baseQuery() url.Values {
	q := url.Values{}
	if c.clientID != "" {
		q.Set("client", c.clientID)
	}
	return q
}

// Query fetches the documents matching selector under the given options.
func (c *Client) Query(ctx context.Context, selector document.Document, opts query.Options) ([]document.Document, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	selJSON, err := c.codec.Marshal(selector)
	if err != nil {
		return nil, fmt.Errorf("remote: encode selector: %w", err)
	}

	var req *Request
	if len(selJSON) > maxSelectorURLBytes {
		body, err := c.codec.Marshal(findBody{
			Selector: selector,
			Fields:   opts.Fields,
			Sort:     opts.Sort,
			Limit:    opts.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("remote: encode find body: %w", err)
		}
		req = &Request{
			Method: http.MethodPost,
			Path:   c.collection + "/find",
			Query:  c.baseQuery(),
			Body:   body,
		}
	} else {
		q := c.baseQuery()
		q.Set("selector", string(selJSON))
		if len(opts.Fields) > 0 {
			b, err := c.codec.Marshal(opts.Fields)
			if err != nil {
				return nil, fmt.Errorf("remote: encode fields: %w", err)
			}
			q.Set("fields", string(b))
		}
		if len(opts.Sort) > 0 {
			b, err := c.codec.Marshal(opts.Sort)
			if err != nil {
				return nil, fmt.Errorf("remote: encode sort: %w", err)
			}
			q.Set("sort", string(b))
		}
		if opts.Limit > 0 {
			q.Set("limit", strconv.Itoa(opts.Limit))
		}
		req = &Request{Method: http.MethodGet, Path: c.collection, Query: q}
	}

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, c.statusError(resp)
	}
	var docs []document.Document
	if err := c.codec.Unmarshal(resp.Body, &docs); err != nil {
		return nil, fmt.Errorf("remote: decode query response: %w", err)
	}
	return docs, nil
}

type findBody struct {
	Selector document.Document `json:"selector,omitempty"`
	Fields   query.Fields      `json:"fields,omitempty"`
	Sort     query.Sort        `json:"sort,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// Upsert sends documents without bases; the server overwrites or creates and
// returns the merged documents. The result has one entry per input document.
func (c *Client) Upsert(ctx context.Context, docs []document.Document) ([]ItemResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.codec.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("remote: encode upsert body: %w", err)
	}
	resp, err := c.transport.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   c.collection,
		Query:  c.baseQuery(),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	return c.decodeBatch(resp, len(docs))
}

// Patch sends documents paired with their base snapshots; the server performs
// a 3-way merge per item and returns the merged documents. A nil base entry
// requests plain overwrite for that item.
func (c *Client) Patch(ctx context.Context, docs, bases []document.Document) ([]ItemResult, error) {
	if len(bases) != len(docs) {
		return nil, fmt.Errorf("remote: %d bases for %d docs", len(bases), len(docs))
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.codec.Marshal(patchBody{Doc: docs, Base: bases})
	if err != nil {
		return nil, fmt.Errorf("remote: encode patch body: %w", err)
	}
	resp, err := c.transport.Do(ctx, &Request{
		Method: http.MethodPatch,
		Path:   c.collection,
		Query:  c.baseQuery(),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	return c.decodeBatch(resp, len(docs))
}

type patchBody struct {
	Doc  []document.Document `json:"doc"`
	Base []document.Document `json:"base"`
}

// Remove tombstones a document server-side.
func (c *Client) Remove(ctx context.Context, id string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := c.transport.Do(ctx, &Request{
		Method: http.MethodDelete,
		Path:   c.collection + "/" + url.PathEscape(id),
		Query:  c.baseQuery(),
	})
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return c.statusError(resp)
	}
	return nil
}

// Quickfind runs the shard-hash handshake and returns the mismatching shards.
func (c *Client) Quickfind(ctx context.Context, req *QuickfindRequest) (*QuickfindResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("remote: encode quickfind body: %w", err)
	}
	resp, err := c.transport.Do(ctx, &Request{
		Method: http.MethodPost,
		Path:   c.collection + "/quickfind",
		Query:  c.baseQuery(),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, c.statusError(resp)
	}
	var out QuickfindResponse
	if err := c.codec.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("remote: decode quickfind response: %w", err)
	}
	return &out, nil
}

// decodeBatch turns a batch reply into per-item results. A non-200 batch
// status is a whole-batch failure. Array items are either documents or fault
// objects of the form {"error": <status>, "message": <text>}.
func (c *Client) decodeBatch(resp *Response, want int) ([]ItemResult, error) {
	if resp.Status != http.StatusOK {
		return nil, c.statusError(resp)
	}
	var items []document.Document
	if err := c.codec.Unmarshal(resp.Body, &items); err != nil {
		return nil, fmt.Errorf("remote: decode batch response: %w", err)
	}
	if len(items) != want {
		return nil, fmt.Errorf("remote: batch response has %d items, want %d", len(items), want)
	}
	out := make([]ItemResult, len(items))
	for i, item := range items {
		if status, ok := document.AsNumber(item["error"]); ok && item.ID() == "" {
			msg, _ := item["message"].(string)
			out[i] = ItemResult{Err: &StatusError{Status: int(status), Message: msg}}
			continue
		}
		out[i] = ItemResult{Doc: item}
	}
	return out, nil
}

func (c *Client) statusError(resp *Response) error {
	se := &StatusError{Status: resp.Status}
	var payload struct {
		Message string `json:"message"`
	}
	if err := c.codec.Unmarshal(resp.Body, &payload); err == nil {
		se.Message = payload.Message
	}
	return se
}
