// Package remote implements the stateless protocol client for one collection
// endpoint of a sync server: query, upsert, patch, remove and the quickfind
// handshake, over a pluggable transport.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request is one protocol call: method, collection-relative path, query
// parameters and an optional JSON body.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Response is the raw protocol reply.
type Response struct {
	Status int
	Body   []byte
}

// Transport carries requests to the sync server. Implementations return an
// error only for transport-level failures; protocol-level failures come back
// as a Response with a non-success status.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransportOptions configure the HTTP transport.
type HTTPTransportOptions struct {
	// HTTPClient is the underlying client. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// Header is attached to every request, for example an Authorization
	// header.
	Header http.Header
}

// HTTPTransport sends requests to an HTTP sync server.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	header  http.Header
}

// NewHTTPTransport creates a transport rooted at baseURL.
func NewHTTPTransport(baseURL string, optFns ...func(o *HTTPTransportOptions)) *HTTPTransport {
	opts := HTTPTransportOptions{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.HTTPClient,
		header:  opts.Header,
	}
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	u := t.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	for k, vs := range t.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote: request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: read response body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Body: body}, nil
}
