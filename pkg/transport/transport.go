// Package transport defines how the fetch pipeline talks to the remote
// roster service. The core only depends on the Transport and
// CredentialProvider interfaces; HTTPTransport is the concrete adapter used
// by the proxy binary.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Request kinds issued by the fetcher.
const (
	KindPage = "page"
	KindLogo = "logo"
)

// Request describes a single outbound call.
type Request struct {
	// Kind labels the request for metrics and logs ("page", "logo").
	Kind string

	// Path is the resource path relative to the transport base URL.
	Path string

	// Query holds query parameters.
	Query url.Values
}

// String renders the request as path?query with sorted parameters.
func (r Request) String() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	keys := make([]string, 0, len(r.Query))
	for k := range r.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+r.Query.Get(k))
	}
	return r.Path + "?" + strings.Join(parts, "&")
}

// Response is the raw result of a successful call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport executes requests against the remote service.
//
// Implementations must honour ctx cancellation and deadline, return a
// *StatusError for non-2xx responses, and flag throttling via
// StatusError.Throttled (or ErrRateLimited).
type Transport interface {
	Execute(ctx context.Context, req Request, headers http.Header) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req Request, headers http.Header) (*Response, error)

// Execute calls f.
func (f TransportFunc) Execute(ctx context.Context, req Request, headers http.Header) (*Response, error) {
	return f(ctx, req, headers)
}
