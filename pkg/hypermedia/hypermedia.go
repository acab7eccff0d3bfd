// Package hypermedia defines the small set of capabilities the poster needs from a
// hypermedia REST client: fetch a resource by URL, follow a named relation to a
// collection, enumerate collection members and create new members.
package hypermedia

import (
	"context"
	"net/http"
)

// Client fetches root resources by URL.
type Client interface {
	Fetch(ctx context.Context, url string, opts ...RequestOption) (Resource, error)
}

// Resource is a remote object whose related resources are discovered through
// named relations rather than fixed URLs.
type Resource interface {
	URL() string
	// Attr returns a top level attribute of the resource representation.
	Attr(name string) (any, bool)
	// String returns a string attribute, or "" when absent or not a string.
	String(name string) string
	Relation(ctx context.Context, rel string, opts ...RequestOption) (Collection, error)
}

// Collection is a resource that holds member resources.
type Collection interface {
	Resource
	Items(ctx context.Context, opts ...RequestOption) ([]Resource, error)
	// Create posts body (a record or a list of records) to the collection.
	Create(ctx context.Context, body any, opts ...RequestOption) (Resource, error)
}

// Credentials decorate outgoing requests. Implementations are opaque to the poster,
// which passes them through unchanged.
type Credentials interface {
	Apply(req *http.Request)
}

// BasicAuth is HTTP basic authentication.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Apply(req *http.Request) {
	req.SetBasicAuth(b.Username, b.Password)
}

// BearerToken sends an Authorization: Bearer header.
type BearerToken string

func (t BearerToken) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+string(t))
}

// RequestOptions is the resolved form of a list of RequestOption.
type RequestOptions struct {
	Auth    Credentials
	NoCache bool
}

type RequestOption func(*RequestOptions)

// WithAuth attaches credentials to the request. A nil value is ignored.
func WithAuth(c Credentials) RequestOption {
	return func(o *RequestOptions) {
		if c != nil {
			o.Auth = c
		}
	}
}

// NoCache keeps the resulting resource out of any client side cache.
func NoCache() RequestOption {
	return func(o *RequestOptions) {
		o.NoCache = true
	}
}

// Apply resolves opts in order.
func Apply(opts ...RequestOption) RequestOptions {
	var o RequestOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
