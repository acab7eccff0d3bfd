package hal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bmayton/chainpost/pkg/hypermedia"
)

const (
	relSelf       = "self"
	relItems      = "items"
	relNext       = "next"
	relCreateForm = "createForm"
)

var ErrNoRelation = errors.New("hal: relation not found")

// Resource is a decoded HAL representation. It implements both
// hypermedia.Resource and hypermedia.Collection; whether the remote side treats
// it as a collection decides if Items and Create are meaningful.
type Resource struct {
	client   *Client
	url      string
	attrs    map[string]any
	links    Links
	embedded map[string]embeddedList
}

var _ hypermedia.Collection = (*Resource)(nil)

func (c *Client) parse(fallbackURL string, body []byte) (*Resource, error) {
	r := &Resource{client: c, url: fallbackURL, attrs: map[string]any{}}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		// Nothing describes the resource (empty body or a batch answer).
		return r, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode representation: %w", err)
	}
	for k, v := range raw {
		switch k {
		case "_links":
			if err := json.Unmarshal(v, &r.links); err != nil {
				return nil, fmt.Errorf("decode _links: %w", err)
			}
		case "_embedded":
			if err := json.Unmarshal(v, &r.embedded); err != nil {
				return nil, fmt.Errorf("decode _embedded: %w", err)
			}
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return nil, fmt.Errorf("decode %q: %w", k, err)
			}
			r.attrs[k] = val
		}
	}
	if self, ok := r.links.First(relSelf); ok && self.Href != "" {
		r.url = self.Href
	}
	return r, nil
}

func (r *Resource) URL() string {
	return r.url
}

func (r *Resource) Attr(name string) (any, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

func (r *Resource) String(name string) string {
	s, _ := r.attrs[name].(string)
	return s
}

// Links exposes the decoded links.
func (r *Resource) Links() Links {
	return r.links
}

// Relation fetches the resource linked under rel. It is always fetched fresh so
// that collections reflect members created since the last call.
func (r *Resource) Relation(ctx context.Context, rel string, opts ...hypermedia.RequestOption) (hypermedia.Collection, error) {
	link, ok := r.links.First(rel)
	if !ok || link.Href == "" {
		return nil, fmt.Errorf("%w: %q on %s", ErrNoRelation, rel, r.url)
	}
	coll, err := r.client.get(ctx, link.Href, hypermedia.Apply(opts...))
	if err != nil {
		return nil, err
	}
	return coll, nil
}

// Items returns every member of the collection, following next links across
// pages. Embedded members are used as is; linked members are fetched, or served
// from the client cache.
func (r *Resource) Items(ctx context.Context, opts ...hypermedia.RequestOption) ([]hypermedia.Resource, error) {
	o := hypermedia.Apply(opts...)
	var out []hypermedia.Resource
	seen := map[string]bool{}

	page := r
	for page != nil {
		seen[page.url] = true

		members, err := page.pageItems(ctx, o)
		if err != nil {
			return nil, err
		}
		out = append(out, members...)

		next, ok := page.links.First(relNext)
		if !ok || next.Href == "" || seen[next.Href] {
			break
		}
		page, err = r.client.get(ctx, next.Href, o)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Resource) pageItems(ctx context.Context, o hypermedia.RequestOptions) ([]hypermedia.Resource, error) {
	if embedded, ok := r.embedded[relItems]; ok {
		out := make([]hypermedia.Resource, 0, len(embedded))
		for _, raw := range embedded {
			m, err := r.client.parse("", raw)
			if err != nil {
				return nil, fmt.Errorf("embedded item of %s: %w", r.url, err)
			}
			r.client.remember(m, o)
			out = append(out, m)
		}
		return out, nil
	}

	links := r.links[relItems]
	out := make([]hypermedia.Resource, 0, len(links))
	for _, l := range links {
		if l.Href == "" {
			continue
		}
		m, err := r.client.member(ctx, l.Href, o)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Create posts body to the collection's createForm (or to the collection itself
// when no form is advertised) and returns the created resource.
func (r *Resource) Create(ctx context.Context, body any, opts ...hypermedia.RequestOption) (hypermedia.Resource, error) {
	o := hypermedia.Apply(opts...)

	target := r.url
	if form, ok := r.links.First(relCreateForm); ok && form.Href != "" {
		target = form.Href
	}

	data, header, err := r.client.do(ctx, http.MethodPost, target, body, o)
	if err != nil {
		return nil, err
	}

	fallback := target
	if loc := header.Get("Location"); loc != "" {
		fallback = loc
	}
	created, err := r.client.parse(fallback, data)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", target, err)
	}
	if fallback != target || created.url != target {
		r.client.remember(created, o)
	}
	return created, nil
}
