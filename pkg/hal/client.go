// Package hal is a HAL+JSON implementation of the hypermedia capabilities used by
// chainpost, speaking the dialect of the Chain API: relations under _links,
// collection members under items, paging through next and creation through
// createForm.
package hal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/bmayton/chainpost/pkg/hypermedia"
)

const (
	mediaType        = "application/hal+json"
	defaultTimeout   = 10 * time.Second
	defaultCacheSize = 1000
	maxErrorBody     = 512
)

// StatusError is returned for non-2xx answers that are not gateway errors.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client talks HAL+JSON over HTTP. Member resources are cached by href; a Client
// must be closed to release the cache.
type Client struct {
	httpClient *http.Client
	cache      *ristretto.Cache
	logger     *slog.Logger
	userAgent  string
	cacheSize  int64
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithCacheSize bounds the number of cached member resources. Zero or less
// disables caching.
func WithCacheSize(n int) Option {
	return func(c *Client) { c.cacheSize = int64(n) }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a Client.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		userAgent:  "chainpost",
		cacheSize:  defaultCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: c.cacheSize * 10,
			MaxCost:     c.cacheSize,
			BufferItems: 64,
			// Every entry costs 1 so MaxCost is an item count.
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Close releases the resource cache.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// Fetch retrieves the resource at url. It never answers from the cache.
func (c *Client) Fetch(ctx context.Context, url string, opts ...hypermedia.RequestOption) (hypermedia.Resource, error) {
	r, err := c.get(ctx, url, hypermedia.Apply(opts...))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (c *Client) get(ctx context.Context, url string, o hypermedia.RequestOptions) (*Resource, error) {
	body, _, err := c.do(ctx, http.MethodGet, url, nil, o)
	if err != nil {
		return nil, err
	}
	r, err := c.parse(url, body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	return r, nil
}

// member returns the resource at href, from the cache when possible.
func (c *Client) member(ctx context.Context, href string, o hypermedia.RequestOptions) (*Resource, error) {
	if c.cache != nil {
		if v, ok := c.cache.Get(href); ok {
			c.logger.Debug("hal: cache hit", "url", href)
			return v.(*Resource), nil
		}
	}
	r, err := c.get(ctx, href, o)
	if err != nil {
		return nil, err
	}
	c.remember(r, o)
	return r, nil
}

func (c *Client) remember(r *Resource, o hypermedia.RequestOptions) {
	if c.cache == nil || o.NoCache || r.url == "" {
		return
	}
	c.cache.Set(r.url, r, 1)
	// Make the entry visible to the next Get.
	c.cache.Wait()
}

func (c *Client) do(ctx context.Context, method, url string, payload any, o hypermedia.RequestOptions) ([]byte, http.Header, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("%s %s: marshal body: %w", method, url, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	req.Header.Set("Accept", mediaType+", application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if o.Auth != nil {
		o.Auth.Apply(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &hypermedia.ConnectionError{Op: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &hypermedia.ConnectionError{Op: method, URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("hal: request",
		"method", method,
		"url", url,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, resp.Header, nil
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, nil, &hypermedia.ConnectionError{Op: method, URL: url, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, nil, &StatusError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(body)),
		}
	}
}
