// Package jina wraps the Jina AI Reader (r.jina.ai) and Search (s.jina.ai)
// endpoints. The reader renders JavaScript-heavy obituary pages to markdown;
// search backs the obituary-site adapter.
package jina

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client is the Jina surface the enrichment pipeline consumes.
type Client interface {
	// Read renders targetURL to markdown through the Jina reader.
	Read(ctx context.Context, targetURL string) (*ReadResponse, error)
	// Search runs a web search and returns ranked results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the reader endpoint's JSON envelope.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData carries the rendered page.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	Usage   ReadUsage `json:"usage"`
}

// ReadUsage reports the tokens Jina billed for the render.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the search endpoint's JSON envelope.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption adjusts a single search call.
type SearchOption func(*searchParams)

type searchParams struct {
	site string
}

// WithSiteFilter limits results to one domain, e.g. "legacy.com".
func WithSiteFilter(domain string) SearchOption {
	return func(p *searchParams) { p.site = domain }
}

// Option adjusts client construction.
type Option func(*client)

// WithBaseURL overrides the reader endpoint.
func WithBaseURL(u string) Option {
	return func(c *client) { c.readBase = u }
}

// WithSearchBaseURL overrides the search endpoint.
func WithSearchBaseURL(u string) Option {
	return func(c *client) { c.searchBase = u }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

type client struct {
	key        string
	readBase   string
	searchBase string
	http       *http.Client
}

// NewClient builds a Client pointed at the production Jina endpoints.
func NewClient(apiKey string, opts ...Option) Client {
	c := &client{
		key:        apiKey,
		readBase:   "https://r.jina.ai",
		searchBase: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) Read(ctx context.Context, targetURL string) (*ReadResponse, error) {
	headers := http.Header{}
	headers.Set("X-Return-Format", "markdown")

	body, status, err := c.get(ctx, c.readBase+"/"+targetURL, headers)
	if err != nil {
		return nil, eris.Wrap(err, "jina: read")
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("jina: read status %d: %s", status, string(body))
	}

	var out ReadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: decode read response")
	}
	zap.L().Debug("jina read",
		zap.String("url", targetURL),
		zap.Int("tokens", out.Data.Usage.Tokens))
	return &out, nil
}

func (c *client) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	var p searchParams
	for _, opt := range opts {
		opt(&p)
	}

	reqURL := c.searchBase + "/" + url.QueryEscape(query)
	if p.site != "" {
		reqURL += "?site=" + url.QueryEscape(p.site)
	}

	body, status, err := c.get(ctx, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search")
	}
	// 422 means the query produced no results; callers treat that as empty.
	if status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: http.StatusUnprocessableEntity}, nil
	}
	if status != http.StatusOK {
		return nil, eris.Errorf("jina: search status %d: %s", status, string(body))
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "jina: decode search response")
	}
	return &out, nil
}

// transient reports whether a status code is worth another attempt.
func transient(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	}
	return false
}

// get issues an authorized GET with up to three attempts, doubling the
// backoff between each. Transport errors and transient status codes retry;
// anything else returns immediately with the body for the caller to report.
func (c *client) get(ctx context.Context, reqURL string, headers http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "jina: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	const attempts = 3
	wait := time.Second

	var lastErr error
	for i := 1; i <= attempts; i++ {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, resp.StatusCode, eris.Wrap(readErr, "jina: read body")
			}
			if !transient(resp.StatusCode) || i == attempts {
				return body, resp.StatusCode, nil
			}
			lastErr = eris.Errorf("jina: status %d: %s", resp.StatusCode, string(body))
		}

		if i < attempts {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
	}
	return nil, 0, lastErr
}
