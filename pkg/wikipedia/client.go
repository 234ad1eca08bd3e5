// Package wikipedia provides a client for the English Wikipedia REST and
// action APIs.
package wikipedia

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL   = "https://en.wikipedia.org"
	defaultUserAgent = "deadonfilm/1.0 (https://deadonfilm.com; admin@deadonfilm.com)"
	defaultLimit     = 5
)

// Client performs Wikipedia lookups.
type Client interface {
	// Search finds pages matching the query.
	Search(ctx context.Context, query string, limit int) ([]SearchPage, error)
	// Summary fetches the lead summary of a page by title. Returns
	// (nil, nil) when the page does not exist.
	Summary(ctx context.Context, title string) (*PageSummary, error)
	// Extract fetches the full plain-text extract of a page by title.
	// Returns "" when the page does not exist.
	Extract(ctx context.Context, title string) (string, error)
}

// SearchPage is a single search result from the REST search API.
type SearchPage struct {
	ID          int    `json:"id"`
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Excerpt     string `json:"excerpt"`
}

type searchResponse struct {
	Pages []SearchPage `json:"pages"`
}

// PageSummary is the REST page summary.
type PageSummary struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// URL returns the canonical desktop URL of the page.
func (s *PageSummary) URL() string {
	return s.ContentURLs.Desktop.Page
}

type extractResponse struct {
	Query struct {
		Pages []struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
			Missing bool   `json:"missing"`
		} `json:"pages"`
	} `json:"query"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wikipedia: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates a Wikipedia client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, limit int) ([]SearchPage, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))

	body, status, err := c.get(ctx, c.baseURL+"/w/rest.php/v1/search/page?"+q.Encode())
	if err != nil {
		return nil, eris.Wrap(err, "wikipedia: search")
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "wikipedia: unmarshal search response")
	}
	return result.Pages, nil
}

func (c *httpClient) Summary(ctx context.Context, title string) (*PageSummary, error) {
	body, status, err := c.get(ctx, c.baseURL+"/api/rest_v1/page/summary/"+pathTitle(title))
	if err != nil {
		return nil, eris.Wrap(err, "wikipedia: summary")
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	var result PageSummary
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "wikipedia: unmarshal summary response")
	}
	return &result, nil
}

func (c *httpClient) Extract(ctx context.Context, title string) (string, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("prop", "extracts")
	q.Set("explaintext", "1")
	q.Set("redirects", "1")
	q.Set("titles", title)

	body, status, err := c.get(ctx, c.baseURL+"/w/api.php?"+q.Encode())
	if err != nil {
		return "", eris.Wrap(err, "wikipedia: extract")
	}
	if status != http.StatusOK {
		return "", &APIError{StatusCode: status, Body: string(body)}
	}

	var result extractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", eris.Wrap(err, "wikipedia: unmarshal extract response")
	}
	if len(result.Query.Pages) == 0 || result.Query.Pages[0].Missing {
		return "", nil
	}
	return result.Query.Pages[0].Extract, nil
}

func (c *httpClient) get(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "read response")
	}
	return body, resp.StatusCode, nil
}

// pathTitle converts a page title to its URL path form.
func pathTitle(title string) string {
	return url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}
