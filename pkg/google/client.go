package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the Programmable Search JSON API.
const defaultBaseURL = "https://customsearch.googleapis.com/customsearch/v1"

// The API rejects num values above 10.
const maxResultsPerQuery = 10

// Client queries a Google Programmable Search engine.
type Client interface {
	Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error)
}

// Result is a single search hit.
type Result struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"displayLink"`
}

type searchResponse struct {
	Items             []Result `json:"items"`
	SearchInformation struct {
		TotalResults string `json:"totalResults"`
	} `json:"searchInformation"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google: HTTP %d: %s", e.StatusCode, e.Body)
}

// SearchOption adjusts a single search call.
type SearchOption func(*searchParams)

type searchParams struct {
	site string
	num  int
}

// WithSite restricts results to a single domain.
func WithSite(domain string) SearchOption {
	return func(p *searchParams) {
		p.site = domain
	}
}

// WithNum sets the number of results to request (capped at 10 by the API).
func WithNum(n int) SearchOption {
	return func(p *searchParams) {
		p.num = n
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey   string
	engineID string
	baseURL  string
	http     *http.Client
}

// NewClient creates a Programmable Search client. engineID is the
// search engine ID (cx) from the Programmable Search control panel.
func NewClient(apiKey, engineID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:   apiKey,
		engineID: engineID,
		baseURL:  defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	params := searchParams{num: maxResultsPerQuery}
	for _, o := range opts {
		o(&params)
	}
	if params.num <= 0 || params.num > maxResultsPerQuery {
		params.num = maxResultsPerQuery
	}

	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("cx", c.engineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(params.num))
	if params.site != "" {
		q.Set("siteSearch", params.site)
		q.Set("siteSearchFilter", "i")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}

	return result.Items, nil
}
