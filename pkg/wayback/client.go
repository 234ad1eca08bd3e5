// Package wayback provides a client for the Internet Archive Wayback
// Machine availability API.
package wayback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://archive.org/wayback/available"

// Client looks up archived snapshots of URLs.
type Client interface {
	// Closest returns the closest archived snapshot of targetURL, or
	// (nil, nil) when no snapshot exists.
	Closest(ctx context.Context, targetURL string, opts ...LookupOption) (*Snapshot, error)
}

// Snapshot is an archived copy of a page.
type Snapshot struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"` // YYYYMMDDhhmmss
	Status    string `json:"status"`
}

type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest struct {
			Available bool   `json:"available"`
			URL       string `json:"url"`
			Timestamp string `json:"timestamp"`
			Status    string `json:"status"`
		} `json:"closest"`
	} `json:"archived_snapshots"`
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wayback: HTTP %d: %s", e.StatusCode, e.Body)
}

// LookupOption adjusts a single lookup.
type LookupOption func(*lookupParams)

type lookupParams struct {
	timestamp string
}

// Near requests the snapshot closest to the given time.
func Near(t time.Time) LookupOption {
	return func(p *lookupParams) {
		p.timestamp = t.Format("20060102150405")
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
	baseURL string
	http    *http.Client
}

// NewClient creates a Wayback availability client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
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

func (c *httpClient) Closest(ctx context.Context, targetURL string, opts ...LookupOption) (*Snapshot, error) {
	params := lookupParams{}
	for _, o := range opts {
		o(&params)
	}

	q := url.Values{}
	q.Set("url", targetURL)
	if params.timestamp != "" {
		q.Set("timestamp", params.timestamp)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "wayback: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "wayback: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "wayback: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result availabilityResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "wayback: unmarshal response")
	}

	closest := result.ArchivedSnapshots.Closest
	if !closest.Available || closest.URL == "" {
		return nil, nil
	}
	return &Snapshot{
		URL:       closest.URL,
		Timestamp: closest.Timestamp,
		Status:    closest.Status,
	}, nil
}
