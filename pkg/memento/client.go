// Package memento provides a client for the Memento TimeTravel API, which
// aggregates snapshots across public web archives.
package memento

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "http://timetravel.mementoweb.org/api/json"

// Client looks up archived snapshots across Memento-compliant archives.
type Client interface {
	// Closest returns the snapshot closest to t, or (nil, nil) when no
	// archive holds a copy of targetURL.
	Closest(ctx context.Context, targetURL string, t time.Time) (*Memento, error)
}

// Memento is a single archived snapshot.
type Memento struct {
	URI      string
	Datetime string // RFC 1123 as reported by the archive
}

type timetravelResponse struct {
	Mementos struct {
		Closest struct {
			URI      []string `json:"uri"`
			Datetime string   `json:"datetime"`
		} `json:"closest"`
	} `json:"mementos"`
}

// APIError is returned when the API responds with an unexpected status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("memento: HTTP %d: %s", e.StatusCode, e.Body)
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

// NewClient creates a TimeTravel client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 45 * time.Second,
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

func (c *httpClient) Closest(ctx context.Context, targetURL string, t time.Time) (*Memento, error) {
	reqURL := fmt.Sprintf("%s/%s/%s", c.baseURL, t.Format("20060102150405"), targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "memento: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "memento: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "memento: read response")
	}

	// 404 means no archive holds the URL.
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result timetravelResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "memento: unmarshal response")
	}

	closest := result.Mementos.Closest
	if len(closest.URI) == 0 {
		return nil, nil
	}
	return &Memento{
		URI:      closest.URI[0],
		Datetime: closest.Datetime,
	}, nil
}
