// Package wikidata provides a client for the Wikidata SPARQL endpoint.
package wikidata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultEndpoint  = "https://query.wikidata.org/sparql"
	defaultUserAgent = "deadonfilm/1.0 (https://deadonfilm.com; admin@deadonfilm.com)"
	defaultLimit     = 5
)

// Client runs death-claim queries against Wikidata.
type Client interface {
	// DeathClaims looks up deceased humans matching the given English name
	// and returns their death-related claims.
	DeathClaims(ctx context.Context, name string, opts ...QueryOption) ([]DeathClaim, error)
}

// DeathClaim holds the death-related statements of a single entity.
type DeathClaim struct {
	Entity        string // entity URI, e.g. http://www.wikidata.org/entity/Q181916
	Label         string
	Description   string
	CauseOfDeath  string // P509 label
	MannerOfDeath string // P1196 label
	PlaceOfDeath  string // P20 label
	DateOfBirth   string // P569, ISO 8601
	DateOfDeath   string // P570, ISO 8601
	Article       string // English Wikipedia sitelink, if any
}

// APIError is returned when the endpoint responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wikidata: HTTP %d: %s", e.StatusCode, e.Body)
}

// QueryOption adjusts a single query.
type QueryOption func(*queryParams)

type queryParams struct {
	deathYear int
	limit     int
}

// WithDeathYear filters candidates to those who died in the given year.
// Zero disables the filter.
func WithDeathYear(year int) QueryOption {
	return func(p *queryParams) {
		p.deathYear = year
	}
}

// WithLimit caps the number of candidate entities returned.
func WithLimit(n int) QueryOption {
	return func(p *queryParams) {
		p.limit = n
	}
}

// Option configures the client.
type Option func(*httpClient)

// WithEndpoint overrides the SPARQL endpoint URL.
func WithEndpoint(url string) Option {
	return func(c *httpClient) {
		c.endpoint = url
	}
}

// WithUserAgent overrides the User-Agent header. Wikimedia requires a
// descriptive agent with contact information.
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
	endpoint  string
	userAgent string
	http      *http.Client
}

// NewClient creates a Wikidata SPARQL client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		endpoint:  defaultEndpoint,
		userAgent: defaultUserAgent,
		http: &http.Client{
			Timeout: 60 * time.Second,
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

// escapeLiteral escapes a string for use inside a SPARQL string literal.
func escapeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func buildDeathQuery(name string, p queryParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT ?person ?personLabel ?personDescription ?causeLabel ?mannerLabel ?placeLabel ?dob ?dod ?article WHERE {
  ?person wdt:P31 wd:Q5 .
  { ?person rdfs:label "%[1]s"@en . } UNION { ?person skos:altLabel "%[1]s"@en . }
  ?person wdt:P570 ?dod .
`, escapeLiteral(name))
	if p.deathYear > 0 {
		fmt.Fprintf(&b, "  FILTER(YEAR(?dod) = %d)\n", p.deathYear)
	}
	b.WriteString(`  OPTIONAL { ?person wdt:P509 ?cause . }
  OPTIONAL { ?person wdt:P1196 ?manner . }
  OPTIONAL { ?person wdt:P20 ?place . }
  OPTIONAL { ?person wdt:P569 ?dob . }
  OPTIONAL { ?article schema:about ?person ; schema:isPartOf <https://en.wikipedia.org/> . }
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
}
`)
	fmt.Fprintf(&b, "LIMIT %d", p.limit)
	return b.String()
}

type sparqlValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]sparqlValue `json:"bindings"`
	} `json:"results"`
}

func (c *httpClient) DeathClaims(ctx context.Context, name string, opts ...QueryOption) ([]DeathClaim, error) {
	params := queryParams{limit: defaultLimit}
	for _, o := range opts {
		o(&params)
	}
	if params.limit <= 0 {
		params.limit = defaultLimit
	}

	q := url.Values{}
	q.Set("query", buildDeathQuery(name, params))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "wikidata: create request")
	}
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "wikidata: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "wikidata: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result sparqlResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "wikidata: unmarshal response")
	}

	claims := make([]DeathClaim, 0, len(result.Results.Bindings))
	for _, binding := range result.Results.Bindings {
		claims = append(claims, DeathClaim{
			Entity:        binding["person"].Value,
			Label:         binding["personLabel"].Value,
			Description:   binding["personDescription"].Value,
			CauseOfDeath:  binding["causeLabel"].Value,
			MannerOfDeath: binding["mannerLabel"].Value,
			PlaceOfDeath:  binding["placeLabel"].Value,
			DateOfBirth:   binding["dob"].Value,
			DateOfDeath:   binding["dod"].Value,
			Article:       binding["article"].Value,
		})
	}
	return claims, nil
}
