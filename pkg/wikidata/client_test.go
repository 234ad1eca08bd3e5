package wikidata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "results": {
    "bindings": [
      {
        "person": {"type": "uri", "value": "http://www.wikidata.org/entity/Q181916"},
        "personLabel": {"type": "literal", "value": "Rex Harrison"},
        "personDescription": {"type": "literal", "value": "English actor (1908-1990)"},
        "causeLabel": {"type": "literal", "value": "pancreatic cancer"},
        "mannerLabel": {"type": "literal", "value": "natural causes"},
        "placeLabel": {"type": "literal", "value": "Manhattan"},
        "dob": {"type": "literal", "value": "1908-03-05T00:00:00Z"},
        "dod": {"type": "literal", "value": "1990-06-02T00:00:00Z"},
        "article": {"type": "uri", "value": "https://en.wikipedia.org/wiki/Rex_Harrison"}
      }
    ]
  }
}`

func TestDeathClaims_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/sparql-results+json", r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("User-Agent"), "deadonfilm")
		assert.Equal(t, "json", r.URL.Query().Get("format"))

		query := r.URL.Query().Get("query")
		assert.Contains(t, query, `"Rex Harrison"@en`)
		assert.Contains(t, query, "wdt:P509")
		assert.Contains(t, query, "wdt:P570")
		assert.Contains(t, query, "FILTER(YEAR(?dod) = 1990)")

		w.Header().Set("Content-Type", "application/sparql-results+json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	client := NewClient(WithEndpoint(srv.URL))
	claims, err := client.DeathClaims(context.Background(), "Rex Harrison", WithDeathYear(1990))

	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "Rex Harrison", claims[0].Label)
	assert.Equal(t, "pancreatic cancer", claims[0].CauseOfDeath)
	assert.Equal(t, "natural causes", claims[0].MannerOfDeath)
	assert.Equal(t, "Manhattan", claims[0].PlaceOfDeath)
	assert.Equal(t, "1990-06-02T00:00:00Z", claims[0].DateOfDeath)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Rex_Harrison", claims[0].Article)
}

func TestDeathClaims_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/sparql-results+json")
		_, _ = w.Write([]byte(`{"results": {"bindings": []}}`))
	}))
	defer srv.Close()

	client := NewClient(WithEndpoint(srv.URL))
	claims, err := client.DeathClaims(context.Background(), "Nobody Nonexistent")

	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestDeathClaims_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limit exceeded"))
	}))
	defer srv.Close()

	client := NewClient(WithEndpoint(srv.URL))
	claims, err := client.DeathClaims(context.Background(), "Rex Harrison")

	assert.Error(t, err)
	assert.Nil(t, claims)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestBuildDeathQuery_EscapesQuotes(t *testing.T) {
	t.Parallel()
	q := buildDeathQuery(`Jim "The Hammer" Smith`, queryParams{limit: 5})
	assert.Contains(t, q, `"Jim \"The Hammer\" Smith"@en`)
	assert.NotContains(t, q, "FILTER(YEAR")
	assert.True(t, strings.HasSuffix(q, "LIMIT 5"))
}

func TestDeathClaims_DefaultLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("query"), "LIMIT 5")
		_, _ = w.Write([]byte(`{"results": {"bindings": []}}`))
	}))
	defer srv.Close()

	client := NewClient(WithEndpoint(srv.URL))
	_, err := client.DeathClaims(context.Background(), "Anyone")
	require.NoError(t, err)
}

func TestDeathClaims_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(WithEndpoint(srv.URL))
	claims, err := client.DeathClaims(ctx, "Rex Harrison")

	assert.Error(t, err)
	assert.Nil(t, claims)
}
