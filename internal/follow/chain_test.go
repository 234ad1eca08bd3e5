package follow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// mockFetcher implements Fetcher for testing.
type mockFetcher struct {
	name  string
	page  *Page
	err   error
	calls int
}

func (m *mockFetcher) Name() string { return m.name }

func (m *mockFetcher) Fetch(_ context.Context, _ Request) (*Page, error) {
	m.calls++
	return m.page, m.err
}

func longText() string {
	return strings.Repeat("He died of natural causes at his home. ", 10)
}

func TestChain_Fetch_FirstSuccess(t *testing.T) {
	f1 := &mockFetcher{name: "direct", page: &Page{URL: "https://example.com/obit", Text: longText()}}
	f2 := &mockFetcher{name: "wayback"}

	chain := NewChain(NewURLFilter(nil), []Fetcher{f1, f2})
	page, err := chain.Fetch(context.Background(), Request{URL: "https://example.com/obit"})

	require.NoError(t, err)
	assert.Equal(t, "direct", page.Method)
	assert.Equal(t, 0, f2.calls)
}

func TestChain_Fetch_ArchiveFallbackRecordsMethod(t *testing.T) {
	f1 := &mockFetcher{name: "direct", err: errors.New("connection refused")}
	f2 := &mockFetcher{name: "wayback", page: &Page{
		URL:      "https://example.com/obit",
		FinalURL: "http://web.archive.org/web/1999/https://example.com/obit",
		Text:     longText(),
	}}

	chain := NewChain(NewURLFilter(nil), []Fetcher{f1, f2})
	page, err := chain.Fetch(context.Background(), Request{URL: "https://example.com/obit"})

	require.NoError(t, err)
	assert.Equal(t, "wayback", page.Method)
	assert.Contains(t, page.FinalURL, "web.archive.org")
	assert.Equal(t, 1, f1.calls)
}

func TestChain_Fetch_ThinContentFallsThrough(t *testing.T) {
	f1 := &mockFetcher{name: "direct", page: &Page{Text: "short"}}
	f2 := &mockFetcher{name: "memento", page: &Page{Text: longText()}}

	chain := NewChain(NewURLFilter(nil), []Fetcher{f1, f2})
	page, err := chain.Fetch(context.Background(), Request{URL: "https://example.com"})

	require.NoError(t, err)
	assert.Equal(t, "memento", page.Method)
}

func TestChain_Fetch_AllFail(t *testing.T) {
	f1 := &mockFetcher{name: "direct", err: errors.New("direct failed")}
	f2 := &mockFetcher{name: "wayback", err: errors.New("no snapshot")}

	chain := NewChain(NewURLFilter(nil), []Fetcher{f1, f2})
	page, err := chain.Fetch(context.Background(), Request{URL: "https://example.com"})

	assert.Error(t, err)
	assert.Nil(t, page)
	assert.Contains(t, err.Error(), "all fetchers failed")
}

func TestChain_Fetch_BlockedErrorWins(t *testing.T) {
	blocked := resilience.NewBlockedError("direct", "https://example.com/obit", 403, nil)
	f1 := &mockFetcher{name: "direct", err: blocked}
	f2 := &mockFetcher{name: "wayback", err: errors.New("no snapshot")}

	chain := NewChain(NewURLFilter(nil), []Fetcher{f1, f2})
	_, err := chain.Fetch(context.Background(), Request{URL: "https://example.com/obit"})

	require.Error(t, err)
	assert.True(t, resilience.IsBlocked(err))
	// Both fetchers were still tried before giving up.
	assert.Equal(t, 1, f2.calls)
}

func TestChain_Fetch_ExcludedURL(t *testing.T) {
	f1 := &mockFetcher{name: "direct", page: &Page{Text: longText()}}

	chain := NewChain(NewURLFilter([]string{"/video/*"}), []Fetcher{f1})
	page, err := chain.Fetch(context.Background(), Request{URL: "https://example.com/video/clip1"})

	assert.Error(t, err)
	assert.Nil(t, page)
	assert.Contains(t, err.Error(), "excluded")
	assert.Equal(t, 0, f1.calls)
}

func TestChain_Fetch_MinContentOption(t *testing.T) {
	f1 := &mockFetcher{name: "direct", page: &Page{Text: "died of cancer in 1990, aged 82"}}

	chain := NewChain(NewURLFilter(nil), []Fetcher{f1}, WithMinContentLength(10))
	page, err := chain.Fetch(context.Background(), Request{URL: "https://example.com"})

	require.NoError(t, err)
	assert.Equal(t, "direct", page.Method)
}
