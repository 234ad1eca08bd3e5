package follow

import (
	"context"
	"time"
)

// Request identifies a page to fetch. Near anchors archive lookups to the
// subject's death date so old obituary links resolve to snapshots taken
// before the page rotted.
type Request struct {
	URL  string
	Near time.Time
}

// Page is an extracted article.
type Page struct {
	URL        string // the requested URL
	FinalURL   string // the URL actually fetched (archive snapshot for fallbacks)
	Title      string
	Byline     string
	SiteName   string
	Text       string
	StatusCode int
	Method     string // which fetcher produced the page
}

// Fetcher retrieves a single page.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Page, error)
	Name() string
}

// nowFunc is replaceable in tests.
var nowFunc = time.Now

