package follow

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/pkg/firecrawl"
	"github.com/deadonfilm/deadonfilm/pkg/jina"
)

// JinaFetcher reads pages through the Jina AI Reader, which renders
// JavaScript and returns markdown. Appended to the chain only when an API
// key is configured.
type JinaFetcher struct {
	client jina.Client
}

// NewJinaFetcher creates a JinaFetcher.
func NewJinaFetcher(client jina.Client) *JinaFetcher {
	return &JinaFetcher{client: client}
}

func (f *JinaFetcher) Name() string { return "jina" }

func (f *JinaFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	resp, err := f.client.Read(ctx, req.URL)
	if err != nil {
		return nil, eris.Wrap(err, "jina: read")
	}
	if strings.TrimSpace(resp.Data.Content) == "" {
		return nil, eris.Errorf("jina: empty content for %s", req.URL)
	}

	finalURL := resp.Data.URL
	if finalURL == "" {
		finalURL = req.URL
	}
	return &Page{
		URL:        req.URL,
		FinalURL:   finalURL,
		Title:      resp.Data.Title,
		Text:       strings.TrimSpace(resp.Data.Content),
		StatusCode: 200,
	}, nil
}

// FirecrawlFetcher renders pages through Firecrawl. Appended to the chain
// only when an API key is configured.
type FirecrawlFetcher struct {
	client firecrawl.Client
}

// NewFirecrawlFetcher creates a FirecrawlFetcher.
func NewFirecrawlFetcher(client firecrawl.Client) *FirecrawlFetcher {
	return &FirecrawlFetcher{client: client}
}

func (f *FirecrawlFetcher) Name() string { return "firecrawl" }

func (f *FirecrawlFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	resp, err := f.client.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     req.URL,
		Formats: []string{"markdown"},
	})
	if err != nil {
		return nil, eris.Wrap(err, "firecrawl: scrape")
	}
	if !resp.Success || strings.TrimSpace(resp.Data.Markdown) == "" {
		return nil, eris.Errorf("firecrawl: empty content for %s", req.URL)
	}

	finalURL := resp.Data.URL
	if finalURL == "" {
		finalURL = req.URL
	}
	return &Page{
		URL:        req.URL,
		FinalURL:   finalURL,
		Title:      resp.Data.Title,
		Text:       strings.TrimSpace(resp.Data.Markdown),
		StatusCode: resp.Data.StatusCode,
	}, nil
}
