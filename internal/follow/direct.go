package follow

import (
	"context"
)

// DirectFetcher loads pages with plain HTTP. Free, no API calls. Blocked or
// rotted pages fall through to the archive fetchers.
type DirectFetcher struct {
	loader *pageLoader
}

// NewDirectFetcher creates a DirectFetcher with sensible defaults.
func NewDirectFetcher() *DirectFetcher {
	return &DirectFetcher{loader: newPageLoader()}
}

func (f *DirectFetcher) Name() string { return "direct" }

func (f *DirectFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	page, err := f.loader.load(ctx, f.Name(), req.URL)
	if err != nil {
		return nil, err
	}
	page.URL = req.URL
	return page, nil
}
