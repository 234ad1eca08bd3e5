package follow

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/pkg/memento"
	"github.com/deadonfilm/deadonfilm/pkg/wayback"
)

// WaybackFetcher resolves a URL to its closest Wayback Machine snapshot and
// loads that. Snapshots near the subject's death date tend to predate both
// link rot and paywalls.
type WaybackFetcher struct {
	wb     wayback.Client
	loader *pageLoader
}

// NewWaybackFetcher creates a WaybackFetcher.
func NewWaybackFetcher(wb wayback.Client) *WaybackFetcher {
	return &WaybackFetcher{wb: wb, loader: newPageLoader()}
}

func (f *WaybackFetcher) Name() string { return "wayback" }

func (f *WaybackFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	var opts []wayback.LookupOption
	if !req.Near.IsZero() {
		opts = append(opts, wayback.Near(req.Near))
	}

	snap, err := f.wb.Closest(ctx, req.URL, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "wayback: availability lookup")
	}
	if snap == nil {
		return nil, eris.Errorf("wayback: no snapshot for %s", req.URL)
	}

	page, err := f.loader.load(ctx, f.Name(), snap.URL)
	if err != nil {
		return nil, err
	}
	page.URL = req.URL
	return page, nil
}

// MementoFetcher queries the TimeTravel aggregator, which covers archives
// beyond the Wayback Machine (arquivo.pt, archive.today, national libraries).
type MementoFetcher struct {
	mm     memento.Client
	loader *pageLoader
}

// NewMementoFetcher creates a MementoFetcher.
func NewMementoFetcher(mm memento.Client) *MementoFetcher {
	return &MementoFetcher{mm: mm, loader: newPageLoader()}
}

func (f *MementoFetcher) Name() string { return "memento" }

func (f *MementoFetcher) Fetch(ctx context.Context, req Request) (*Page, error) {
	near := req.Near
	if near.IsZero() {
		near = nowFunc()
	}

	m, err := f.mm.Closest(ctx, req.URL, near)
	if err != nil {
		return nil, eris.Wrap(err, "memento: timetravel lookup")
	}
	if m == nil {
		return nil, eris.Errorf("memento: no snapshot for %s", req.URL)
	}

	page, err := f.loader.load(ctx, f.Name(), m.URI)
	if err != nil {
		return nil, err
	}
	page.URL = req.URL
	return page, nil
}
