// Package follow retrieves and extracts the pages behind candidate links:
// direct HTTP first, then archived snapshots when the live web has rotted.
package follow

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// defaultMinContentLength rejects extracted pages too thin to hold a
// cause-of-death narrative.
const defaultMinContentLength = 200

// Chain tries fetchers in order, returning the first page with enough
// extracted text. The canonical order is direct, wayback, memento, with
// rendering fetchers appended when configured.
type Chain struct {
	Filter     *URLFilter
	fetchers   []Fetcher
	limiter    *DomainLimiter
	minContent int
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithMinContentLength overrides the minimum extracted-text length.
func WithMinContentLength(n int) ChainOption {
	return func(c *Chain) {
		if n > 0 {
			c.minContent = n
		}
	}
}

// WithLimiter sets the per-domain rate limiter.
func WithLimiter(l *DomainLimiter) ChainOption {
	return func(c *Chain) {
		c.limiter = l
	}
}

// NewChain creates a Chain. Fetchers are tried in the order given.
func NewChain(filter *URLFilter, fetchers []Fetcher, opts ...ChainOption) *Chain {
	c := &Chain{
		Filter:     filter,
		fetchers:   fetchers,
		limiter:    NewDomainLimiter(1, 1),
		minContent: defaultMinContentLength,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch tries each fetcher in order for a single URL and returns the first
// page with enough extracted text, stamped with the fetcher that produced
// it. When every fetcher fails and any of them was blocked, the blocked
// error wins so the caller routes the URL to the review queue.
func (c *Chain) Fetch(ctx context.Context, req Request) (*Page, error) {
	if c.Filter != nil && c.Filter.IsExcluded(req.URL) {
		return nil, eris.Errorf("follow: url excluded by filter: %s", req.URL)
	}

	var blockedErr error
	var lastErr error
	for _, f := range c.fetchers {
		if err := c.limiter.Wait(ctx, req.URL); err != nil {
			return nil, err
		}

		page, err := f.Fetch(ctx, req)
		if err != nil {
			if resilience.IsBlocked(err) && blockedErr == nil {
				blockedErr = err
			}
			zap.L().Debug("follow: fetcher failed, trying next",
				zap.String("fetcher", f.Name()),
				zap.String("url", req.URL),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if page == nil || len(page.Text) < c.minContent {
			lastErr = eris.Errorf("follow: %s returned thin content for %s", f.Name(), req.URL)
			continue
		}

		page.Method = f.Name()
		return page, nil
	}

	if blockedErr != nil {
		return nil, eris.Wrap(blockedErr, "follow: all fetchers failed")
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "follow: all fetchers failed")
	}
	return nil, eris.Errorf("follow: no fetcher available for url: %s", req.URL)
}
