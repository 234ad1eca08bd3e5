package follow

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DomainLimiter applies a token-bucket rate limit per target hostname so a
// run that follows many links into the same news site stays polite.
type DomainLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	defaultRate rate.Limit
	burst       int
}

// NewDomainLimiter creates a limiter allowing rps requests per second per
// domain. rps <= 0 disables limiting.
func NewDomainLimiter(rps float64, burst int) *DomainLimiter {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &DomainLimiter{
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: r,
		burst:       burst,
	}
}

// Wait blocks until a token is available for the URL's hostname.
func (l *DomainLimiter) Wait(ctx context.Context, rawURL string) error {
	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		domain = u.Hostname()
	}

	l.mu.Lock()
	limiter, ok := l.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(l.defaultRate, l.burst)
		l.limiters[domain] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "follow: rate limit wait")
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		zap.L().Debug("follow: rate limited",
			zap.String("domain", domain),
			zap.Duration("waited", d),
		)
	}
	return nil
}
