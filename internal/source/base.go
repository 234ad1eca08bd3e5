package source

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// nowFunc is swapped in tests for deterministic timestamps.
var nowFunc = time.Now

// maxSingleSourceConfidence caps what any one non-authoritative source
// can claim on its own.
const maxSingleSourceConfidence = 0.95

// finding is what a perform func hands back on completion. A nil
// finding with a nil error means the provider answered and had nothing.
// A finding returned alongside an error keeps its cost and query so the
// ledger still reconciles calls that billed before failing.
type finding struct {
	data          *model.EnrichmentData
	confidence    float64
	query         string
	url           string
	raw           string
	costUSD       float64
	fetchMethod   string
	linksFollowed int
	pagesFetched  int
}

// performFunc is the adapter-specific lookup body.
type performFunc func(ctx context.Context, subject model.Subject) (*finding, error)

// base carries the identity, declared cost, and rate limit shared by
// every adapter. Adapters embed it and route Lookup through run.
type base struct {
	name     string
	typ      model.SourceType
	category model.SourceCategory
	estCost  float64
	limiter  *rate.Limiter
}

// newBase builds the shared adapter state. minInterval is the
// provider-specific minimum delay between calls; zero means unlimited.
func newBase(name string, typ model.SourceType, category model.SourceCategory, estCost float64, minInterval time.Duration) base {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return base{
		name:     name,
		typ:      typ,
		category: category,
		estCost:  estCost,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

func (b *base) Name() string { return b.name }

func (b *base) Type() model.SourceType { return b.typ }

func (b *base) Category() model.SourceCategory { return b.category }

func (b *base) Free() bool { return b.category == model.CategoryFree }

func (b *base) EstimatedCost() float64 { return b.estCost }

// run is the template every Lookup goes through: wait out the
// adapter's rate limit, stamp the retrieval time, delegate to perform,
// and convert any fault into a failed result. Callers never see an
// error from this boundary.
func (b *base) run(ctx context.Context, subject model.Subject, perform performFunc) model.SourceAttemptResult {
	res := model.SourceAttemptResult{
		Source:      b.name,
		SourceType:  b.typ,
		Category:    b.category,
		RetrievedAt: nowFunc(),
	}
	started := time.Now()

	if err := b.limiter.Wait(ctx); err != nil {
		wrapped := eris.Wrapf(err, "%s: rate limit wait", b.name)
		res.DurationMS = time.Since(started).Milliseconds()
		res.Err = wrapped.Error()
		res.Cause = wrapped
		return res
	}

	f, err := perform(ctx, subject)
	res.DurationMS = time.Since(started).Milliseconds()

	if f != nil {
		res.Confidence = capConfidence(f.confidence)
		res.QueryUsed = f.query
		res.SourceURL = f.url
		res.RawPayload = f.raw
		res.CostUSD = f.costUSD
		res.FetchMethod = f.fetchMethod
		res.LinksFollowed = f.linksFollowed
		res.PagesFetched = f.pagesFetched
		if f.data != nil && !f.data.IsEmpty() {
			res.Data = f.data
		}
	}

	if err != nil {
		res.Err = err.Error()
		res.Cause = err
		res.Data = nil
		res.Confidence = 0
		return res
	}

	res.Success = true
	return res
}

func capConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > maxSingleSourceConfidence:
		return maxSingleSourceConfidence
	}
	return c
}

// retryCfg is the bounded backoff applied inside one adapter call for
// transient faults. Clients that retry internally (jina, perplexity,
// the Anthropic SDK) are not wrapped again.
func retryCfg(source, operation string) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger(source, operation)
	return cfg
}

// classifyStatus folds an HTTP status from a provider error into the
// resilience taxonomy: blocked statuses go to manual review, transient
// ones become retryable.
func classifyStatus(source, url string, status int, err error) error {
	switch {
	case resilience.IsBlockedHTTPStatus(status):
		return resilience.NewBlockedError(source, url, status, err)
	case resilience.IsTransientHTTPStatus(status):
		return resilience.NewTransientError(err, status)
	}
	return err
}

// yearInt parses a four-digit year from record text. Returns 0 when
// the year is unknown or unparseable.
func yearInt(s string) int {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || y <= 0 {
		return 0
	}
	return y
}

// deathTime anchors archive lookups near the subject's death. Without
// an exact date the end of the death year is close enough: obituaries
// run within days and snapshots cluster shortly after. Zero when the
// death year is unknown.
func deathTime(subject model.Subject) time.Time {
	y := yearInt(subject.DeathYear)
	if y == 0 {
		return time.Time{}
	}
	return time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC)
}
