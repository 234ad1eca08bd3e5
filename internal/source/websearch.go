package source

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/follow"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/pkg/google"
)

// WebSearchAdapter runs a cause-of-death query through Google
// Programmable Search and follows the most promising hits. Metered per
// query past Google's free daily quota.
type WebSearchAdapter struct {
	base
	search   google.Client
	selector *follow.Selector
	chain    *follow.Chain
}

// NewWebSearchAdapter wires the search client to the link follower.
// queryCost is the declared per-query estimate the ledger authorizes.
func NewWebSearchAdapter(search google.Client, selector *follow.Selector, chain *follow.Chain, queryCost float64) *WebSearchAdapter {
	return &WebSearchAdapter{
		base:     newBase("websearch", model.SourceTypeWebSearch, model.CategoryPaid, queryCost, time.Second),
		search:   search,
		selector: selector,
		chain:    chain,
	}
}

func (a *WebSearchAdapter) Available() bool {
	return a.search != nil && a.chain != nil
}

func (a *WebSearchAdapter) Lookup(ctx context.Context, subject model.Subject) model.SourceAttemptResult {
	return a.run(ctx, subject, a.perform)
}

func (a *WebSearchAdapter) perform(ctx context.Context, subject model.Subject) (*finding, error) {
	query := searchQuery(subject)
	f := &finding{query: query}

	results, err := resilience.DoVal(ctx, retryCfg(a.name, "search"),
		func(ctx context.Context) ([]google.Result, error) {
			rs, err := a.search.Search(ctx, query, google.WithNum(8))
			var apiErr *google.APIError
			if errors.As(err, &apiErr) {
				return nil, classifyStatus(a.name, "", apiErr.StatusCode, err)
			}
			return rs, err
		})
	if err != nil {
		return f, err
	}
	f.costUSD = a.estCost // the query billed whether or not anything follows

	if len(results) == 0 {
		return f, nil
	}

	candidates := make([]follow.Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, follow.Candidate{
			URL:     r.Link,
			Title:   r.Title,
			Snippet: r.Snippet,
		})
	}

	picked := a.selector.Select(subject, candidates)
	f.linksFollowed = len(picked)
	if len(picked) == 0 {
		return f, nil
	}

	page, cand, blockedErr := a.fetchFirst(ctx, subject, picked, f)
	if page == nil {
		if blockedErr != nil {
			return f, blockedErr
		}
		return f, nil
	}

	foldedName := follow.FoldName(subject.Name)
	snippet, ok := deathSnippet(page.Text, foldedName, subject.DeathYear)
	if !ok {
		return f, nil
	}

	data := &model.EnrichmentData{
		Circumstances: snippet,
		Factors:       model.FactorsFromText(snippet),
	}
	ev := evidence{
		base:        0.40,
		text:        snippet,
		nameMatched: true,
		yearMatched: subject.DeathYear != "" && strings.Contains(snippet, subject.DeathYear),
		factors:     len(data.Factors),
		trusted:     follow.IsTrustedDomain(cand.URL),
	}

	f.data = data
	f.confidence = ev.score()
	f.url = cand.URL
	f.raw = clipSentence(page.Text, 2000)
	f.fetchMethod = page.Method
	return f, nil
}

// fetchFirst walks the selected candidates and returns the first page
// whose text survived extraction, along with the candidate it came
// from. Blocked fetches are remembered so the caller can surface them
// when nothing else works.
func (a *WebSearchAdapter) fetchFirst(ctx context.Context, subject model.Subject, picked []follow.Candidate, f *finding) (*follow.Page, follow.Candidate, error) {
	near := deathTime(subject)

	var blockedErr error
	for _, cand := range picked {
		page, err := a.chain.Fetch(ctx, follow.Request{URL: cand.URL, Near: near})
		if err != nil {
			if resilience.IsBlocked(err) && blockedErr == nil {
				blockedErr = err
			}
			zap.L().Debug("websearch: candidate fetch failed",
				zap.String("url", cand.URL),
				zap.Error(err),
			)
			continue
		}
		f.pagesFetched++
		if page != nil && page.Text != "" {
			return page, cand, nil
		}
	}
	return nil, follow.Candidate{}, blockedErr
}

