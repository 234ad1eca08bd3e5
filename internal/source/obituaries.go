package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/follow"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/pkg/jina"
)

// defaultObituarySites are searched in order; the first site that
// yields a usable narrative wins.
var defaultObituarySites = []string{"legacy.com", "findagrave.com"}

// ObituaryAdapter searches dedicated obituary sites through Jina
// Search and reads the hits. Jina returns page content inline with
// search results, so most lookups never need a separate fetch; the
// follow chain covers the rest, including rotted links only archives
// still hold.
type ObituaryAdapter struct {
	base
	search     jina.Client
	selector   *follow.Selector
	chain      *follow.Chain
	sites      []string
	searchCost float64
}

// NewObituaryAdapter wires Jina search to the link follower.
// searchCost is the declared per-site query estimate.
func NewObituaryAdapter(search jina.Client, selector *follow.Selector, chain *follow.Chain, searchCost float64) *ObituaryAdapter {
	sites := defaultObituarySites
	return &ObituaryAdapter{
		base:       newBase("obituaries", model.SourceTypeObituary, model.CategoryPaid, searchCost*float64(len(sites)), time.Second),
		search:     search,
		selector:   selector,
		chain:      chain,
		sites:      sites,
		searchCost: searchCost,
	}
}

func (a *ObituaryAdapter) Available() bool {
	return a.search != nil && a.chain != nil
}

func (a *ObituaryAdapter) Lookup(ctx context.Context, subject model.Subject) model.SourceAttemptResult {
	return a.run(ctx, subject, a.perform)
}

func (a *ObituaryAdapter) perform(ctx context.Context, subject model.Subject) (*finding, error) {
	query := obituaryQuery(subject)
	f := &finding{query: query}

	var candidates []follow.Candidate
	inlineContent := make(map[string]string)
	var lastErr error

	for _, site := range a.sites {
		resp, err := a.search.Search(ctx, query, jina.WithSiteFilter(site))
		if err != nil {
			lastErr = err
			zap.L().Debug("obituaries: site search failed",
				zap.String("site", site),
				zap.Error(err),
			)
			continue
		}
		f.costUSD += a.searchCost
		for _, r := range resp.Data {
			candidates = append(candidates, follow.Candidate{
				URL:     r.URL,
				Title:   r.Title,
				Snippet: r.Description,
			})
			if r.Content != "" {
				inlineContent[r.URL] = r.Content
			}
		}
	}
	if len(candidates) == 0 {
		if lastErr != nil {
			return f, lastErr
		}
		return f, nil
	}

	picked := a.selector.Select(subject, candidates)
	f.linksFollowed = len(picked)

	foldedName := follow.FoldName(subject.Name)
	near := deathTime(subject)
	var blockedErr error

	for _, cand := range picked {
		text := inlineContent[cand.URL]
		method := "jina"
		pageURL := cand.URL

		if len(text) < 200 {
			page, err := a.chain.Fetch(ctx, follow.Request{URL: cand.URL, Near: near})
			if err != nil {
				if resilience.IsBlocked(err) && blockedErr == nil {
					blockedErr = err
				}
				continue
			}
			f.pagesFetched++
			text = page.Text
			method = page.Method
			pageURL = page.URL
		}

		snippet, ok := deathSnippet(text, foldedName, subject.DeathYear)
		if !ok {
			continue
		}

		data := &model.EnrichmentData{
			Circumstances: snippet,
			Factors:       model.FactorsFromText(snippet),
		}
		ev := evidence{
			base:        0.45,
			text:        snippet,
			nameMatched: true,
			yearMatched: subject.DeathYear != "" && strings.Contains(snippet, subject.DeathYear),
			factors:     len(data.Factors),
			trusted:     true, // site-restricted by construction
		}

		f.data = data
		f.confidence = ev.score()
		f.url = pageURL
		f.raw = clipSentence(text, 2000)
		f.fetchMethod = method
		return f, nil
	}

	if blockedErr != nil {
		return f, blockedErr
	}
	return f, nil
}

func obituaryQuery(subject model.Subject) string {
	if subject.DeathYear == "" {
		return fmt.Sprintf("%s obituary", subject.Name)
	}
	return fmt.Sprintf("%s obituary %s", subject.Name, subject.DeathYear)
}
