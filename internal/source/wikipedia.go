package source

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/deadonfilm/deadonfilm/internal/follow"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/pkg/wikipedia"
)

// WikipediaAdapter reads the subject's article and extracts the death
// section, falling back to death sentences anywhere in the text.
type WikipediaAdapter struct {
	base
	client wikipedia.Client
}

// NewWikipediaAdapter wraps a Wikipedia client as a cascade adapter.
func NewWikipediaAdapter(client wikipedia.Client) *WikipediaAdapter {
	return &WikipediaAdapter{
		base:   newBase("wikipedia", model.SourceTypeEncyclopedia, model.CategoryFree, 0, 500*time.Millisecond),
		client: client,
	}
}

func (a *WikipediaAdapter) Available() bool { return a.client != nil }

func (a *WikipediaAdapter) Lookup(ctx context.Context, subject model.Subject) model.SourceAttemptResult {
	return a.run(ctx, subject, a.perform)
}

func (a *WikipediaAdapter) perform(ctx context.Context, subject model.Subject) (*finding, error) {
	f := &finding{query: subject.Name}

	pages, err := resilience.DoVal(ctx, retryCfg(a.name, "search"),
		func(ctx context.Context) ([]wikipedia.SearchPage, error) {
			ps, err := a.client.Search(ctx, subject.Name, 5)
			return ps, a.classify(err)
		})
	if err != nil {
		return nil, err
	}

	page, ok := pickPage(pages, subject)
	if !ok {
		return f, nil
	}
	f.url = articleURL(page.Title)

	summary, err := resilience.DoVal(ctx, retryCfg(a.name, "summary"),
		func(ctx context.Context) (*wikipedia.PageSummary, error) {
			s, err := a.client.Summary(ctx, page.Title)
			return s, a.classify(err)
		})
	if err != nil {
		return nil, err
	}
	if summary != nil && summary.URL() != "" {
		f.url = summary.URL()
	}

	text, err := resilience.DoVal(ctx, retryCfg(a.name, "extract"),
		func(ctx context.Context) (string, error) {
			t, err := a.client.Extract(ctx, page.Title)
			return t, a.classify(err)
		})
	if err != nil {
		return nil, err
	}
	if text == "" && summary != nil {
		text = summary.Extract
	}
	if text == "" {
		return f, nil
	}

	foldedName := follow.FoldName(subject.Name)
	snippet, fromSection := deathSection(text)
	if !fromSection {
		snippet, ok = deathSnippet(text, foldedName, subject.DeathYear)
		if !ok {
			return f, nil
		}
	}
	snippet = clipSentence(snippet, maxSnippetLen)

	data := &model.EnrichmentData{
		Circumstances: snippet,
		Factors:       model.FactorsFromText(snippet),
	}
	if summary != nil && summary.Extract != "" {
		data.AdditionalContext = clipSentence(summary.Extract, 500)
	}

	ev := evidence{
		base:        0.35,
		text:        snippet,
		nameMatched: true,
		yearMatched: subject.DeathYear != "" && strings.Contains(snippet, subject.DeathYear),
		factors:     len(data.Factors),
	}
	if fromSection {
		ev.base = 0.50
	}

	f.data = data
	f.confidence = ev.score()
	f.raw = clipSentence(text, 2000)
	return f, nil
}

func (a *WikipediaAdapter) classify(err error) error {
	var apiErr *wikipedia.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(a.name, "", apiErr.StatusCode, err)
	}
	return err
}

// performerWords disambiguate search hits toward film and TV people.
var performerWords = []string{"actor", "actress", "performer", "comedian", "entertainer", "film", "television"}

// pickPage chooses the search hit most likely to be the subject:
// name-matched pages described as performers first, then any
// name-matched page. No name match means no article.
func pickPage(pages []wikipedia.SearchPage, subject model.Subject) (wikipedia.SearchPage, bool) {
	folded := follow.FoldName(subject.Name)
	if folded == "" {
		return wikipedia.SearchPage{}, false
	}

	matches := func(p wikipedia.SearchPage) bool {
		return strings.Contains(follow.FoldName(p.Title), folded)
	}
	isPerformer := func(p wikipedia.SearchPage) bool {
		desc := strings.ToLower(p.Description)
		for _, w := range performerWords {
			if strings.Contains(desc, w) {
				return true
			}
		}
		return false
	}

	for _, p := range pages {
		if matches(p) && isPerformer(p) {
			return p, true
		}
	}
	for _, p := range pages {
		if matches(p) {
			return p, true
		}
	}
	return wikipedia.SearchPage{}, false
}

// deathHeadingWords qualify a section heading as covering the death.
var deathHeadingWords = []string{
	"death",
	"illness",
	"final years",
	"last years",
	"murder",
	"assassination",
	"suicide",
	"disappearance",
}

// deathSection extracts the article section whose heading names the
// death, using the "== Heading ==" markers the plain-text extract
// keeps. Subheadings inside the section are skipped, and the section
// ends at the next heading of the same or higher level.
func deathSection(text string) (string, bool) {
	var buf []string
	collecting := false
	level := 0

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if title, lvl, ok := parseHeading(trimmed); ok {
			if collecting {
				if lvl <= level {
					break
				}
				continue
			}
			if headingMentionsDeath(title) {
				collecting = true
				level = lvl
			}
			continue
		}
		if collecting && trimmed != "" {
			buf = append(buf, trimmed)
		}
	}

	section := strings.Join(buf, "\n")
	if len(section) < 60 {
		return "", false
	}
	return section, true
}

func parseHeading(line string) (title string, level int, ok bool) {
	if !strings.HasPrefix(line, "==") {
		return "", 0, false
	}
	n := 0
	for n < len(line) && line[n] == '=' {
		n++
	}
	if len(line) < 2*n || !strings.HasSuffix(line, line[:n]) {
		return "", 0, false
	}
	title = strings.TrimSpace(line[n : len(line)-n])
	return title, n, title != ""
}

func headingMentionsDeath(title string) bool {
	t := strings.ToLower(title)
	for _, w := range deathHeadingWords {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

func articleURL(title string) string {
	return "https://en.wikipedia.org/wiki/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}
