package follow

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

// Candidate is a link under consideration, usually a search result.
type Candidate struct {
	URL     string
	Title   string
	Snippet string
}

// deathKeywords score a candidate as likely to describe how someone died.
var deathKeywords = []string{
	"obituary",
	"dies",
	"died",
	"death",
	"dead at",
	"passes away",
	"passed away",
	"cause of death",
}

// trustedDomains carry reliable, dated death coverage.
var trustedDomains = map[string]int{
	"legacy.com":            3,
	"nytimes.com":           3,
	"latimes.com":           3,
	"washingtonpost.com":    3,
	"theguardian.com":       3,
	"bbc.com":               3,
	"bbc.co.uk":             3,
	"variety.com":           2,
	"hollywoodreporter.com": 2,
	"deadline.com":          2,
	"apnews.com":            2,
	"reuters.com":           2,
	"findagrave.com":        1,
}

// minSelectScore is the qualification bar: a candidate needs at least a
// name match plus one death signal, or a strong trusted-domain hit.
const minSelectScore = 3

// Selector ranks candidate links and keeps the most promising few.
type Selector struct {
	MaxFollows int
	filter     *URLFilter
}

// NewSelector creates a Selector keeping at most maxFollows links.
func NewSelector(maxFollows int, filter *URLFilter) *Selector {
	if maxFollows <= 0 {
		maxFollows = 3
	}
	return &Selector{MaxFollows: maxFollows, filter: filter}
}

// Select scores candidates against the subject and returns the qualifying
// ones, best first, capped at MaxFollows. Duplicate URLs are dropped.
func (s *Selector) Select(subject model.Subject, candidates []Candidate) []Candidate {
	foldedName := FoldName(subject.Name)

	type scored struct {
		c     Candidate
		score int
	}
	var ranked []scored
	seen := make(map[string]bool, len(candidates))

	for _, c := range candidates {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		if s.filter != nil && s.filter.IsExcluded(c.URL) {
			continue
		}
		if sc := scoreCandidate(foldedName, subject.DeathYear, c); sc >= minSelectScore {
			ranked = append(ranked, scored{c: c, score: sc})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > s.MaxFollows {
		ranked = ranked[:s.MaxFollows]
	}
	out := make([]Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.c
	}
	return out
}

func scoreCandidate(foldedName, deathYear string, c Candidate) int {
	title := FoldName(c.Title)
	snippet := FoldName(c.Snippet)

	score := 0
	if foldedName != "" {
		if strings.Contains(title, foldedName) {
			score += 3
		} else if strings.Contains(snippet, foldedName) {
			score += 2
		}
	}

	for _, kw := range deathKeywords {
		if strings.Contains(title, kw) || strings.Contains(snippet, kw) {
			score += 2
			break
		}
	}

	if deathYear != "" && (strings.Contains(title, deathYear) || strings.Contains(snippet, deathYear)) {
		score++
	}

	if host := hostOf(c.URL); host != "" {
		for domain, w := range trustedDomains {
			if host == domain || strings.HasSuffix(host, "."+domain) {
				score += w
				break
			}
		}
	}

	return score
}

// IsTrustedDomain reports whether the URL's host is one of the domains
// known for reliable, dated death coverage.
func IsTrustedDomain(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for domain := range trustedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u := rawURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimPrefix(strings.ToLower(u), "www.")
	return u
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldName lowercases and strips combining diacritics so "René Auberjonois"
// matches search results that spell it "Rene Auberjonois".
func FoldName(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}
