package source

import (
	"fmt"
	"strings"

	"github.com/deadonfilm/deadonfilm/internal/follow"
	"github.com/deadonfilm/deadonfilm/internal/model"
)

// deathPhrases signal that a passage describes how someone died. Kept
// separate from the link-ranking keywords in follow: these qualify
// narrative prose, not headlines.
var deathPhrases = []string{
	"died of",
	"died from",
	"died at",
	"died on",
	"death was",
	"cause of death",
	"passed away",
	"succumbed to",
	"killed in",
	"killed by",
	"found dead",
	"suicide",
	"overdose",
	"heart attack",
	"heart failure",
	"cancer",
	"complications of",
	"complications from",
	"pronounced dead",
}

// maxSnippetLen bounds the narrative kept as circumstances text.
const maxSnippetLen = 1200

// deathSnippet pulls the passage most likely to describe the subject's
// death out of page or article text. It scores paragraphs on death
// phrases, the subject's folded name, and the death year, and falls
// back to single sentences when no paragraph qualifies.
func deathSnippet(text, foldedName, deathYear string) (string, bool) {
	paragraphs := splitParagraphs(text)

	best := ""
	bestScore := 0
	for _, p := range paragraphs {
		if sc := scoreSnippet(p, foldedName, deathYear); sc > bestScore {
			best, bestScore = p, sc
		}
	}
	if bestScore >= 2 {
		return clipSentence(best, maxSnippetLen), true
	}

	// No paragraph qualified; a single sentence mentioning the death
	// is still worth keeping.
	for _, s := range splitSentences(text) {
		folded := follow.FoldName(s)
		if countDeathPhrases(folded) == 0 {
			continue
		}
		if foldedName != "" && !strings.Contains(folded, foldedName) {
			continue
		}
		return clipSentence(strings.TrimSpace(s), maxSnippetLen), true
	}
	return "", false
}

func scoreSnippet(p, foldedName, deathYear string) int {
	folded := follow.FoldName(p)

	score := countDeathPhrases(folded)
	if score > 3 {
		score = 3
	}
	if score == 0 {
		return 0
	}
	if foldedName != "" && strings.Contains(folded, foldedName) {
		score++
	}
	if deathYear != "" && strings.Contains(p, deathYear) {
		score++
	}
	return score
}

func countDeathPhrases(folded string) int {
	n := 0
	for _, ph := range deathPhrases {
		if strings.Contains(folded, ph) {
			n++
		}
	}
	return n
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n") {
		p = strings.TrimSpace(p)
		if len(p) >= 60 {
			out = append(out, p)
		}
	}
	return out
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

// clipSentence truncates s to at most max bytes, preferring to cut at
// the last sentence boundary it can find.
func clipSentence(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, '.'); i > max/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		return cut[:i]
	}
	return cut
}

// evidence collects the signals behind a narrative finding. score is
// monotonic: every signal only pushes confidence up, and the result is
// capped below 1.0 because no single source here is authoritative.
type evidence struct {
	base        float64
	text        string
	nameMatched bool
	yearMatched bool
	hasLocation bool
	factors     int
	trusted     bool
}

func (e evidence) score() float64 {
	score := e.base

	folded := follow.FoldName(e.text)
	kw := countDeathPhrases(folded)
	if kw > 3 {
		kw = 3
	}
	score += 0.05 * float64(kw)

	switch n := len(e.text); {
	case n >= 1000:
		score += 0.10
	case n >= 400:
		score += 0.07
	case n >= 150:
		score += 0.04
	}

	if e.nameMatched {
		score += 0.05
	}
	if e.yearMatched {
		score += 0.05
	}
	if e.hasLocation {
		score += 0.05
	}
	if e.factors > 0 {
		f := e.factors
		if f > 2 {
			f = 2
		}
		score += 0.03 * float64(f)
	}
	if e.trusted {
		score += 0.05
	}
	return capConfidence(score)
}

// searchQuery renders the standard cause-of-death query for a subject:
// quoted name, lifespan when known, then the intent phrase.
func searchQuery(subject model.Subject) string {
	if subject.BirthYear == "" && subject.DeathYear == "" {
		return fmt.Sprintf("%q cause of death", subject.Name)
	}
	return fmt.Sprintf("%q (%s) cause of death", subject.Name, subject.Lifespan())
}
