package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/pkg/wikidata"
)

// WikidataAdapter resolves structured death claims from the Wikidata
// SPARQL endpoint: cause (P509), manner (P1196), and place (P20) of
// death. Free, and the most precise source when the subject has an
// entity with those claims filled.
type WikidataAdapter struct {
	base
	client wikidata.Client
}

// NewWikidataAdapter wraps a Wikidata client as a cascade adapter.
func NewWikidataAdapter(client wikidata.Client) *WikidataAdapter {
	return &WikidataAdapter{
		base:   newBase("wikidata", model.SourceTypeKnowledgeBase, model.CategoryFree, 0, time.Second),
		client: client,
	}
}

func (a *WikidataAdapter) Available() bool { return a.client != nil }

func (a *WikidataAdapter) Lookup(ctx context.Context, subject model.Subject) model.SourceAttemptResult {
	return a.run(ctx, subject, a.perform)
}

func (a *WikidataAdapter) perform(ctx context.Context, subject model.Subject) (*finding, error) {
	var opts []wikidata.QueryOption
	if y := yearInt(subject.DeathYear); y > 0 {
		opts = append(opts, wikidata.WithDeathYear(y))
	}

	claims, err := resilience.DoVal(ctx, retryCfg(a.name, "death claims"),
		func(ctx context.Context) ([]wikidata.DeathClaim, error) {
			cs, err := a.client.DeathClaims(ctx, subject.Name, opts...)
			var apiErr *wikidata.APIError
			if errors.As(err, &apiErr) {
				return nil, classifyStatus(a.name, "", apiErr.StatusCode, err)
			}
			return cs, err
		})
	if err != nil {
		return nil, err
	}

	f := &finding{query: subject.Name}
	claim, ok := bestClaim(claims)
	if !ok {
		return f, nil
	}

	f.url = claim.Article
	if f.url == "" {
		f.url = claim.Entity
	}
	f.raw = fmt.Sprintf("cause=%s manner=%s place=%s dod=%s",
		claim.CauseOfDeath, claim.MannerOfDeath, claim.PlaceOfDeath, claim.DateOfDeath)

	data := &model.EnrichmentData{
		Circumstances: describeClaim(claim),
		Location:      claim.PlaceOfDeath,
		Factors:       claimFactors(claim),
	}
	if data.IsEmpty() {
		return f, nil
	}
	f.data = data
	f.confidence = claimConfidence(claim, subject)
	return f, nil
}

// bestClaim prefers entities that actually carry a cause of death, then
// a manner, then whatever matched first.
func bestClaim(claims []wikidata.DeathClaim) (wikidata.DeathClaim, bool) {
	if len(claims) == 0 {
		return wikidata.DeathClaim{}, false
	}
	for _, c := range claims {
		if c.CauseOfDeath != "" {
			return c, true
		}
	}
	for _, c := range claims {
		if c.MannerOfDeath != "" {
			return c, true
		}
	}
	return claims[0], true
}

// describeClaim renders the structured claims as a short narrative.
func describeClaim(c wikidata.DeathClaim) string {
	var b strings.Builder
	switch {
	case c.CauseOfDeath != "" && c.MannerOfDeath != "":
		fmt.Fprintf(&b, "Died of %s (%s)", c.CauseOfDeath, c.MannerOfDeath)
	case c.CauseOfDeath != "":
		fmt.Fprintf(&b, "Died of %s", c.CauseOfDeath)
	case c.MannerOfDeath != "":
		fmt.Fprintf(&b, "Manner of death recorded as %s", c.MannerOfDeath)
	default:
		return ""
	}
	if c.PlaceOfDeath != "" {
		fmt.Fprintf(&b, " in %s", c.PlaceOfDeath)
	}
	b.WriteString(".")
	return b.String()
}

func claimFactors(c wikidata.DeathClaim) []model.Factor {
	var out []model.Factor
	seen := make(map[model.Factor]bool)
	for _, s := range []string{c.CauseOfDeath, c.MannerOfDeath} {
		if s == "" {
			continue
		}
		if f, ok := model.ParseFactor(s); ok && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// claimConfidence is monotonic in how complete the claim is. A bare
// manner with no cause is a weak signal; cause plus manner plus place
// on a year-matched entity approaches the single-source cap.
func claimConfidence(c wikidata.DeathClaim, subject model.Subject) float64 {
	score := 0.0
	if c.CauseOfDeath != "" {
		score = 0.60
	} else if c.MannerOfDeath != "" {
		score = 0.45
	}
	if c.CauseOfDeath != "" && c.MannerOfDeath != "" {
		score += 0.10
	}
	if c.PlaceOfDeath != "" {
		score += 0.05
	}
	if subject.DeathYear != "" && strings.HasPrefix(c.DateOfDeath, subject.DeathYear) {
		score += 0.10
	}
	return capConfidence(score)
}
