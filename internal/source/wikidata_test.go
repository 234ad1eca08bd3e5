package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/pkg/wikidata"
)

type stubWikidata struct {
	claims  []wikidata.DeathClaim
	err     error
	gotName string
}

func (s *stubWikidata) DeathClaims(ctx context.Context, name string, opts ...wikidata.QueryOption) ([]wikidata.DeathClaim, error) {
	s.gotName = name
	return s.claims, s.err
}

func fullClaim() wikidata.DeathClaim {
	return wikidata.DeathClaim{
		Entity:        "http://www.wikidata.org/entity/Q181916",
		Label:         "Rex Harrison",
		CauseOfDeath:  "pancreatic cancer",
		MannerOfDeath: "natural causes",
		PlaceOfDeath:  "Manhattan",
		DateOfDeath:   "1990-06-02T00:00:00Z",
		Article:       "https://en.wikipedia.org/wiki/Rex_Harrison",
	}
}

func TestWikidataLookup_FullClaim(t *testing.T) {
	stub := &stubWikidata{claims: []wikidata.DeathClaim{fullClaim()}}
	a := NewWikidataAdapter(stub)

	res := a.Lookup(context.Background(), testSubject())

	require.True(t, res.Success)
	require.True(t, res.Found())
	assert.Equal(t, "Rex Harrison", stub.gotName)
	assert.Equal(t, "wikidata", res.Source)
	assert.Equal(t, model.CategoryFree, res.Category)
	assert.Equal(t, "Died of pancreatic cancer (natural causes) in Manhattan.", res.Data.Circumstances)
	assert.Equal(t, "Manhattan", res.Data.Location)
	assert.Contains(t, res.Data.Factors, model.FactorCancer)
	assert.Contains(t, res.Data.Factors, model.FactorNatural)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Rex_Harrison", res.SourceURL)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.Zero(t, res.CostUSD)
}

func TestWikidataLookup_PrefersClaimWithCause(t *testing.T) {
	bare := wikidata.DeathClaim{Entity: "http://www.wikidata.org/entity/Q1", Label: "Rex Harrison"}
	stub := &stubWikidata{claims: []wikidata.DeathClaim{bare, fullClaim()}}
	a := NewWikidataAdapter(stub)

	res := a.Lookup(context.Background(), testSubject())
	require.True(t, res.Found())
	assert.Contains(t, res.Data.Circumstances, "pancreatic cancer")
}

func TestWikidataLookup_MannerOnly(t *testing.T) {
	claim := wikidata.DeathClaim{
		Entity:        "http://www.wikidata.org/entity/Q2",
		MannerOfDeath: "suicide",
	}
	stub := &stubWikidata{claims: []wikidata.DeathClaim{claim}}
	a := NewWikidataAdapter(stub)

	res := a.Lookup(context.Background(), testSubject())
	require.True(t, res.Found())
	assert.Equal(t, "Manner of death recorded as suicide.", res.Data.Circumstances)
	assert.Contains(t, res.Data.Factors, model.FactorSuicide)
	assert.Less(t, res.Confidence, 0.5, "manner alone is weaker evidence than a cause")
	assert.Equal(t, "http://www.wikidata.org/entity/Q2", res.SourceURL)
}

func TestWikidataLookup_NoMatchIsSuccessWithoutData(t *testing.T) {
	a := NewWikidataAdapter(&stubWikidata{})

	res := a.Lookup(context.Background(), testSubject())
	assert.True(t, res.Success)
	assert.False(t, res.Found())
	assert.Equal(t, "Rex Harrison", res.QueryUsed)
}

func TestWikidataLookup_BlockedStatus(t *testing.T) {
	stub := &stubWikidata{err: &wikidata.APIError{StatusCode: 403, Body: "banned"}}
	a := NewWikidataAdapter(stub)

	res := a.Lookup(context.Background(), testSubject())
	assert.False(t, res.Success)
	assert.True(t, resilience.IsBlocked(res.Cause))
}

func TestClaimConfidence_MonotonicInCompleteness(t *testing.T) {
	subject := testSubject()

	causeOnly := wikidata.DeathClaim{CauseOfDeath: "pancreatic cancer"}
	withManner := wikidata.DeathClaim{CauseOfDeath: "pancreatic cancer", MannerOfDeath: "natural causes"}
	full := fullClaim()

	assert.Less(t, claimConfidence(causeOnly, subject), claimConfidence(withManner, subject))
	assert.Less(t, claimConfidence(withManner, subject), claimConfidence(full, subject))
	assert.LessOrEqual(t, claimConfidence(full, subject), maxSingleSourceConfidence)
}

func TestDescribeClaim_Empty(t *testing.T) {
	assert.Empty(t, describeClaim(wikidata.DeathClaim{PlaceOfDeath: "Paris"}))
}
