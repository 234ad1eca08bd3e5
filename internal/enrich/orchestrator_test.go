package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/internal/source"
)

// fakeAdapter scripts one cascade member.
type fakeAdapter struct {
	name      string
	typ       model.SourceType
	category  model.SourceCategory
	estCost   float64
	available bool
	calls     int
	result    model.SourceAttemptResult
}

func (f *fakeAdapter) Name() string                    { return f.name }
func (f *fakeAdapter) Type() model.SourceType          { return f.typ }
func (f *fakeAdapter) Category() model.SourceCategory  { return f.category }
func (f *fakeAdapter) Free() bool                      { return f.category == model.CategoryFree }
func (f *fakeAdapter) EstimatedCost() float64          { return f.estCost }
func (f *fakeAdapter) Available() bool                 { return f.available }

func (f *fakeAdapter) Lookup(_ context.Context, _ model.Subject) model.SourceAttemptResult {
	f.calls++
	r := f.result
	r.Source = f.name
	r.SourceType = f.typ
	r.Category = f.category
	return r
}

func emptySuccess() model.SourceAttemptResult {
	return model.SourceAttemptResult{Success: true}
}

func foundResult(confidence float64, text string, costUSD float64) model.SourceAttemptResult {
	return model.SourceAttemptResult{
		Success:    true,
		Confidence: confidence,
		CostUSD:    costUSD,
		Data:       &model.EnrichmentData{Circumstances: text},
	}
}

func testSubject() model.Subject {
	return model.Subject{PersonID: 1326, Name: "Rex Harrison", BirthYear: "1908", DeathYear: "1990"}
}

func newTestOrchestrator(cfg Config, ceilings cost.Ceilings, adapters ...source.Adapter) (*Orchestrator, *resilience.CategoryBreakers, *cost.Ledger) {
	reg := source.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	breakers := resilience.NewCategoryBreakers(resilience.DefaultCircuitBreakerConfig())
	ledger := cost.NewLedger(ceilings)
	return NewOrchestrator(cfg, reg, breakers, ledger, nil, nil), breakers, ledger
}

func TestEnrichSubject_StopsAfterAISourceMeetsThreshold(t *testing.T) {
	// Free sources return nothing; the paid AI source answers at 0.6
	// with a long narrative; threshold 0.5 with stop-on-match.
	long := make([]byte, 0, 210)
	for len(long) < 210 {
		long = append(long, "He died of heart failure at his home in Manhattan. "...)
	}

	free1 := &fakeAdapter{name: "wikidata", category: model.CategoryFree, available: true, result: emptySuccess()}
	free2 := &fakeAdapter{name: "wikipedia", category: model.CategoryFree, available: true, result: emptySuccess()}
	ai := &fakeAdapter{name: "claude", category: model.CategoryAI, available: true, estCost: 0.01,
		result: foundResult(0.6, string(long), 0.008)}
	never := &fakeAdapter{name: "perplexity", category: model.CategoryAI, available: true,
		result: foundResult(0.9, "should not be reached", 0.005)}

	cfg := DefaultConfig()
	or, _, _ := newTestOrchestrator(cfg, cost.Ceilings{}, free1, free2, ai, never)

	outcome, err := or.EnrichSubject(context.Background(), testSubject())
	require.NoError(t, err)

	assert.Len(t, outcome.Attempts, 3) // two free tries plus the AI source
	assert.Equal(t, 0, never.calls)
	assert.Equal(t, "claude", outcome.WinningSource)
	assert.Equal(t, 0.6, outcome.Confidence)
	assert.True(t, outcome.Enriched())
	assert.GreaterOrEqual(t, len(outcome.Data.Circumstances), 200)
}

func TestEnrichSubject_FailureIsNeverFatal(t *testing.T) {
	failing := &fakeAdapter{name: "wikidata", category: model.CategoryFree, available: true,
		result: model.SourceAttemptResult{Err: "sparql endpoint down"}}
	ok := &fakeAdapter{name: "wikipedia", category: model.CategoryFree, available: true,
		result: foundResult(0.7, "Died after a long illness at home in Sussex.", 0)}

	or, _, _ := newTestOrchestrator(DefaultConfig(), cost.Ceilings{}, failing, ok)

	outcome, err := or.EnrichSubject(context.Background(), testSubject())
	require.NoError(t, err)

	assert.Len(t, outcome.Attempts, 2)
	assert.True(t, outcome.Enriched())
	assert.Equal(t, "wikipedia", outcome.WinningSource)
}

func TestEnrichSubject_NeverExceedsSubjectCeiling(t *testing.T) {
	cheap := &fakeAdapter{name: "websearch", category: model.CategoryPaid, available: true,
		estCost: 0.004, result: foundResult(0.3, "thin lead", 0.004)}
	expensive := &fakeAdapter{name: "claude", category: model.CategoryAI, available: true,
		estCost: 0.02, result: foundResult(0.9, "never called", 0.02)}

	cfg := DefaultConfig()
	cfg.StopOnMatch = false
	or, _, ledger := newTestOrchestrator(cfg, cost.Ceilings{PerSubjectUSD: 0.01}, cheap, expensive)

	outcome, err := or.EnrichSubject(context.Background(), testSubject())
	require.NoError(t, err)

	assert.Equal(t, 0, expensive.calls)
	assert.True(t, outcome.Aborted)
	assert.LessOrEqual(t, ledger.SubjectTotal(), 0.01)

	last := outcome.Attempts[len(outcome.Attempts)-1]
	assert.True(t, last.Skipped)
	assert.ErrorIs(t, last.Cause, cost.ErrSubjectCeiling)
}

func TestEnrichSubject_RunCeilingAbortsRun(t *testing.T) {
	a := &fakeAdapter{name: "claude", category: model.CategoryAI, available: true,
		estCost: 0.05, result: foundResult(0.9, "x", 0.05)}

	or, _, _ := newTestOrchestrator(DefaultConfig(), cost.Ceilings{PerRunUSD: 0.01}, a)

	outcome, err := or.EnrichSubject(context.Background(), testSubject())
	assert.ErrorIs(t, err, cost.ErrRunCeiling)
	assert.Equal(t, 0, a.calls)
	assert.True(t, outcome.Aborted)
}

func TestEnrichSubject_OpenBreakerSkipsCategory(t *testing.T) {
	ai := &fakeAdapter{name: "claude", category: model.CategoryAI, available: true,
		result: foundResult(0.9, "unreachable", 0.01)}
	free := &fakeAdapter{name: "wikipedia", category: model.CategoryFree, available: true,
		result: foundResult(0.7, "Died of natural causes in Los Angeles.", 0)}

	or, breakers, _ := newTestOrchestrator(DefaultConfig(), cost.Ceilings{}, ai, free)

	b := breakers.Get(string(model.CategoryAI))
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, resilience.CircuitOpen, b.State())

	outcome, err := or.EnrichSubject(context.Background(), testSubject())
	require.NoError(t, err)

	assert.Equal(t, 0, ai.calls, "open category must be skipped, not attempted")
	require.True(t, outcome.Attempts[0].Skipped)
	assert.ErrorIs(t, outcome.Attempts[0].Cause, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, free.calls)
	assert.True(t, outcome.Enriched())
}

func TestEnrichSubject_SuccessResetsBreakerCount(t *testing.T) {
	a := &fakeAdapter{name: "wikidata", category: model.CategoryFree, available: true, result: emptySuccess()}
	or, breakers, _ := newTestOrchestrator(DefaultConfig(), cost.Ceilings{}, a)

	b := breakers.Get(string(model.CategoryFree))
	b.RecordFailure()
	b.RecordFailure()

	_, err := or.EnrichSubject(context.Background(), testSubject())
	require.NoError(t, err)

	failures, state := b.Counters()
	assert.Equal(t, 0, failures)
	assert.Equal(t, resilience.CircuitClosed, state)
}

func TestEnrichSubject_MergePreservesProvenance(t *testing.T) {
	first := &fakeAdapter{name: "wikidata", category: model.CategoryFree, available: true,
		result: model.SourceAttemptResult{
			Success:    true,
			Confidence: 0.6,
			Data:       &model.EnrichmentData{Location: "London, England"},
		}}
	second := &fakeAdapter{name: "wikipedia", category: model.CategoryFree, available: true,
		result: model.SourceAttemptResult{
			Success:    true,
			Confidence: 0.7,
			Data: &model.EnrichmentData{
				Circumstances: "Died of pancreatic cancer at his home.",
				Location:      "should not replace the earlier value",
			},
		}}

	cfg := DefaultConfig()
	cfg.StopOnMatch = false
	or, _, _ := newTestOrchestrator(cfg, cost.Ceilings{}, first, second)

	outcome, err := or.EnrichSubject(context.Background(), testSubject())
	require.NoError(t, err)

	assert.Equal(t, "London, England", outcome.Data.Location)

	locRef, ok := outcome.Data.ProvenanceOf(model.FieldLocation)
	require.True(t, ok)
	assert.Equal(t, "wikidata", locRef.Source)

	circRef, ok := outcome.Data.ProvenanceOf(model.FieldCircumstances)
	require.True(t, ok)
	assert.Equal(t, "wikipedia", circRef.Source)
}

func TestEnrichSubject_DisabledCategoryNotTried(t *testing.T) {
	paid := &fakeAdapter{name: "websearch", category: model.CategoryPaid, available: true,
		estCost: 0.005, result: foundResult(0.8, "x", 0.005)}

	cfg := DefaultConfig()
	cfg.Categories = map[model.SourceCategory]bool{model.CategoryFree: true}
	or, _, _ := newTestOrchestrator(cfg, cost.Ceilings{}, paid)

	outcome, err := or.EnrichSubject(context.Background(), testSubject())
	require.NoError(t, err)
	assert.Equal(t, 0, paid.calls)
	assert.Empty(t, outcome.Attempts)
}

func TestEnrichSubject_ConfigOrderOverridesRegistration(t *testing.T) {
	a := &fakeAdapter{name: "a", category: model.CategoryFree, available: true, result: emptySuccess()}
	b := &fakeAdapter{name: "b", category: model.CategoryFree, available: true, result: emptySuccess()}

	cfg := DefaultConfig()
	cfg.Order = []string{"b", "a"}
	or, _, _ := newTestOrchestrator(cfg, cost.Ceilings{}, a, b)

	outcome, err := or.EnrichSubject(context.Background(), testSubject())
	require.NoError(t, err)
	require.Len(t, outcome.Attempts, 2)
	assert.Equal(t, "b", outcome.Attempts[0].Source)
	assert.Equal(t, "a", outcome.Attempts[1].Source)
}

func TestOutcomeStats(t *testing.T) {
	outcome := &Outcome{
		Subject:       testSubject(),
		WinningSource: "wikipedia",
		TotalCostUSD:  0.02,
		Data:          model.EnrichmentData{Circumstances: "x", Location: "y"},
		Attempts: []model.SourceAttemptResult{
			{Source: "wikidata", Success: true},
			{Source: "claude", Skipped: true},
			{Source: "websearch", Success: true, LinksFollowed: 3, PagesFetched: 2},
		},
	}

	s := outcome.Stats("run-1")
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, 2, s.SourcesAttempted)
	assert.Equal(t, 1, s.SourcesSkipped)
	assert.Equal(t, 3, s.LinksFollowed)
	assert.Equal(t, 2, s.PagesFetched)
	assert.Equal(t, 2, s.FieldsFilled)
	assert.Equal(t, 0.02, s.CostUSD)
}

func TestFieldProvenances(t *testing.T) {
	data := model.EnrichmentData{}
	att := model.SourceAttemptResult{Source: "wikipedia", SourceType: model.SourceTypeEncyclopedia, Confidence: 0.7, Success: true}
	data.Merge(model.EnrichmentData{
		Circumstances: "Died in a car accident outside Palm Springs.",
		Factors:       []model.Factor{model.FactorAccident},
	}, att)

	outcome := &Outcome{
		Subject:      testSubject(),
		Data:         data,
		Attempts:     []model.SourceAttemptResult{att},
		TotalCostUSD: 0.001,
	}

	rows := FieldProvenances("run-9", outcome, 0.5)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "run-9", row.RunID)
		assert.Equal(t, int64(1326), row.PersonID)
		assert.Equal(t, "wikipedia", row.WinnerSource)
		assert.True(t, row.ThresholdMet)
		require.Len(t, row.Attempts, 1)
	}
	assert.Equal(t, "accident", rows[1].WinnerValue)
}
