package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

func TestMergeRecordNilExisting(t *testing.T) {
	incoming := model.EnrichmentData{Circumstances: "Died of pneumonia."}

	merged := MergeRecord(nil, incoming, false)
	assert.Equal(t, incoming, merged)
}

func TestMergeRecordExistingWins(t *testing.T) {
	existing := &model.EnrichmentData{
		Circumstances: "Died of a heart attack.",
		Provenance: map[string]model.SourceRef{
			model.FieldCircumstances: {Source: "wikidata"},
		},
	}
	incoming := model.EnrichmentData{
		Circumstances: "Died of heart failure.",
		Location:      "Palm Springs, California",
		Provenance: map[string]model.SourceRef{
			model.FieldCircumstances: {Source: "claude-batch"},
			model.FieldLocation:      {Source: "claude-batch"},
		},
	}

	merged := MergeRecord(existing, incoming, false)

	// The existing narrative stays; only the gap fills in, with the
	// contributing side's provenance.
	assert.Equal(t, "Died of a heart attack.", merged.Circumstances)
	assert.Equal(t, "Palm Springs, California", merged.Location)
	assert.Equal(t, "wikidata", merged.Provenance[model.FieldCircumstances].Source)
	assert.Equal(t, "claude-batch", merged.Provenance[model.FieldLocation].Source)
}

func TestMergeRecordSupersede(t *testing.T) {
	existing := &model.EnrichmentData{
		Circumstances: "Died of a heart attack.",
		Rumored:       "Rumored to have been poisoned.",
		Provenance: map[string]model.SourceRef{
			model.FieldCircumstances: {Source: "wikidata"},
			model.FieldRumored:       {Source: "wikipedia"},
		},
	}
	incoming := model.EnrichmentData{
		Circumstances: "Died of heart failure following surgery.",
		Provenance: map[string]model.SourceRef{
			model.FieldCircumstances: {Source: "claude-batch"},
		},
	}

	merged := MergeRecord(existing, incoming, true)

	// Incoming wins what it carries; the old record only fills gaps.
	assert.Equal(t, "Died of heart failure following surgery.", merged.Circumstances)
	assert.Equal(t, "Rumored to have been poisoned.", merged.Rumored)
	assert.Equal(t, "claude-batch", merged.Provenance[model.FieldCircumstances].Source)
	assert.Equal(t, "wikipedia", merged.Provenance[model.FieldRumored].Source)
}

func TestMergeRecordFactorsNotMixed(t *testing.T) {
	existing := &model.EnrichmentData{Factors: []model.Factor{model.FactorHeart}}
	incoming := model.EnrichmentData{Factors: []model.Factor{model.FactorCancer, model.FactorNatural}}

	merged := MergeRecord(existing, incoming, false)
	assert.Equal(t, []model.Factor{model.FactorHeart}, merged.Factors)

	superseded := MergeRecord(existing, incoming, true)
	assert.Equal(t, []model.Factor{model.FactorCancer, model.FactorNatural}, superseded.Factors)
}

func TestYearOf(t *testing.T) {
	assert.Equal(t, 1987, yearOf("1987"))
	assert.Equal(t, 0, yearOf(""))
	assert.Equal(t, 0, yearOf("19"))
	assert.Equal(t, 0, yearOf("abcd"))
}
