package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldProvenance_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	fp := FieldProvenance{
		ID:           1,
		RunID:        "run-abc",
		PersonID:     148,
		FieldKey:     FieldCircumstances,
		WinnerSource: "wikipedia",
		WinnerValue:  "complications from surgery",
		Confidence:   0.85,
		Threshold:    0.70,
		ThresholdMet: true,
		Attempts: []ProvenanceAttempt{
			{
				Source:     "wikidata",
				SourceType: SourceTypeKnowledgeBase,
				Success:    false,
				Err:        "no death claims on entity",
			},
			{
				Source:     "wikipedia",
				SourceType: SourceTypeEncyclopedia,
				SourceURL:  "https://en.wikipedia.org/wiki/Test_Actor",
				Success:    true,
				Confidence: 0.85,
			},
		},
		CostUSD:   0.0,
		CreatedAt: now,
	}

	data, err := json.Marshal(fp)
	require.NoError(t, err)

	var decoded FieldProvenance
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, fp.RunID, decoded.RunID)
	assert.Equal(t, fp.PersonID, decoded.PersonID)
	assert.Equal(t, fp.FieldKey, decoded.FieldKey)
	assert.Equal(t, fp.WinnerSource, decoded.WinnerSource)
	assert.Equal(t, fp.WinnerValue, decoded.WinnerValue)
	assert.InDelta(t, fp.Confidence, decoded.Confidence, 0.001)
	assert.True(t, decoded.ThresholdMet)
	require.Len(t, decoded.Attempts, 2)
	assert.Equal(t, "wikidata", decoded.Attempts[0].Source)
	assert.False(t, decoded.Attempts[0].Success)
	assert.Equal(t, "wikipedia", decoded.Attempts[1].Source)
	assert.True(t, decoded.Attempts[1].Success)
}

func TestAttemptOf(t *testing.T) {
	t.Parallel()

	att := SourceAttemptResult{
		Source:     "perplexity",
		SourceType: SourceTypeAIAnswer,
		Category:   CategoryAI,
		Success:    true,
		Confidence: 0.9,
		SourceURL:  "https://example.com/answer",
		CostUSD:    0.005,
	}

	pa := AttemptOf(att)
	assert.Equal(t, att.Source, pa.Source)
	assert.Equal(t, att.SourceType, pa.SourceType)
	assert.Equal(t, att.SourceURL, pa.SourceURL)
	assert.True(t, pa.Success)
	assert.InDelta(t, 0.9, pa.Confidence, 0.001)
	assert.InDelta(t, 0.005, pa.CostUSD, 0.0001)
}

func TestFieldProvenance_NilAttempts(t *testing.T) {
	t.Parallel()

	fp := FieldProvenance{
		RunID:    "run-1",
		PersonID: 42,
		FieldKey: FieldLocation,
	}

	data, err := json.Marshal(fp)
	require.NoError(t, err)

	var decoded FieldProvenance
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.Attempts)
}
