package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

const goodAnswer = `{
  "circumstances": "Died of pancreatic cancer at his home in Manhattan on June 2, 1990.",
  "rumored": "",
  "factors": ["cancer"],
  "related_persons": [{"name": "Mercia Tinker", "relationship": "wife"}],
  "location": "Manhattan, New York",
  "additional_context": "He had continued performing until weeks before his death.",
  "confidence": 0.9
}`

func TestParseModelAnswer_CleanJSON(t *testing.T) {
	ans, err := ParseModelAnswer(goodAnswer)
	require.NoError(t, err)

	assert.Contains(t, ans.Circumstances, "pancreatic cancer")
	assert.Equal(t, []string{"cancer"}, ans.Factors)
	assert.Equal(t, "Manhattan, New York", ans.Location)
	assert.Equal(t, 0.9, ans.Confidence)
	require.Len(t, ans.RelatedPersons, 1)
	assert.Equal(t, "Mercia Tinker", ans.RelatedPersons[0].Name)
}

func TestParseModelAnswer_FencedJSON(t *testing.T) {
	raw := "Here is what I found:\n```json\n" + goodAnswer + "\n```\nLet me know if you need more."
	ans, err := ParseModelAnswer(raw)
	require.NoError(t, err)
	assert.Contains(t, ans.Circumstances, "pancreatic cancer")
}

func TestParseModelAnswer_ProseWrappedJSON(t *testing.T) {
	raw := "Based on contemporary reporting: " + goodAnswer + " I hope that helps."
	ans, err := ParseModelAnswer(raw)
	require.NoError(t, err)
	assert.Equal(t, 0.9, ans.Confidence)
}

func TestParseModelAnswer_RegexFallback(t *testing.T) {
	// Trailing comma makes this invalid JSON; the field regexes still
	// recover the known keys.
	raw := `{"circumstances": "Killed in a car accident near Palm Springs.", "factors": ["accident"], "location": "Palm Springs", "confidence": 0.8,}`
	ans, err := ParseModelAnswer(raw)
	require.NoError(t, err)

	assert.Equal(t, "Killed in a car accident near Palm Springs.", ans.Circumstances)
	assert.Equal(t, []string{"accident"}, ans.Factors)
	assert.Equal(t, "Palm Springs", ans.Location)
	assert.Equal(t, 0.8, ans.Confidence)
}

func TestParseModelAnswer_EscapedQuotes(t *testing.T) {
	raw := `{"circumstances": "Dubbed \"the voice\", he died of heart failure.", "confidence": 0.7,}`
	ans, err := ParseModelAnswer(raw)
	require.NoError(t, err)
	assert.Equal(t, `Dubbed "the voice", he died of heart failure.`, ans.Circumstances)
}

func TestParseModelAnswer_NothingParseable(t *testing.T) {
	_, err := ParseModelAnswer("I could not find any information about this person.")
	assert.Error(t, err)
}

func TestModelAnswer_DataMapsFactors(t *testing.T) {
	ans := &ModelAnswer{
		Circumstances: "Died of a heart attack.",
		Factors:       []string{"heart attack", "cardiac arrest", "natural causes", "bogus-factor"},
	}
	data := ans.Data()

	assert.Equal(t, []model.Factor{model.FactorHeart, model.FactorNatural}, data.Factors)
}

func TestModelAnswer_DataDropsUnknownText(t *testing.T) {
	ans := &ModelAnswer{
		Circumstances: "Unknown.",
		Location:      "N/A",
		Rumored:       "unreported",
	}
	data := ans.Data()
	assert.True(t, data.IsEmpty())
	assert.True(t, ans.Empty())
}

func TestModelAnswer_DataSkipsBlankRelatedPersons(t *testing.T) {
	ans := &ModelAnswer{
		Circumstances:  "Died of natural causes.",
		RelatedPersons: []RelatedPersonAnswer{{Name: "  "}, {Name: "John Doe", Relationship: "brother"}},
	}
	data := ans.Data()
	require.Len(t, data.RelatedPersons, 1)
	assert.Equal(t, "John Doe", data.RelatedPersons[0].Name)
}

func TestAnswerConfidence(t *testing.T) {
	ans := &ModelAnswer{Confidence: 0.85}
	data := &model.EnrichmentData{Circumstances: "x"}
	assert.Equal(t, 0.85, answerConfidence(ans, data))

	ans = &ModelAnswer{Confidence: 1.7}
	assert.NotEqual(t, 1.7, answerConfidence(ans, data))

	ans = &ModelAnswer{}
	data = &model.EnrichmentData{
		Circumstances: "Died of pancreatic cancer at home.",
		Location:      "Manhattan",
		Factors:       []model.Factor{model.FactorCancer},
	}
	got := answerConfidence(ans, data)
	assert.Greater(t, got, 0.45)
	assert.LessOrEqual(t, got, maxSingleSourceConfidence)
}
