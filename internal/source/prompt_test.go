package source

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

func TestBuildEnrichmentPrompt(t *testing.T) {
	prompt := BuildEnrichmentPrompt(testSubject())

	assert.Contains(t, prompt, "Rex Harrison")
	assert.Contains(t, prompt, "1908-1990")
	assert.Contains(t, prompt, "JSON")
}

func TestBuildEnrichmentPrompt_IncludesKnownFields(t *testing.T) {
	subject := testSubject()
	subject.Known.Location = "Manhattan, New York"
	subject.Known.Factors = []model.Factor{model.FactorCancer}

	prompt := BuildEnrichmentPrompt(subject)
	assert.Contains(t, prompt, "Manhattan, New York")
	assert.Contains(t, prompt, "cancer")
}

func TestSystemPrompt_DescribesAnswerShape(t *testing.T) {
	for _, key := range []string{"circumstances", "rumored", "factors", "related_persons", "location", "additional_context", "confidence"} {
		assert.Contains(t, SystemPrompt, key)
	}
}
