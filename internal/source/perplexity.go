package source

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/pkg/perplexity"
)

// PerplexityAdapter asks Perplexity Sonar, which searches the live web
// and answers with citations. Those citations become the provenance
// URL, so even an AI answer stays traceable.
type PerplexityAdapter struct {
	base
	client perplexity.Client
}

// NewPerplexityAdapter wraps a Perplexity client as a cascade adapter.
// queryCost is the flat per-query estimate.
func NewPerplexityAdapter(client perplexity.Client, queryCost float64) *PerplexityAdapter {
	return &PerplexityAdapter{
		base:   newBase("perplexity", model.SourceTypeAIAnswer, model.CategoryAI, queryCost, time.Second),
		client: client,
	}
}

func (a *PerplexityAdapter) Available() bool { return a.client != nil }

func (a *PerplexityAdapter) Lookup(ctx context.Context, subject model.Subject) model.SourceAttemptResult {
	return a.run(ctx, subject, a.perform)
}

func (a *PerplexityAdapter) perform(ctx context.Context, subject model.Subject) (*finding, error) {
	prompt := BuildEnrichmentPrompt(subject)
	f := &finding{query: prompt}

	maxTokens := 1024
	resp, err := a.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return f, err
	}
	f.costUSD = a.estCost

	if len(resp.Choices) == 0 {
		return f, eris.New("perplexity: response had no choices")
	}
	content := resp.Choices[0].Message.Content
	f.raw = content
	if len(resp.Citations) > 0 {
		f.url = resp.Citations[0]
		f.raw = content + "\n\ncitations: " + strings.Join(resp.Citations, " ")
	}

	ans, err := ParseModelAnswer(content)
	if err != nil {
		return f, resilience.NewMalformedOutputError(a.name, err)
	}

	data := ans.Data()
	if data.IsEmpty() {
		return f, nil
	}
	f.data = data
	f.confidence = answerConfidence(ans, data)
	return f, nil
}
