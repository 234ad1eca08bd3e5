package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/pkg/anthropic"
)

// Token counts sizing the pre-call cost estimate: roughly the prompt
// plus a JSON answer.
const (
	claudeEstimateInput  = 1500
	claudeEstimateOutput = 500

	// fallbackClaudeEstimate covers models missing from the rate table.
	fallbackClaudeEstimate = 0.02
)

// ClaudeAdapter asks Claude directly, one Messages call per subject.
// The system prompt carries a cache breakpoint so consecutive subjects
// in a run hit the warm prompt cache.
type ClaudeAdapter struct {
	base
	client  anthropic.Client
	modelID string
	calc    *cost.Calculator
}

// NewClaudeAdapter wraps an Anthropic client as a cascade adapter.
func NewClaudeAdapter(client anthropic.Client, modelID string, calc *cost.Calculator) *ClaudeAdapter {
	est := calc.Claude(modelID, false, claudeEstimateInput, claudeEstimateOutput, 0, 0)
	if est == 0 {
		est = fallbackClaudeEstimate
	}
	return &ClaudeAdapter{
		base:    newBase("claude", model.SourceTypeAIAnswer, model.CategoryAI, est, 500*time.Millisecond),
		client:  client,
		modelID: modelID,
		calc:    calc,
	}
}

func (a *ClaudeAdapter) Available() bool { return a.client != nil }

func (a *ClaudeAdapter) Lookup(ctx context.Context, subject model.Subject) model.SourceAttemptResult {
	return a.run(ctx, subject, a.perform)
}

func (a *ClaudeAdapter) perform(ctx context.Context, subject model.Subject) (*finding, error) {
	prompt := BuildEnrichmentPrompt(subject)
	f := &finding{query: prompt}

	temp := 0.2
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.modelID,
		MaxTokens:   1024,
		System:      anthropic.BuildCachedSystemBlocks(SystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return f, err
	}

	f.costUSD = a.calc.Claude(a.modelID, false,
		int(resp.Usage.InputTokens),
		int(resp.Usage.OutputTokens),
		int(resp.Usage.CacheCreationInputTokens),
		int(resp.Usage.CacheReadInputTokens),
	)
	resp.Usage.LogCost(a.modelID, "enrich")

	text := firstText(resp.Content)
	f.raw = text
	if text == "" {
		return f, eris.New("claude: response had no text content")
	}

	ans, err := ParseModelAnswer(text)
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

func firstText(blocks []anthropic.ContentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			return b.Text
		}
	}
	return ""
}
