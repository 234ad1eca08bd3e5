package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/internal/source"
	"github.com/deadonfilm/deadonfilm/pkg/anthropic"
)

const consolidateSystemPrompt = `You are an editor consolidating research notes about how a film or television actor died. You receive raw text gathered from several sources, possibly contradictory or redundant. Produce one clean, publication-ready record.

Respond with a single JSON object and nothing else:
{
  "circumstances": "one or two sentences describing how the person died, empty if the sources do not establish it",
  "rumored": "a disputed or unconfirmed account, if the sources mention one",
  "factors": ["zero or more of: accident, suicide, homicide, overdose, covid, cancer, heart, natural, other"],
  "related_persons": [{"name": "person involved in the death", "relationship": "their role"}],
  "location": "city or place of death, if the sources report it",
  "additional_context": "brief relevant background",
  "confidence": 0.0
}

Prefer what multiple sources agree on. Never add facts absent from the notes. Use empty strings and empty arrays for anything the notes do not support.`

// Token counts sizing the pre-call estimate: the notes plus a JSON
// answer.
const (
	consolidateEstimateInput  = 4000
	consolidateEstimateOutput = 600

	// maxNoteLen bounds how much raw text any one source contributes.
	maxNoteLen = 1500
)

// Consolidator is the cleanup stage: one model call that folds every
// source's raw text into a single structured record.
type Consolidator struct {
	client  anthropic.Client
	modelID string
	calc    *cost.Calculator
	ledger  *cost.Ledger
}

// NewConsolidator builds the cleanup stage. The ledger meters the call
// like any other source lookup.
func NewConsolidator(client anthropic.Client, modelID string, calc *cost.Calculator, ledger *cost.Ledger) *Consolidator {
	return &Consolidator{client: client, modelID: modelID, calc: calc, ledger: ledger}
}

// Available reports whether the stage can run.
func (c *Consolidator) Available() bool { return c != nil && c.client != nil }

// EstimatedCost is the declared pre-call estimate in USD.
func (c *Consolidator) EstimatedCost() float64 {
	est := c.calc.Claude(c.modelID, false, consolidateEstimateInput, consolidateEstimateOutput, 0, 0)
	if est == 0 {
		est = fallbackConsolidateEstimate
	}
	return est
}

const fallbackConsolidateEstimate = 0.03

// Run consolidates an outcome's raw per-source text into one record.
// The consolidated fields replace the merged ones where set; provenance
// for untouched fields is preserved. Returns the outcome unchanged when
// fewer than two sources contributed text.
func (c *Consolidator) Run(ctx context.Context, outcome *Outcome) error {
	notes := collectNotes(outcome)
	if len(notes) < 2 {
		return nil
	}

	if err := c.ledger.Authorize(c.EstimatedCost()); err != nil {
		return err
	}

	prompt := buildConsolidatePrompt(outcome.Subject, notes)
	temp := 0.1
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.modelID,
		MaxTokens:   1024,
		System:      anthropic.BuildCachedSystemBlocks(consolidateSystemPrompt),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return eris.Wrap(err, "enrich: consolidate call")
	}

	spent := c.calc.Claude(c.modelID, false,
		int(resp.Usage.InputTokens),
		int(resp.Usage.OutputTokens),
		int(resp.Usage.CacheCreationInputTokens),
		int(resp.Usage.CacheReadInputTokens),
	)
	c.ledger.Charge(spent)
	outcome.TotalCostUSD += spent
	resp.Usage.LogCost(c.modelID, "consolidate")

	text := firstTextBlock(resp.Content)
	if text == "" {
		return eris.New("enrich: consolidate response had no text content")
	}

	ans, err := source.ParseModelAnswer(text)
	if err != nil {
		return resilience.NewMalformedOutputError("consolidate", err)
	}

	applyConsolidated(outcome, ans)
	return nil
}

// note pairs a source name with the raw text it contributed.
type note struct {
	source string
	text   string
}

func collectNotes(outcome *Outcome) []note {
	var notes []note
	for _, att := range outcome.Attempts {
		if !att.Success || att.Data == nil {
			continue
		}
		text := strings.TrimSpace(att.RawPayload)
		if text == "" {
			text = strings.TrimSpace(att.Data.Circumstances)
		}
		if text == "" {
			continue
		}
		if len(text) > maxNoteLen {
			text = text[:maxNoteLen]
		}
		notes = append(notes, note{source: att.Source, text: text})
	}
	return notes
}

func buildConsolidatePrompt(subject model.Subject, notes []note) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consolidate these notes about the death of %s (%s):\n", subject.Name, subject.Lifespan())
	for _, n := range notes {
		fmt.Fprintf(&b, "\n[%s]\n%s\n", n.source, n.text)
	}
	b.WriteString("\nReply with the JSON object described in your instructions.")
	return b.String()
}

// applyConsolidated overwrites the merged fields with the cleaned
// record, stamping replaced fields with a synthetic "consolidate"
// provenance that keeps the winning source visible in its URL slot.
func applyConsolidated(outcome *Outcome, ans *source.ModelAnswer) {
	data := ans.Data()
	if data.IsEmpty() {
		return
	}

	att := model.SourceAttemptResult{
		Source:      "consolidate",
		SourceType:  model.SourceTypeAIAnswer,
		Category:    model.CategoryAI,
		Success:     true,
		Confidence:  outcome.Confidence,
		RetrievedAt: nowUTC(),
	}

	merged := outcome.Data
	if data.Circumstances != "" {
		merged.Circumstances = ""
	}
	if data.Rumored != "" {
		merged.Rumored = ""
	}
	if len(data.Factors) > 0 {
		merged.Factors = nil
	}
	if len(data.RelatedPersons) > 0 {
		merged.RelatedPersons = nil
	}
	if data.Location != "" {
		merged.Location = ""
	}
	if data.AdditionalContext != "" {
		merged.AdditionalContext = ""
	}
	merged.Merge(*data, att)
	outcome.Data = merged
	if ans.Confidence > outcome.Confidence && ans.Confidence <= 1 {
		outcome.Confidence = ans.Confidence
	}
}

// nowUTC is swapped in tests for deterministic timestamps.
var nowUTC = func() time.Time { return time.Now().UTC() }

func firstTextBlock(blocks []anthropic.ContentBlock) string {
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			return b.Text
		}
	}
	return ""
}
