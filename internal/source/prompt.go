package source

import (
	"fmt"
	"strings"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

// SystemPrompt primes a model to report how an actor died as strict
// JSON. Shared by the interactive AI adapters and the batch pipeline
// so cached system blocks stay identical across both paths.
const SystemPrompt = `You are a research assistant verifying how film and television actors died. Answer only from reliable reporting: major newspapers, wire services, official statements, or well-sourced reference works. If the cause of death is unknown, unreported, or disputed, say so instead of guessing.

Respond with a single JSON object and nothing else:
{
  "circumstances": "one or two sentences describing how the person died, empty if unknown",
  "rumored": "a disputed or unconfirmed account, if one circulates",
  "factors": ["zero or more of: accident, suicide, homicide, overdose, covid, cancer, heart, natural, other"],
  "related_persons": [{"name": "person involved in the death", "relationship": "their role"}],
  "location": "city or place of death, if reported",
  "additional_context": "brief relevant background",
  "confidence": 0.0
}

Set confidence between 0 and 1 to reflect the strength of the sourcing. Use empty strings and empty arrays for anything unknown. Never invent names, dates, or causes.`

// BuildEnrichmentPrompt renders the per-subject question. Known fields
// already on record are included so the model corroborates rather than
// rediscovers them.
func BuildEnrichmentPrompt(subject model.Subject) string {
	var b strings.Builder
	fmt.Fprintf(&b, "How did %s (%s), a film or television actor, die?", subject.Name, subject.Lifespan())
	if loc := strings.TrimSpace(subject.Known.Location); loc != "" {
		fmt.Fprintf(&b, " The place of death on record is %s.", loc)
	}
	if len(subject.Known.Factors) > 0 {
		labels := make([]string, len(subject.Known.Factors))
		for i, f := range subject.Known.Factors {
			labels[i] = string(f)
		}
		fmt.Fprintf(&b, " Factors already on record: %s.", strings.Join(labels, ", "))
	}
	b.WriteString(" Reply with the JSON object described in your instructions.")
	return b.String()
}
