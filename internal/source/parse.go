package source

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

// ModelAnswer is the JSON shape the enrichment prompts request.
type ModelAnswer struct {
	Circumstances     string                `json:"circumstances"`
	Rumored           string                `json:"rumored"`
	Factors           []string              `json:"factors"`
	RelatedPersons    []RelatedPersonAnswer `json:"related_persons"`
	Location          string                `json:"location"`
	AdditionalContext string                `json:"additional_context"`
	Confidence        float64               `json:"confidence"`
}

// RelatedPersonAnswer is one entry of the related_persons array.
type RelatedPersonAnswer struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
}

var (
	fenceRe      = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	factorsRe    = regexp.MustCompile(`"factors"\s*:\s*\[([^\]]*)\]`)
	quotedRe     = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	confidenceRe = regexp.MustCompile(`"confidence"\s*:\s*([0-9.]+)`)

	circumstancesRe = answerFieldRe("circumstances")
	rumoredRe       = answerFieldRe("rumored")
	locationRe      = answerFieldRe("location")
	contextRe       = answerFieldRe("additional_context")
)

func answerFieldRe(key string) *regexp.Regexp {
	return regexp.MustCompile(`"` + key + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
}

// ParseModelAnswer extracts the structured answer from raw model text.
// It tries strict JSON first (tolerating code fences and prose around
// the object), then falls back to regex extraction of the known fields
// before giving up.
func ParseModelAnswer(raw string) (*ModelAnswer, error) {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			var ans ModelAnswer
			if err := json.Unmarshal([]byte(text[i:j+1]), &ans); err == nil {
				return &ans, nil
			}
		}
	}

	ans := &ModelAnswer{
		Circumstances:     regexField(circumstancesRe, raw),
		Rumored:           regexField(rumoredRe, raw),
		Location:          regexField(locationRe, raw),
		AdditionalContext: regexField(contextRe, raw),
	}
	if m := factorsRe.FindStringSubmatch(raw); m != nil {
		for _, q := range quotedRe.FindAllStringSubmatch(m[1], -1) {
			ans.Factors = append(ans.Factors, q[1])
		}
	}
	if m := confidenceRe.FindStringSubmatch(raw); m != nil {
		if c, err := strconv.ParseFloat(m[1], 64); err == nil {
			ans.Confidence = c
		}
	}

	if ans.Empty() {
		return nil, eris.New("no parseable fields in model output")
	}
	return ans, nil
}

func regexField(re *regexp.Regexp, raw string) string {
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	if s, err := strconv.Unquote(`"` + m[1] + `"`); err == nil {
		return s
	}
	return m[1]
}

// unknownAnswers are model spellings of "no information" that should
// not be stored as narrative text.
var unknownAnswers = map[string]bool{
	"":            true,
	"unknown":     true,
	"not known":   true,
	"unreported":  true,
	"undisclosed": true,
	"n/a":         true,
	"none":        true,
	"null":        true,
}

func cleanAnswerText(s string) string {
	s = strings.TrimSpace(s)
	if unknownAnswers[strings.ToLower(strings.TrimRight(s, "."))] {
		return ""
	}
	return s
}

// Empty reports whether the answer carries no usable field.
func (a *ModelAnswer) Empty() bool {
	return cleanAnswerText(a.Circumstances) == "" &&
		cleanAnswerText(a.Rumored) == "" &&
		len(a.Factors) == 0 &&
		len(a.RelatedPersons) == 0 &&
		cleanAnswerText(a.Location) == "" &&
		cleanAnswerText(a.AdditionalContext) == ""
}

// answerConfidence trusts the model's self-reported confidence when it
// gave one, otherwise scores the narrative evidence. Either way the
// single-source cap applies.
func answerConfidence(ans *ModelAnswer, data *model.EnrichmentData) float64 {
	if ans.Confidence > 0 && ans.Confidence <= 1 {
		return capConfidence(ans.Confidence)
	}
	ev := evidence{
		base:        0.45,
		text:        data.Circumstances,
		hasLocation: data.Location != "",
		factors:     len(data.Factors),
	}
	return ev.score()
}

// AnswerConfidence scores a parsed model answer the same way the
// interactive AI adapters do, so batch results rank consistently.
func AnswerConfidence(ans *ModelAnswer, data *model.EnrichmentData) float64 {
	return answerConfidence(ans, data)
}

// Data converts the answer into enrichment fields, mapping factor
// strings through the fixed vocabulary and dropping entries the model
// marked unknown.
func (a *ModelAnswer) Data() *model.EnrichmentData {
	data := &model.EnrichmentData{
		Circumstances:     cleanAnswerText(a.Circumstances),
		Rumored:           cleanAnswerText(a.Rumored),
		Location:          cleanAnswerText(a.Location),
		AdditionalContext: cleanAnswerText(a.AdditionalContext),
	}

	seen := make(map[model.Factor]bool)
	for _, s := range a.Factors {
		f, ok := model.ParseFactor(s)
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		data.Factors = append(data.Factors, f)
	}

	for _, rp := range a.RelatedPersons {
		name := strings.TrimSpace(rp.Name)
		if name == "" {
			continue
		}
		data.RelatedPersons = append(data.RelatedPersons, model.RelatedPerson{
			Name:         name,
			Relationship: strings.TrimSpace(rp.Relationship),
		})
	}
	return data
}
