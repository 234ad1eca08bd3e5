package model

import (
	"strings"
	"time"
)

// Factor is one entry of the fixed notable-factor vocabulary.
type Factor string

const (
	FactorAccident Factor = "accident"
	FactorSuicide  Factor = "suicide"
	FactorHomicide Factor = "homicide"
	FactorOverdose Factor = "overdose"
	FactorCOVID    Factor = "covid"
	FactorCancer   Factor = "cancer"
	FactorHeart    Factor = "heart"
	FactorNatural  Factor = "natural"
	FactorOther    Factor = "other"
)

// AllFactors lists the closed vocabulary in canonical order.
func AllFactors() []Factor {
	return []Factor{
		FactorAccident,
		FactorSuicide,
		FactorHomicide,
		FactorOverdose,
		FactorCOVID,
		FactorCancer,
		FactorHeart,
		FactorNatural,
		FactorOther,
	}
}

var factorAliases = map[string]Factor{
	"covid-19":        FactorCOVID,
	"covid19":         FactorCOVID,
	"coronavirus":     FactorCOVID,
	"heart attack":    FactorHeart,
	"heart failure":   FactorHeart,
	"cardiac arrest":  FactorHeart,
	"cardiac":         FactorHeart,
	"murder":          FactorHomicide,
	"murdered":        FactorHomicide,
	"killed":          FactorHomicide,
	"drug overdose":   FactorOverdose,
	"od":              FactorOverdose,
	"car accident":    FactorAccident,
	"car crash":       FactorAccident,
	"plane crash":     FactorAccident,
	"drowning":        FactorAccident,
	"natural causes":  FactorNatural,
	"old age":         FactorNatural,
	"took own life":   FactorSuicide,
	"self-inflicted":  FactorSuicide,
	"lung cancer":     FactorCancer,
	"breast cancer":   FactorCancer,
}

// ParseFactor maps free text onto the vocabulary. Exact vocabulary
// values and known aliases resolve directly; anything else nonempty
// resolves to FactorOther with ok=false so callers can decide whether
// to keep it.
func ParseFactor(s string) (Factor, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", false
	}
	for _, f := range AllFactors() {
		if key == string(f) {
			return f, true
		}
	}
	if f, ok := factorAliases[key]; ok {
		return f, true
	}
	if strings.Contains(key, "cancer") {
		return FactorCancer, true
	}
	return FactorOther, false
}

// FactorsFromText scans a narrative for vocabulary terms and aliases,
// returning matches in canonical order. Bare "heart" and "natural" are
// too ambiguous in prose, so those factors only match through aliases.
func FactorsFromText(s string) []Factor {
	text := strings.ToLower(s)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seen := make(map[Factor]bool)
	for _, f := range AllFactors() {
		switch f {
		case FactorHeart, FactorNatural, FactorOther:
			continue
		}
		if strings.Contains(text, string(f)) {
			seen[f] = true
		}
	}
	for alias, f := range factorAliases {
		if strings.Contains(text, alias) {
			seen[f] = true
		}
	}
	out := make([]Factor, 0, len(seen))
	for _, f := range AllFactors() {
		if seen[f] {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RelatedPerson is someone named in a death narrative. PersonID is
// filled lazily when the name can be matched to a known record.
type RelatedPerson struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship,omitempty"`
	PersonID     int64  `json:"person_id,omitempty"`
}

// Field keys used in provenance maps and per-field update counters.
const (
	FieldCircumstances     = "circumstances"
	FieldRumored           = "rumored"
	FieldFactors           = "factors"
	FieldRelatedPersons    = "related_persons"
	FieldLocation          = "location"
	FieldAdditionalContext = "additional_context"
)

// FieldKeys lists every mergeable field in canonical order.
func FieldKeys() []string {
	return []string{
		FieldCircumstances,
		FieldRumored,
		FieldFactors,
		FieldRelatedPersons,
		FieldLocation,
		FieldAdditionalContext,
	}
}

// SourceRef is the provenance stamp attached to one merged field.
type SourceRef struct {
	Source      string     `json:"source"`
	SourceType  SourceType `json:"source_type"`
	SourceURL   string     `json:"source_url,omitempty"`
	Confidence  float64    `json:"confidence"`
	RetrievedAt time.Time  `json:"retrieved_at"`
}

// RefOf builds the provenance stamp for an attempt.
func RefOf(att SourceAttemptResult) SourceRef {
	return SourceRef{
		Source:      att.Source,
		SourceType:  att.SourceType,
		SourceURL:   att.SourceURL,
		Confidence:  att.Confidence,
		RetrievedAt: att.RetrievedAt,
	}
}

// EnrichmentData is the union of extractable cause-of-death fields. Any
// field may be absent; Merge fills gaps without overwriting, so the
// first sufficiently confident source wins each field.
type EnrichmentData struct {
	Circumstances     string          `json:"circumstances,omitempty"`
	Rumored           string          `json:"rumored,omitempty"` // alternative/disputed narrative
	Factors           []Factor        `json:"factors,omitempty"`
	RelatedPersons    []RelatedPerson `json:"related_persons,omitempty"`
	Location          string          `json:"location,omitempty"`
	AdditionalContext string          `json:"additional_context,omitempty"`

	// Provenance maps each filled field key to the attempt that won it.
	Provenance map[string]SourceRef `json:"provenance,omitempty"`
}

// IsEmpty reports whether no extractable field is set.
func (e EnrichmentData) IsEmpty() bool {
	return strings.TrimSpace(e.Circumstances) == "" &&
		strings.TrimSpace(e.Rumored) == "" &&
		len(e.Factors) == 0 &&
		len(e.RelatedPersons) == 0 &&
		strings.TrimSpace(e.Location) == "" &&
		strings.TrimSpace(e.AdditionalContext) == ""
}

// FilledFields lists the field keys currently set, in canonical order.
func (e EnrichmentData) FilledFields() []string {
	var keys []string
	if e.Circumstances != "" {
		keys = append(keys, FieldCircumstances)
	}
	if e.Rumored != "" {
		keys = append(keys, FieldRumored)
	}
	if len(e.Factors) > 0 {
		keys = append(keys, FieldFactors)
	}
	if len(e.RelatedPersons) > 0 {
		keys = append(keys, FieldRelatedPersons)
	}
	if e.Location != "" {
		keys = append(keys, FieldLocation)
	}
	if e.AdditionalContext != "" {
		keys = append(keys, FieldAdditionalContext)
	}
	return keys
}

// FieldText renders one field as display text for audit rows. List
// fields are joined; an unknown key renders empty.
func (e EnrichmentData) FieldText(key string) string {
	switch key {
	case FieldCircumstances:
		return e.Circumstances
	case FieldRumored:
		return e.Rumored
	case FieldFactors:
		labels := make([]string, len(e.Factors))
		for i, f := range e.Factors {
			labels[i] = string(f)
		}
		return strings.Join(labels, ",")
	case FieldRelatedPersons:
		parts := make([]string, len(e.RelatedPersons))
		for i, rp := range e.RelatedPersons {
			parts[i] = rp.Name
			if rp.Relationship != "" {
				parts[i] += " (" + rp.Relationship + ")"
			}
		}
		return strings.Join(parts, "; ")
	case FieldLocation:
		return e.Location
	case FieldAdditionalContext:
		return e.AdditionalContext
	}
	return ""
}

// ProvenanceOf returns the stamp for a filled field, if recorded.
func (e EnrichmentData) ProvenanceOf(fieldKey string) (SourceRef, bool) {
	ref, ok := e.Provenance[fieldKey]
	return ref, ok
}

// Merge copies fields set in found but still absent in e, stamping each
// newly filled field with provenance from att. Fields already present
// are never overwritten. It returns the keys that were filled.
func (e *EnrichmentData) Merge(found EnrichmentData, att SourceAttemptResult) []string {
	ref := RefOf(att)
	var filled []string

	stamp := func(key string) {
		if e.Provenance == nil {
			e.Provenance = make(map[string]SourceRef)
		}
		e.Provenance[key] = ref
		filled = append(filled, key)
	}

	if e.Circumstances == "" && found.Circumstances != "" {
		e.Circumstances = found.Circumstances
		stamp(FieldCircumstances)
	}
	if e.Rumored == "" && found.Rumored != "" {
		e.Rumored = found.Rumored
		stamp(FieldRumored)
	}
	if len(e.Factors) == 0 && len(found.Factors) > 0 {
		e.Factors = dedupeFactors(found.Factors)
		stamp(FieldFactors)
	}
	if len(e.RelatedPersons) == 0 && len(found.RelatedPersons) > 0 {
		e.RelatedPersons = append([]RelatedPerson(nil), found.RelatedPersons...)
		stamp(FieldRelatedPersons)
	}
	if e.Location == "" && found.Location != "" {
		e.Location = found.Location
		stamp(FieldLocation)
	}
	if e.AdditionalContext == "" && found.AdditionalContext != "" {
		e.AdditionalContext = found.AdditionalContext
		stamp(FieldAdditionalContext)
	}
	return filled
}

func dedupeFactors(in []Factor) []Factor {
	seen := make(map[Factor]bool, len(in))
	var out []Factor
	for _, f := range in {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
