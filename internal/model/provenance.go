package model

import "time"

// ProvenanceAttempt records a single source attempt inside a field's
// audit row, including the attempts that lost or failed.
type ProvenanceAttempt struct {
	Source     string     `json:"source"`
	SourceType SourceType `json:"source_type"`
	SourceURL  string     `json:"source_url,omitempty"`
	Success    bool       `json:"success"`
	Confidence float64    `json:"confidence"`
	CostUSD    float64    `json:"cost_usd"`
	Err        string     `json:"error,omitempty"`
}

// FieldProvenance tracks the per-field per-run audit trail persisted
// alongside a death record: which source won the field, at what
// confidence, and the ordered attempts behind it.
type FieldProvenance struct {
	ID           int64               `json:"id,omitempty"`
	RunID        string              `json:"run_id"`
	PersonID     int64               `json:"person_id"`
	FieldKey     string              `json:"field_key"`
	WinnerSource string              `json:"winner_source"`
	WinnerValue  string              `json:"winner_value"`
	Confidence   float64             `json:"confidence"`
	Threshold    float64             `json:"threshold"`
	ThresholdMet bool                `json:"threshold_met"`
	Attempts     []ProvenanceAttempt `json:"attempts"`
	CostUSD      float64             `json:"cost_usd"`
	CreatedAt    time.Time           `json:"created_at"`
}

// AttemptOf converts a cascade attempt into its audit form.
func AttemptOf(att SourceAttemptResult) ProvenanceAttempt {
	return ProvenanceAttempt{
		Source:     att.Source,
		SourceType: att.SourceType,
		SourceURL:  att.SourceURL,
		Success:    att.Success,
		Confidence: att.Confidence,
		CostUSD:    att.CostUSD,
		Err:        att.Err,
	}
}
