package model

import "time"

// SubjectStats summarizes one subject's pass through the cascade.
type SubjectStats struct {
	RunID            string    `json:"run_id"`
	PersonID         int64     `json:"person_id"`
	Name             string    `json:"name"`
	SourcesAttempted int       `json:"sources_attempted"`
	SourcesSkipped   int       `json:"sources_skipped"`
	WinningSource    string    `json:"winning_source,omitempty"`
	FieldsFilled     int       `json:"fields_filled"`
	LinksFollowed    int       `json:"links_followed"`
	PagesFetched     int       `json:"pages_fetched"`
	CostUSD          float64   `json:"cost_usd"`
	Err              string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ErrorClass buckets failures for the run summary. Raw errors stay in
// per-subject audit trails; the operator-facing summary reports counts.
type ErrorClass string

const (
	ErrClassTransient ErrorClass = "transient"
	ErrClassBlocked   ErrorClass = "blocked"
	ErrClassCostLimit ErrorClass = "cost_limit"
	ErrClassBreaker   ErrorClass = "circuit_open"
	ErrClassTimeout   ErrorClass = "timeout"
	ErrClassMalformed ErrorClass = "malformed_output"
	ErrClassOther     ErrorClass = "other"
)

// RunStats summarizes a whole enrichment or backfill run.
type RunStats struct {
	RunID             string             `json:"run_id"`
	Mode              string             `json:"mode"` // online | batch
	StartedAt         time.Time          `json:"started_at"`
	FinishedAt        time.Time          `json:"finished_at"`
	SubjectsProcessed int                `json:"subjects_processed"`
	SubjectsEnriched  int                `json:"subjects_enriched"`
	SubjectsFailed    int                `json:"subjects_failed"`
	SubjectsSkipped   int                `json:"subjects_skipped"`
	FieldUpdates      map[string]int     `json:"field_updates,omitempty"`
	ErrorCounts       map[ErrorClass]int `json:"error_counts,omitempty"`
	TotalCostUSD      float64            `json:"total_cost_usd"`
	Err               string             `json:"error,omitempty"`
}

// CountField increments the per-field update counter.
func (r *RunStats) CountField(key string) {
	if r.FieldUpdates == nil {
		r.FieldUpdates = make(map[string]int)
	}
	r.FieldUpdates[key]++
}

// CountError increments the error-class counter.
func (r *RunStats) CountError(class ErrorClass) {
	if r.ErrorCounts == nil {
		r.ErrorCounts = make(map[ErrorClass]int)
	}
	r.ErrorCounts[class]++
}
