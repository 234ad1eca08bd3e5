package model

import "time"

// SourceType tags where an attempt's data came from.
type SourceType string

const (
	SourceTypeKnowledgeBase SourceType = "knowledge_base"
	SourceTypeEncyclopedia  SourceType = "encyclopedia"
	SourceTypeWebSearch     SourceType = "web_search"
	SourceTypeObituary      SourceType = "obituary"
	SourceTypeAIAnswer      SourceType = "ai_answer"
	SourceTypeAIBatch       SourceType = "ai_batch"
)

// SourceCategory groups adapters for cascade ordering, cost gating, and
// circuit breaking. The cascade always tries free before paid before ai.
type SourceCategory string

const (
	CategoryFree SourceCategory = "free"
	CategoryPaid SourceCategory = "paid"
	CategoryAI   SourceCategory = "ai"
)

// AllCategories returns the closed set of categories in cascade order.
func AllCategories() []SourceCategory {
	return []SourceCategory{CategoryFree, CategoryPaid, CategoryAI}
}

// SourceAttemptResult is the immutable outcome of one adapter invocation.
// Failures are values, not errors: a fault inside an adapter becomes a
// result with Success=false and Err set, so the cascade can move on.
type SourceAttemptResult struct {
	Source      string         `json:"source"`
	SourceType  SourceType     `json:"source_type"`
	Category    SourceCategory `json:"category"`
	Success     bool           `json:"success"`
	Skipped     bool           `json:"skipped,omitempty"` // gated before any call was issued
	Confidence  float64        `json:"confidence"`
	QueryUsed   string         `json:"query_used,omitempty"`
	SourceURL   string         `json:"source_url,omitempty"`
	RawPayload  string         `json:"raw_payload,omitempty"`
	CostUSD     float64        `json:"cost_usd"`
	RetrievedAt time.Time      `json:"retrieved_at"`
	DurationMS  int64          `json:"duration_ms"`
	Err         string         `json:"error,omitempty"`

	// FetchMethod records how page content was retrieved when the adapter
	// followed links: direct, wayback, memento, jina, or firecrawl.
	FetchMethod   string `json:"fetch_method,omitempty"`
	LinksFollowed int    `json:"links_followed,omitempty"`
	PagesFetched  int    `json:"pages_fetched,omitempty"`

	// Data carries whatever fields the source extracted. Nil on failure
	// and on skips.
	Data *EnrichmentData `json:"data,omitempty"`

	// Cause retains the typed error behind Err so callers can classify
	// the failure. Never serialized.
	Cause error `json:"-"`
}

// Found reports whether the attempt produced at least one usable field.
func (r SourceAttemptResult) Found() bool {
	return r.Success && r.Data != nil && !r.Data.IsEmpty()
}
