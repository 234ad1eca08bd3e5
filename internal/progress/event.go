// Package progress defines the typed event stream emitted by the
// enrichment engine. The core never writes to a console; it emits
// events on a channel and whichever presentation layer is active
// consumes them.
package progress

import "time"

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageSubjectStart   Stage = "SUBJECT_START"
	StageSubjectDone    Stage = "SUBJECT_DONE"
	StageSourceStart    Stage = "SOURCE_START"
	StageSourceDone     Stage = "SOURCE_DONE"
	StageSourceSkipped  Stage = "SOURCE_SKIPPED"
	StageLinkFetch      Stage = "LINK_FETCH"
	StageBatchSubmitted Stage = "BATCH_SUBMITTED"
	StageBatchPoll      Stage = "BATCH_POLL"
	StageBatchResult    Stage = "BATCH_RESULT"
	StageCheckpoint     Stage = "CHECKPOINT_SAVED"
)

// Event captures one milestone of an enrichment run. Fields beyond
// RunID/TS/Stage are filled only where they apply.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// PersonID and Name scope subject-level events.
	PersonID int64
	Name     string
	// Source and Category scope adapter-level events.
	Source   string
	Category string
	// URL is set on link-follower fetches.
	URL string
	// Confidence reports the attempt's score on SOURCE_DONE.
	Confidence float64
	// CostUSD carries the incremental spend for metered steps.
	CostUSD float64
	// Count/Total carry progress counters (subjects done, batch results).
	Count int
	Total int
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}
