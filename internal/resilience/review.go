package resilience

import (
	"time"

	"github.com/deadonfilm/deadonfilm/internal/model"
)

// ReviewItem flags a blocked source/subject pair for manual review.
// Access refusals (bot walls, 403s, revoked keys) are not retried and
// must not fail silently forever; an operator decides what to do.
type ReviewItem struct {
	ID         string    `json:"id"`
	PersonID   int64     `json:"person_id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	URL        string    `json:"url,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// NewReviewItem builds the review entry for a blocked lookup. The store
// assigns the ID on insert.
func NewReviewItem(subject model.Subject, blocked *BlockedError) ReviewItem {
	return ReviewItem{
		PersonID:   subject.PersonID,
		Name:       subject.Name,
		Source:     blocked.Source,
		URL:        blocked.URL,
		StatusCode: blocked.StatusCode,
		Reason:     blocked.Error(),
		CreatedAt:  time.Now().UTC(),
	}
}

// ClassifyError buckets an error into the run-summary taxonomy. Error
// kinds defined outside this package (cost ceilings, poll timeouts,
// malformed output) are classified by their own packages before results
// reach the summary.
func ClassifyError(err error) model.ErrorClass {
	switch {
	case err == nil:
		return ""
	case IsBlocked(err):
		return model.ErrClassBlocked
	case IsTransient(err):
		return model.ErrClassTransient
	default:
		return model.ErrClassOther
	}
}
