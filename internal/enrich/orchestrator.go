// Package enrich walks the source cascade for one subject, merging
// partial results with per-field provenance under cost, confidence, and
// circuit-breaker policy.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/progress"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/internal/source"
)

// ReviewSink receives blocked-source flags for manual review. The store
// implements it; a nil sink drops them.
type ReviewSink interface {
	AddReviewItem(ctx context.Context, item resilience.ReviewItem) error
}

// Outcome is the full result of one subject's pass through the cascade:
// the merged fields, the ordered audit trail, and the spend.
type Outcome struct {
	Subject       model.Subject
	Data          model.EnrichmentData
	Attempts      []model.SourceAttemptResult
	TotalCostUSD  float64
	WinningSource string
	Confidence    float64

	// Aborted is set when a per-subject cost ceiling cut the cascade
	// short. The fields gathered before the ceiling are kept.
	Aborted bool
}

// Enriched reports whether the cascade produced a usable narrative.
func (o *Outcome) Enriched() bool {
	return !o.Data.IsEmpty()
}

// Stats summarizes the outcome for persistence.
func (o *Outcome) Stats(runID string) model.SubjectStats {
	s := model.SubjectStats{
		RunID:         runID,
		PersonID:      o.Subject.PersonID,
		Name:          o.Subject.Name,
		WinningSource: o.WinningSource,
		FieldsFilled:  len(o.Data.FilledFields()),
		CostUSD:       o.TotalCostUSD,
		CreatedAt:     time.Now().UTC(),
	}
	for _, att := range o.Attempts {
		if att.Skipped {
			s.SourcesSkipped++
			continue
		}
		s.SourcesAttempted++
		s.LinksFollowed += att.LinksFollowed
		s.PagesFetched += att.PagesFetched
	}
	return s
}

// ErrorCounts buckets the failed attempts for the run summary.
func (o *Outcome) ErrorCounts() map[model.ErrorClass]int {
	counts := make(map[model.ErrorClass]int)
	for _, att := range o.Attempts {
		if att.Success || att.Err == "" {
			continue
		}
		counts[classifyAttempt(att)]++
	}
	if len(counts) == 0 {
		return nil
	}
	return counts
}

func classifyAttempt(att model.SourceAttemptResult) model.ErrorClass {
	switch {
	case att.Skipped && errors.Is(att.Cause, resilience.ErrCircuitOpen):
		return model.ErrClassBreaker
	case att.Skipped && (errors.Is(att.Cause, cost.ErrSubjectCeiling) || errors.Is(att.Cause, cost.ErrRunCeiling)):
		return model.ErrClassCostLimit
	case resilience.IsMalformedOutput(att.Cause):
		return model.ErrClassMalformed
	default:
		return resilience.ClassifyError(att.Cause)
	}
}

// Orchestrator runs the source cascade. Shared policy objects — the
// circuit breakers and the cost ledger — are injected so the batch
// driver and the status server observe the same state the cascade
// mutates.
type Orchestrator struct {
	cfg      Config
	registry *source.Registry
	breakers *resilience.CategoryBreakers
	ledger   *cost.Ledger
	emitter  *progress.Emitter
	reviews  ReviewSink
	runID    string
}

// NewOrchestrator assembles the cascade engine. emitter and reviews may
// be nil.
func NewOrchestrator(cfg Config, registry *source.Registry, breakers *resilience.CategoryBreakers, ledger *cost.Ledger, emitter *progress.Emitter, reviews ReviewSink) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		breakers: breakers,
		ledger:   ledger,
		emitter:  emitter,
		reviews:  reviews,
	}
}

// WithRunID sets the run identifier stamped on progress events.
func (or *Orchestrator) WithRunID(runID string) *Orchestrator {
	or.runID = runID
	return or
}

// cascade returns the adapters to try, in priority order.
func (or *Orchestrator) cascade() []source.Adapter {
	if len(or.cfg.Order) == 0 {
		return or.registry.Ordered()
	}
	out := make([]source.Adapter, 0, len(or.cfg.Order))
	for _, name := range or.cfg.Order {
		if a, ok := or.registry.Get(name); ok {
			out = append(out, a)
		} else {
			zap.L().Warn("enrich: cascade names unknown source", zap.String("source", name))
		}
	}
	return out
}

// EnrichSubject walks the cascade for one subject. Individual source
// failures are recorded and skipped over; only a run-level cost ceiling
// breach returns an error (cost.ErrRunCeiling), with the partial
// outcome alongside it.
func (or *Orchestrator) EnrichSubject(ctx context.Context, subject model.Subject) (*Outcome, error) {
	or.ledger.StartSubject()
	outcome := &Outcome{Subject: subject}

	or.emit(progress.Event{
		Stage:    progress.StageSubjectStart,
		PersonID: subject.PersonID,
		Name:     subject.Name,
	})

	for _, adapter := range or.cascade() {
		if ctx.Err() != nil {
			return outcome, eris.Wrap(ctx.Err(), "enrich: cascade interrupted")
		}
		if !or.cfg.CategoryEnabled(adapter.Category()) || !adapter.Available() {
			continue
		}

		if att, err := or.gate(adapter, subject); att != nil {
			outcome.Attempts = append(outcome.Attempts, *att)
			if err == nil {
				// Circuit open: this category is skipped, the cascade goes on.
				continue
			}
			outcome.Aborted = true
			or.finish(outcome)
			if errors.Is(err, cost.ErrRunCeiling) {
				return outcome, err
			}
			// Per-subject ceiling: the subject is done, the run goes on.
			return outcome, nil
		}

		att := or.attempt(ctx, adapter, subject, outcome)
		outcome.Attempts = append(outcome.Attempts, att)

		// A match needs a narrative, not just confidence: structured
		// sources can clear the threshold on factors alone, and stopping
		// there would leave circumstances forever empty.
		if or.cfg.StopOnMatch &&
			outcome.Data.Circumstances != "" &&
			outcome.Confidence >= or.cfg.ConfidenceThreshold {
			break
		}
	}

	or.finish(outcome)
	return outcome, nil
}

// gate applies the circuit breaker and cost ledger before a call. It
// returns a synthetic skipped attempt when the source must not be
// called; err is non-nil only for ceiling breaches that end the
// subject or the run.
func (or *Orchestrator) gate(adapter source.Adapter, subject model.Subject) (*model.SourceAttemptResult, error) {
	category := string(adapter.Category())

	if !or.breakers.Get(category).Allow() {
		att := skippedAttempt(adapter, resilience.ErrCircuitOpen)
		or.emit(progress.Event{
			Stage:    progress.StageSourceSkipped,
			PersonID: subject.PersonID,
			Source:   adapter.Name(),
			Category: category,
			Note:     "circuit breaker open",
		})
		return &att, nil
	}

	if err := or.ledger.Authorize(adapter.EstimatedCost()); err != nil {
		att := skippedAttempt(adapter, err)
		or.emit(progress.Event{
			Stage:    progress.StageSourceSkipped,
			PersonID: subject.PersonID,
			Source:   adapter.Name(),
			Category: category,
			Note:     att.Err,
		})
		return &att, err
	}

	return nil, nil
}

// attempt issues one lookup and folds the result into the outcome.
func (or *Orchestrator) attempt(ctx context.Context, adapter source.Adapter, subject model.Subject, outcome *Outcome) model.SourceAttemptResult {
	or.emit(progress.Event{
		Stage:    progress.StageSourceStart,
		PersonID: subject.PersonID,
		Source:   adapter.Name(),
		Category: string(adapter.Category()),
	})

	att := adapter.Lookup(ctx, subject)

	or.ledger.Charge(att.CostUSD)
	outcome.TotalCostUSD += att.CostUSD

	breaker := or.breakers.Get(string(adapter.Category()))
	if att.Success {
		breaker.RecordSuccess()
	} else {
		breaker.RecordFailure()
		or.flagBlocked(ctx, subject, att)
	}

	if att.Found() && att.Confidence > 0 {
		filled := outcome.Data.Merge(*att.Data, att)
		if len(filled) > 0 && att.Confidence > outcome.Confidence {
			outcome.Confidence = att.Confidence
		}
		if ref, ok := outcome.Data.ProvenanceOf(model.FieldCircumstances); ok {
			outcome.WinningSource = ref.Source
		}
	}

	or.emit(progress.Event{
		Stage:      progress.StageSourceDone,
		PersonID:   subject.PersonID,
		Source:     adapter.Name(),
		Category:   string(adapter.Category()),
		URL:        att.SourceURL,
		Confidence: att.Confidence,
		CostUSD:    att.CostUSD,
		Note:       att.Err,
	})
	return att
}

func (or *Orchestrator) flagBlocked(ctx context.Context, subject model.Subject, att model.SourceAttemptResult) {
	var blocked *resilience.BlockedError
	if !errors.As(att.Cause, &blocked) || or.reviews == nil {
		return
	}
	if err := or.reviews.AddReviewItem(ctx, resilience.NewReviewItem(subject, blocked)); err != nil {
		zap.L().Warn("enrich: record review item",
			zap.Int64("person_id", subject.PersonID),
			zap.String("source", att.Source),
			zap.Error(err),
		)
	}
}

func (or *Orchestrator) finish(outcome *Outcome) {
	or.emit(progress.Event{
		Stage:      progress.StageSubjectDone,
		PersonID:   outcome.Subject.PersonID,
		Name:       outcome.Subject.Name,
		Confidence: outcome.Confidence,
		CostUSD:    outcome.TotalCostUSD,
		Count:      len(outcome.Data.FilledFields()),
	})
}

func (or *Orchestrator) emit(evt progress.Event) {
	evt.RunID = or.runID
	or.emitter.Emit(evt)
}

func skippedAttempt(adapter source.Adapter, cause error) model.SourceAttemptResult {
	return model.SourceAttemptResult{
		Source:      adapter.Name(),
		SourceType:  adapter.Type(),
		Category:    adapter.Category(),
		Skipped:     true,
		RetrievedAt: time.Now(),
		Err:         cause.Error(),
		Cause:       cause,
	}
}

// FieldProvenances converts a merged outcome into per-field audit rows
// for persistence. Every attempt appears in every row so a reviewer
// sees what lost as well as what won.
func FieldProvenances(runID string, outcome *Outcome, threshold float64) []model.FieldProvenance {
	attempts := make([]model.ProvenanceAttempt, 0, len(outcome.Attempts))
	for _, att := range outcome.Attempts {
		attempts = append(attempts, model.AttemptOf(att))
	}

	var rows []model.FieldProvenance
	for _, key := range outcome.Data.FilledFields() {
		ref, ok := outcome.Data.ProvenanceOf(key)
		if !ok {
			continue
		}
		rows = append(rows, model.FieldProvenance{
			RunID:        runID,
			PersonID:     outcome.Subject.PersonID,
			FieldKey:     key,
			WinnerSource: ref.Source,
			WinnerValue:  outcome.Data.FieldText(key),
			Confidence:   ref.Confidence,
			Threshold:    threshold,
			ThresholdMet: ref.Confidence >= threshold,
			Attempts:     attempts,
			CostUSD:      outcome.TotalCostUSD,
			CreatedAt:    time.Now().UTC(),
		})
	}
	return rows
}
