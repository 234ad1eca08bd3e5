package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/progress"
	"github.com/deadonfilm/deadonfilm/internal/source"
	"github.com/deadonfilm/deadonfilm/pkg/anthropic"
)

// State names the runner's position in the batch lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitted  State = "submitted"
	StatePolling    State = "polling"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// ErrPollTimeout reports that the batch did not end within MaxWait. The
// remote batch has been cancelled and the checkpoint retained, so a
// later run can account for any partial charges.
var ErrPollTimeout = eris.New("batch: timed out waiting for batch to end")

// Token counts sizing the pre-submission cost estimate per subject.
const (
	batchEstimateInput  = 1500
	batchEstimateOutput = 500

	// batchSourceName tags enrichment rows written by this pipeline.
	batchSourceName = "claude-batch"
)

// Persister is the slice of the store the runner writes through.
type Persister interface {
	UpsertDeathRecord(ctx context.Context, personID int64, data model.EnrichmentData, supersede bool) error
	SaveFieldProvenance(ctx context.Context, rows []model.FieldProvenance) error
	InvalidateCache(ctx context.Context, personID int64) error
}

// Config tunes one batch run.
type Config struct {
	// ModelID picks the Claude model for every request in the batch.
	ModelID string
	// MaxTokens bounds each response.
	MaxTokens int64
	// PollInterval is the fixed delay between status checks.
	PollInterval time.Duration
	// MaxWait bounds total polling before the batch is cancelled.
	MaxWait time.Duration
	// CheckpointEvery saves the checkpoint after that many results.
	CheckpointEvery int
	// Fresh lets batch results replace fields already on record.
	Fresh bool
	// Threshold is the confidence bar recorded with provenance rows.
	Threshold float64
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 24 * time.Hour
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 25
	}
	if c.Threshold <= 0 {
		c.Threshold = 0.5
	}
	return c
}

// Runner drives one backfill run through the Message Batches API:
// submit (or re-attach), poll, stream results, persist, checkpoint.
type Runner struct {
	client  anthropic.Client
	cps     CheckpointStore
	persist Persister
	calc    *cost.Calculator
	ledger  *cost.Ledger
	emitter *progress.Emitter
	cfg     Config
	runID   string

	mu     sync.Mutex
	state  State
	cancel sync.Once
}

// NewRunner wires a batch runner. The emitter and ledger may be nil.
func NewRunner(client anthropic.Client, cps CheckpointStore, persist Persister,
	calc *cost.Calculator, ledger *cost.Ledger, emitter *progress.Emitter,
	cfg Config, runID string) *Runner {
	return &Runner{
		client:  client,
		cps:     cps,
		persist: persist,
		calc:    calc,
		ledger:  ledger,
		emitter: emitter,
		cfg:     cfg.withDefaults(),
		runID:   runID,
		state:   StateIdle,
	}
}

// State reports the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run executes one batch pass over subjects. A checkpoint left by an
// interrupted run is honored: already-processed subjects are skipped,
// and a recorded batch ID is re-attached to instead of submitting a new
// batch. The checkpoint is deleted only after every result has been
// streamed and persisted.
func (r *Runner) Run(ctx context.Context, subjects []model.Subject) (*model.RunStats, error) {
	stats := &model.RunStats{
		RunID:     r.runID,
		Mode:      "batch",
		StartedAt: time.Now().UTC(),
	}
	defer func() { stats.FinishedAt = time.Now().UTC() }()

	cp, err := r.cps.Load()
	if err != nil {
		r.setState(StateFailed)
		return stats, err
	}
	resumed := cp != nil
	if cp == nil {
		cp = NewCheckpoint(r.runID)
	} else if cp.RunID != "" {
		// A resumed run keeps its original identity so provenance and
		// stats rows stay attributable to one run.
		r.runID = cp.RunID
		stats.RunID = cp.RunID
	}

	pending := make([]model.Subject, 0, len(subjects))
	index := make(map[string]model.Subject, len(subjects))
	for _, s := range subjects {
		if !s.NeedsEnrichment() || cp.IsProcessed(s.PersonID) {
			stats.SubjectsSkipped++
			continue
		}
		pending = append(pending, s)
		index[s.NConst()] = s
	}
	if resumed {
		zap.L().Info("batch: resuming from checkpoint",
			zap.String("run_id", r.runID),
			zap.String("batch_id", cp.BatchID),
			zap.Int("already_processed", len(cp.Processed)),
			zap.Int("pending", len(pending)),
		)
	}

	if cp.BatchID == "" {
		if len(pending) == 0 {
			r.setState(StateCompleted)
			return stats, r.cps.Remove()
		}
		if err := r.submit(ctx, cp, pending); err != nil {
			r.setState(StateFailed)
			return stats, err
		}
		r.setState(StateSubmitted)
	} else {
		r.setState(StateSubmitted)
		r.emit(progress.Event{
			Stage: progress.StageBatchSubmitted,
			Note:  "re-attached to batch " + cp.BatchID,
		})
	}

	r.setState(StatePolling)
	if err := r.poll(ctx, cp.BatchID); err != nil {
		return stats, err
	}

	r.setState(StateProcessing)
	if err := r.process(ctx, cp, index, stats); err != nil {
		r.setState(StateFailed)
		return stats, err
	}

	stats.TotalCostUSD = r.roundTotal(stats.TotalCostUSD)
	if err := r.cps.Remove(); err != nil {
		r.setState(StateFailed)
		return stats, err
	}
	r.setState(StateCompleted)
	zap.L().Info("batch: run complete",
		zap.String("run_id", r.runID),
		zap.Int("enriched", stats.SubjectsEnriched),
		zap.Int("failed", stats.SubjectsFailed),
		zap.Float64("cost_usd", stats.TotalCostUSD),
	)
	return stats, nil
}

// submit creates the remote batch and records its ID in the checkpoint
// before anything else can happen to it.
func (r *Runner) submit(ctx context.Context, cp *Checkpoint, pending []model.Subject) error {
	if r.ledger != nil {
		perSubject := r.calc.Claude(r.cfg.ModelID, true, batchEstimateInput, batchEstimateOutput, 0, 0)
		if err := r.ledger.Authorize(perSubject * float64(len(pending))); err != nil {
			return eris.Wrap(err, "batch: submission refused")
		}
	}

	items := make([]anthropic.BatchRequestItem, 0, len(pending))
	for _, s := range pending {
		temp := 0.2
		items = append(items, anthropic.BatchRequestItem{
			CustomID: s.NConst(),
			Params: anthropic.MessageRequest{
				Model:       r.cfg.ModelID,
				MaxTokens:   r.cfg.MaxTokens,
				System:      anthropic.BuildCachedSystemBlocks(source.SystemPrompt),
				Messages:    []anthropic.Message{{Role: "user", Content: source.BuildEnrichmentPrompt(s)}},
				Temperature: &temp,
			},
		})
	}

	// Warm the prompt cache with one sequential request so the batch items
	// hit the cached system prompt instead of each paying to write it. A
	// failed primer only costs the discount, so it is not fatal.
	if len(items) > 1 {
		temp := 0.0
		_, err := anthropic.PrimerRequest(ctx, r.client, anthropic.MessageRequest{
			Model:       r.cfg.ModelID,
			MaxTokens:   1,
			System:      anthropic.BuildCachedSystemBlocks(source.SystemPrompt),
			Messages:    []anthropic.Message{{Role: "user", Content: "ok"}},
			Temperature: &temp,
		})
		if err != nil {
			zap.L().Warn("batch: cache primer failed", zap.Error(err))
		}
	}

	resp, err := r.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return eris.Wrap(err, "batch: create batch")
	}

	cp.BatchID = resp.ID
	cp.Counters.Submitted = len(items)
	if err := r.cps.Save(cp); err != nil {
		return err
	}

	zap.L().Info("batch: submitted",
		zap.String("run_id", r.runID),
		zap.String("batch_id", resp.ID),
		zap.Int("requests", len(items)),
	)
	r.emit(progress.Event{
		Stage: progress.StageBatchSubmitted,
		Total: len(items),
		Note:  "batch " + resp.ID,
	})
	return nil
}

// poll checks batch status at a fixed interval until it ends. Hitting
// MaxWait or context cancellation cancels the remote batch exactly once
// and returns ErrPollTimeout.
func (r *Runner) poll(ctx context.Context, batchID string) error {
	deadline := time.Now().Add(r.cfg.MaxWait)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		b, err := r.client.GetBatch(ctx, batchID)
		if err != nil {
			r.setState(StateFailed)
			return eris.Wrapf(err, "batch: poll %s", batchID)
		}
		r.emit(progress.Event{
			Stage: progress.StageBatchPoll,
			Count: int(b.RequestCounts.Succeeded + b.RequestCounts.Errored + b.RequestCounts.Expired),
			Total: int(b.RequestCounts.Processing + b.RequestCounts.Succeeded + b.RequestCounts.Errored + b.RequestCounts.Expired),
			Note:  b.ProcessingStatus,
		})

		switch b.ProcessingStatus {
		case "ended":
			return nil
		case "canceling", "canceled":
			r.setState(StateCancelled)
			return eris.Errorf("batch: %s was cancelled remotely", batchID)
		}

		if time.Now().After(deadline) {
			return r.cancelBatch(ctx, batchID)
		}

		select {
		case <-ctx.Done():
			return r.cancelBatch(ctx, batchID)
		case <-ticker.C:
		}
	}
}

// cancelBatch issues at most one remote cancellation, then reports the
// timeout. The checkpoint stays on disk so operators can reconcile any
// partially charged work.
func (r *Runner) cancelBatch(ctx context.Context, batchID string) error {
	r.cancel.Do(func() {
		// The poll context may already be dead; the cancellation call
		// still has to reach the API.
		cctx, done := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer done()
		if _, err := r.client.CancelBatch(cctx, batchID); err != nil {
			zap.L().Error("batch: cancel failed",
				zap.String("batch_id", batchID),
				zap.Error(err),
			)
			return
		}
		zap.L().Warn("batch: cancelled after timeout", zap.String("batch_id", batchID))
	})
	r.setState(StateCancelled)
	return ErrPollTimeout
}

// process streams results, persists successes, and checkpoints as it
// goes. Per-item failures are counted, never fatal.
func (r *Runner) process(ctx context.Context, cp *Checkpoint, index map[string]model.Subject, stats *model.RunStats) error {
	iter, err := r.client.GetBatchResults(ctx, cp.BatchID)
	if err != nil {
		return eris.Wrapf(err, "batch: fetch results for %s", cp.BatchID)
	}
	defer iter.Close()

	sinceSave := 0
	for iter.Next() {
		item := iter.Item()
		subject, ok := index[item.CustomID]
		if !ok {
			// Already handled before the interruption, or not one of ours.
			zap.L().Debug("batch: skipping result", zap.String("custom_id", item.CustomID))
			continue
		}

		switch item.Type {
		case "succeeded":
			if err := r.handleSuccess(ctx, cp, subject, item.Message, stats); err != nil {
				return err
			}
		case "expired":
			cp.Counters.Expired++
			stats.SubjectsFailed++
			stats.CountError(model.ErrClassTimeout)
		default: // errored, canceled
			cp.Counters.Errored++
			stats.SubjectsFailed++
			stats.CountError(model.ErrClassTransient)
		}

		stats.SubjectsProcessed++
		cp.MarkProcessed(subject.PersonID)
		r.emit(progress.Event{
			Stage:    progress.StageBatchResult,
			PersonID: subject.PersonID,
			Name:     subject.Name,
			Count:    stats.SubjectsProcessed,
			Total:    cp.Counters.Submitted,
			Note:     item.Type,
		})

		sinceSave++
		if sinceSave >= r.cfg.CheckpointEvery {
			if err := r.cps.Save(cp); err != nil {
				return err
			}
			r.emit(progress.Event{Stage: progress.StageCheckpoint, Count: len(cp.Processed)})
			sinceSave = 0
		}
	}
	if err := iter.Err(); err != nil {
		return eris.Wrap(err, "batch: stream results")
	}
	return nil
}

// handleSuccess parses one model answer, merges it with provenance, and
// writes it through the store. An unparseable or empty answer counts
// against the run but does not abort it.
func (r *Runner) handleSuccess(ctx context.Context, cp *Checkpoint, subject model.Subject, msg *anthropic.MessageResponse, stats *model.RunStats) error {
	if msg == nil {
		cp.Counters.Errored++
		stats.SubjectsFailed++
		stats.CountError(model.ErrClassOther)
		return nil
	}

	actual := r.calc.Claude(r.cfg.ModelID, true,
		int(msg.Usage.InputTokens),
		int(msg.Usage.OutputTokens),
		int(msg.Usage.CacheCreationInputTokens),
		int(msg.Usage.CacheReadInputTokens),
	)
	if r.ledger != nil {
		r.ledger.Charge(actual)
	}
	stats.TotalCostUSD += actual

	text := ""
	for _, b := range msg.Content {
		if b.Type == "text" && b.Text != "" {
			text = b.Text
			break
		}
	}

	ans, err := source.ParseModelAnswer(text)
	if err != nil {
		zap.L().Warn("batch: unparseable answer",
			zap.Int64("person_id", subject.PersonID),
			zap.Error(err),
		)
		cp.Counters.Errored++
		stats.SubjectsFailed++
		stats.CountError(model.ErrClassMalformed)
		return nil
	}

	data := ans.Data()
	cp.Counters.Succeeded++
	if data.IsEmpty() {
		// The model found nothing reliable. Absence is an answer.
		return nil
	}

	att := model.SourceAttemptResult{
		Source:      batchSourceName,
		SourceType:  model.SourceTypeAIBatch,
		Category:    model.CategoryAI,
		Success:     true,
		Confidence:  source.AnswerConfidence(ans, data),
		RawPayload:  text,
		CostUSD:     actual,
		RetrievedAt: time.Now().UTC(),
	}

	var merged model.EnrichmentData
	updated := merged.Merge(*data, att)
	if len(updated) == 0 {
		return nil
	}

	if err := r.persist.UpsertDeathRecord(ctx, subject.PersonID, merged, r.cfg.Fresh); err != nil {
		return eris.Wrapf(err, "batch: persist subject %d", subject.PersonID)
	}
	if err := r.persist.InvalidateCache(ctx, subject.PersonID); err != nil {
		return eris.Wrapf(err, "batch: invalidate cache for subject %d", subject.PersonID)
	}

	rows := make([]model.FieldProvenance, 0, len(updated))
	now := time.Now().UTC()
	for _, key := range updated {
		cp.CountField(key)
		stats.CountField(key)
		rows = append(rows, model.FieldProvenance{
			RunID:        r.runID,
			PersonID:     subject.PersonID,
			FieldKey:     key,
			WinnerSource: batchSourceName,
			WinnerValue:  merged.FieldText(key),
			Confidence:   att.Confidence,
			Threshold:    r.cfg.Threshold,
			ThresholdMet: att.Confidence >= r.cfg.Threshold,
			Attempts:     []model.ProvenanceAttempt{model.AttemptOf(att)},
			CostUSD:      actual,
			CreatedAt:    now,
		})
	}
	if err := r.persist.SaveFieldProvenance(ctx, rows); err != nil {
		return eris.Wrapf(err, "batch: save provenance for subject %d", subject.PersonID)
	}

	stats.SubjectsEnriched++
	return nil
}

func (r *Runner) emit(evt progress.Event) {
	if r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	r.emitter.Emit(evt)
}

// roundTotal trims float drift from summed per-item costs.
func (r *Runner) roundTotal(v float64) float64 {
	return float64(int64(v*1e6+0.5)) / 1e6
}
