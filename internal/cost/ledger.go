package cost

import (
	"sync"

	"github.com/rotisserie/eris"
)

// Distinguished ceiling errors. A subject-ceiling breach aborts the
// current subject; a run-ceiling breach aborts the whole run.
var (
	ErrSubjectCeiling = eris.New("cost: per-subject ceiling would be exceeded")
	ErrRunCeiling     = eris.New("cost: per-run ceiling would be exceeded")
)

// Ceilings caps spending in USD. Zero means no limit.
type Ceilings struct {
	PerSubjectUSD float64
	PerRunUSD     float64
}

// Totals is a read-only snapshot of ledger state.
type Totals struct {
	SubjectUSD    float64 `json:"subject_usd"`
	RunUSD        float64 `json:"run_usd"`
	PerSubjectUSD float64 `json:"per_subject_ceiling_usd,omitempty"`
	PerRunUSD     float64 `json:"per_run_ceiling_usd,omitempty"`
}

// Ledger tracks spend for the current subject and the whole run. Both
// totals are monotonically non-decreasing: a completed external call is
// never "undone", so every ceiling check happens before the call using
// the adapter's declared estimate, and the actual cost is reconciled
// afterward. The ledger is injectable so tests construct isolated
// instances.
type Ledger struct {
	mu       sync.Mutex
	ceilings Ceilings
	subject  float64
	run      float64
}

// NewLedger creates a ledger with the given ceilings.
func NewLedger(ceilings Ceilings) *Ledger {
	return &Ledger{ceilings: ceilings}
}

// StartSubject zeroes the per-subject total. The run total carries on.
func (l *Ledger) StartSubject() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subject = 0
}

// Authorize reports whether a call with the given estimated cost may be
// issued now. It returns ErrRunCeiling when the estimate would push the
// run total strictly above its ceiling, ErrSubjectCeiling likewise for
// the subject total, and nil when the call may proceed. Free calls
// (estimate 0) are always authorized.
func (l *Ledger) Authorize(estimateUSD float64) error {
	if estimateUSD < 0 {
		estimateUSD = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ceilings.PerRunUSD > 0 && l.run+estimateUSD > l.ceilings.PerRunUSD {
		return ErrRunCeiling
	}
	if l.ceilings.PerSubjectUSD > 0 && l.subject+estimateUSD > l.ceilings.PerSubjectUSD {
		return ErrSubjectCeiling
	}
	return nil
}

// Charge records the actual cost of a completed call. Negative values
// are ignored; totals only grow.
func (l *Ledger) Charge(actualUSD float64) {
	if actualUSD <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subject += actualUSD
	l.run += actualUSD
}

// SubjectTotal returns the spend recorded for the current subject.
func (l *Ledger) SubjectTotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subject
}

// RunTotal returns the spend recorded for the whole run.
func (l *Ledger) RunTotal() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run
}

// Snapshot returns the current totals and ceilings.
func (l *Ledger) Snapshot() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Totals{
		SubjectUSD:    l.subject,
		RunUSD:        l.run,
		PerSubjectUSD: l.ceilings.PerSubjectUSD,
		PerRunUSD:     l.ceilings.PerRunUSD,
	}
}
