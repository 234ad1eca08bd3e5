package cost

import (
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_AuthorizeWithinCeilings(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{PerSubjectUSD: 0.10, PerRunUSD: 1.00})

	require.NoError(t, l.Authorize(0.05))
	l.Charge(0.05)

	// Exactly reaching the ceiling is allowed; only strictly above is refused.
	require.NoError(t, l.Authorize(0.05))
	l.Charge(0.05)

	err := l.Authorize(0.01)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrSubjectCeiling))
}

func TestLedger_SubjectCeilingResetsPerSubject(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{PerSubjectUSD: 0.10})

	l.Charge(0.10)
	require.Error(t, l.Authorize(0.01))

	l.StartSubject()
	assert.NoError(t, l.Authorize(0.01))
	assert.InDelta(t, 0.10, l.RunTotal(), 1e-9)
	assert.InDelta(t, 0.0, l.SubjectTotal(), 1e-9)
}

func TestLedger_RunCeilingSurvivesSubjectReset(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{PerRunUSD: 0.20})

	l.Charge(0.15)
	l.StartSubject()

	err := l.Authorize(0.10)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRunCeiling))

	// A smaller call still fits under the run ceiling.
	assert.NoError(t, l.Authorize(0.05))
}

func TestLedger_NeverAuthorizesBreachingEstimate(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{PerSubjectUSD: 0.05, PerRunUSD: 0.08})

	// Walk a sequence of estimates; any authorized charge must keep both
	// totals at or below their ceilings.
	estimates := []float64{0.02, 0.02, 0.02, 0.02, 0.02}
	for _, est := range estimates {
		if err := l.Authorize(est); err != nil {
			continue
		}
		l.Charge(est)
		assert.LessOrEqual(t, l.SubjectTotal(), 0.05+1e-9)
		assert.LessOrEqual(t, l.RunTotal(), 0.08+1e-9)
	}
}

func TestLedger_ZeroCeilingsUnlimited(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{})

	for i := 0; i < 100; i++ {
		require.NoError(t, l.Authorize(10.0))
		l.Charge(10.0)
	}
	assert.InDelta(t, 1000.0, l.RunTotal(), 1e-9)
}

func TestLedger_FreeCallsAlwaysAuthorized(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{PerRunUSD: 0.01})
	l.Charge(0.01)

	assert.NoError(t, l.Authorize(0))
	assert.NoError(t, l.Authorize(-1)) // defensive clamp
}

func TestLedger_ChargeMonotonic(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{})

	l.Charge(0.05)
	l.Charge(-0.03) // ignored: totals never decrease
	l.Charge(0)

	assert.InDelta(t, 0.05, l.RunTotal(), 1e-9)
	assert.InDelta(t, 0.05, l.SubjectTotal(), 1e-9)
}

func TestLedger_ConcurrentCharges(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Charge(0.01)
		}()
	}
	wg.Wait()
	assert.InDelta(t, 1.00, l.RunTotal(), 1e-6)
}

func TestLedger_Snapshot(t *testing.T) {
	t.Parallel()
	l := NewLedger(Ceilings{PerSubjectUSD: 1, PerRunUSD: 5})
	l.Charge(0.25)

	snap := l.Snapshot()
	assert.InDelta(t, 0.25, snap.SubjectUSD, 1e-9)
	assert.InDelta(t, 0.25, snap.RunUSD, 1e-9)
	assert.InDelta(t, 1.0, snap.PerSubjectUSD, 1e-9)
	assert.InDelta(t, 5.0, snap.PerRunUSD, 1e-9)
}
