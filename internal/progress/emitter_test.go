package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_EmitAndReceiveInOrder(t *testing.T) {
	t.Parallel()
	e := NewEmitter(8)

	e.Emit(Event{RunID: "r1", Stage: StageRunStart})
	e.Emit(Event{RunID: "r1", Stage: StageSubjectStart, PersonID: 42})
	e.Close()

	var stages []Stage
	for evt := range e.Events() {
		assert.False(t, evt.TS.IsZero(), "TS should be stamped")
		stages = append(stages, evt.Stage)
	}
	require.Equal(t, []Stage{StageRunStart, StageSubjectStart}, stages)
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	t.Parallel()
	e := NewEmitter(2)

	for i := 0; i < 5; i++ {
		e.Emit(Event{RunID: "r1", Stage: StageSourceDone})
	}
	assert.EqualValues(t, 3, e.Dropped())

	e.Close()
	var n int
	for range e.Events() {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestEmitter_NilSafe(t *testing.T) {
	t.Parallel()
	var e *Emitter
	e.Emit(Event{Stage: StageRunDone}) // must not panic
	e.Close()
	assert.Nil(t, e.Events())
	assert.EqualValues(t, 0, e.Dropped())
}

func TestEmitter_CloseIdempotent_EmitAfterCloseDiscarded(t *testing.T) {
	t.Parallel()
	e := NewEmitter(4)
	e.Close()
	e.Close()
	e.Emit(Event{Stage: StageRunDone}) // discarded, no panic

	_, open := <-e.Events()
	assert.False(t, open)
}
