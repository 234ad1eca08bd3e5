package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultBuffer = 1024

// Emitter fans events into a buffered channel without ever blocking the
// cascade. When the consumer falls behind, events are dropped and
// counted rather than stalling source calls. A nil *Emitter is valid
// and discards everything, so the core can run unobserved.
type Emitter struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
}

// NewEmitter creates an emitter with the given buffer size (<=0 uses
// the default).
func NewEmitter(buffer int) *Emitter {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Emitter{ch: make(chan Event, buffer)}
}

// Emit enqueues an event, stamping TS if unset. It never blocks; events
// are dropped when the buffer is full or the emitter is closed.
func (e *Emitter) Emit(evt Event) {
	if e == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- evt:
	default:
		e.dropped.Add(1)
	}
}

// Events returns the receive side of the stream. The channel closes
// after Close once buffered events have been drained by the consumer.
func (e *Emitter) Events() <-chan Event {
	if e == nil {
		return nil
	}
	return e.ch
}

// Dropped reports how many events were discarded due to backpressure.
func (e *Emitter) Dropped() int64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// Close marks the stream complete and closes the channel. Safe to call
// multiple times; Emit calls after Close are discarded.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
