package progress

import (
	"context"
	"sync"
	"time"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// components can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

// OrNop returns e, or a Nop emitter when e is nil.
func OrNop(e Emitter) Emitter {
	if e == nil {
		return Nop{}
	}
	return e
}

// WithRun stamps every event passing through with the run ID and, when
// missing, a timestamp.
func WithRun(next Emitter, runID [16]byte) Emitter {
	return runEmitter{next: OrNop(next), runID: runID}
}

type runEmitter struct {
	next  Emitter
	runID [16]byte
}

func (r runEmitter) Emit(evt Event) {
	if evt.RunID == [16]byte{} {
		evt.RunID = r.runID
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	r.next.Emit(evt)
}

// Recorder keeps every emitted event in memory. It is meant for tests and for
// short-lived request scopes.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Stages returns the stage of every recorded event, in order.
func (r *Recorder) Stages() []Stage {
	events := r.Events()
	out := make([]Stage, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Stage)
	}
	return out
}

// Count returns how many events of the given stage were recorded.
func (r *Recorder) Count(stage Stage) int {
	n := 0
	for _, evt := range r.Events() {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}
