package audit

import (
	"context"
	"time"
)

// Emitter is the cross-cutting handle every component holds to record
// events, fixing the actor name and routing through one Sink (usually
// a MultiSink fanning to object store and a DB table).
type Emitter struct {
	sink  Sink
	actor string
	now   func() time.Time
}

// NewEmitter returns an Emitter that stamps every event with actor and
// the current time.
func NewEmitter(sink Sink, actor string) *Emitter {
	return &Emitter{sink: sink, actor: actor, now: time.Now}
}

// Emit fills in Timestamp/Actor if unset and writes event to the sink.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	if event.Actor == "" {
		event.Actor = e.actor
	}
	return e.sink.Write(ctx, event)
}
