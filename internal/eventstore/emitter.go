package eventstore

import (
	"context"
	"fmt"
	"time"
)

// Emitter persists run lifecycle events and keeps a projection current.
type Emitter struct {
	store      Store
	projection *RunHistoryProjection
}

// NewEmitter creates an Emitter. projection may be nil.
func NewEmitter(store Store, projection *RunHistoryProjection) *Emitter {
	return &Emitter{store: store, projection: projection}
}

// EmitEvent persists an event to the event store and updates the projection.
func (e *Emitter) EmitEvent(ctx context.Context, event Event) error {
	if e == nil || e.store == nil {
		return nil
	}
	if err := e.store.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	if e.projection != nil {
		e.projection.Apply(event)
	}
	return nil
}

func (e *Emitter) EmitRunAccepted(ctx context.Context, runID, build, strategy string, layers [][]string, trigger string) error {
	event, err := NewRunAccepted(runID, build, strategy, layers, trigger)
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

func (e *Emitter) EmitTaskDispatched(ctx context.Context, runID, build, task string, layer int, handle string) error {
	event, err := NewTaskDispatched(runID, build, task, layer, handle)
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

func (e *Emitter) EmitTaskFinished(ctx context.Context, runID, build, task string, success bool, message string, timedOut bool, duration time.Duration) error {
	var event Event
	var err error
	if success {
		event, err = NewTaskSucceeded(runID, build, task, duration)
	} else {
		event, err = NewTaskFailed(runID, build, task, message, timedOut, duration)
	}
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

func (e *Emitter) EmitRunFinished(ctx context.Context, runID, build string, success bool, failedTask, message string, duration time.Duration) error {
	var event Event
	var err error
	if success {
		event, err = NewRunSucceeded(runID, build, duration)
	} else {
		event, err = NewRunFailed(runID, build, failedTask, message, duration)
	}
	if err != nil {
		return err
	}
	return e.EmitEvent(ctx, event)
}

// Projection returns the attached projection, possibly nil.
func (e *Emitter) Projection() *RunHistoryProjection {
	if e == nil {
		return nil
	}
	return e.projection
}
