package eventstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event type names.
const (
	TypeRunAccepted    = "RunAccepted"
	TypeTaskDispatched = "TaskDispatched"
	TypeTaskSucceeded  = "TaskSucceeded"
	TypeTaskFailed     = "TaskFailed"
	TypeRunSucceeded   = "RunSucceeded"
	TypeRunFailed      = "RunFailed"
)

func newBase(runID, build, task, eventType string, payload any) (BaseEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return BaseEvent{}, fmt.Errorf("%w: %s: %v", ErrMarshalPayloadFailed, eventType, err)
	}
	return BaseEvent{
		EventRunID:     runID,
		EventBuild:     build,
		EventTask:      task,
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   data,
	}, nil
}

// RunAccepted is emitted when an execute request passed graph construction and sorting.
type RunAccepted struct {
	BaseEvent
	Strategy string     `json:"strategy"`
	Layers   [][]string `json:"layers"`
	Trigger  string     `json:"trigger,omitempty"`
}

// NewRunAccepted creates a RunAccepted event.
func NewRunAccepted(runID, build, strategy string, layers [][]string, trigger string) (*RunAccepted, error) {
	base, err := newBase(runID, build, "", TypeRunAccepted, map[string]any{
		"strategy": strategy,
		"layers":   layers,
		"trigger":  trigger,
	})
	if err != nil {
		return nil, err
	}
	return &RunAccepted{BaseEvent: base, Strategy: strategy, Layers: layers, Trigger: trigger}, nil
}

// TaskDispatched is emitted when a task was handed to the dispatcher.
type TaskDispatched struct {
	BaseEvent
	Layer  int    `json:"layer"`
	Handle string `json:"handle"`
}

// NewTaskDispatched creates a TaskDispatched event.
func NewTaskDispatched(runID, build, task string, layer int, handle string) (*TaskDispatched, error) {
	base, err := newBase(runID, build, task, TypeTaskDispatched, map[string]any{
		"layer":  layer,
		"handle": handle,
	})
	if err != nil {
		return nil, err
	}
	return &TaskDispatched{BaseEvent: base, Layer: layer, Handle: handle}, nil
}

// TaskSucceeded is emitted when a task completed successfully.
type TaskSucceeded struct {
	BaseEvent
	Duration time.Duration `json:"duration_ms"`
}

// NewTaskSucceeded creates a TaskSucceeded event.
func NewTaskSucceeded(runID, build, task string, duration time.Duration) (*TaskSucceeded, error) {
	base, err := newBase(runID, build, task, TypeTaskSucceeded, map[string]any{
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	return &TaskSucceeded{BaseEvent: base, Duration: duration}, nil
}

// TaskFailed is emitted when a task reported failure or timed out.
type TaskFailed struct {
	BaseEvent
	Message  string        `json:"message"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration_ms"`
}

// NewTaskFailed creates a TaskFailed event.
func NewTaskFailed(runID, build, task, message string, timedOut bool, duration time.Duration) (*TaskFailed, error) {
	base, err := newBase(runID, build, task, TypeTaskFailed, map[string]any{
		"message":     message,
		"timed_out":   timedOut,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	return &TaskFailed{BaseEvent: base, Message: message, TimedOut: timedOut, Duration: duration}, nil
}

// RunSucceeded is emitted when every task of the run succeeded.
type RunSucceeded struct {
	BaseEvent
	Duration time.Duration `json:"duration_ms"`
}

// NewRunSucceeded creates a RunSucceeded event.
func NewRunSucceeded(runID, build string, duration time.Duration) (*RunSucceeded, error) {
	base, err := newBase(runID, build, "", TypeRunSucceeded, map[string]any{
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	return &RunSucceeded{BaseEvent: base, Duration: duration}, nil
}

// RunFailed is emitted when a run ended failed, including cancellation.
type RunFailed struct {
	BaseEvent
	FailedTask string        `json:"failed_task,omitempty"`
	Message    string        `json:"message"`
	Duration   time.Duration `json:"duration_ms"`
}

// NewRunFailed creates a RunFailed event.
func NewRunFailed(runID, build, failedTask, message string, duration time.Duration) (*RunFailed, error) {
	base, err := newBase(runID, build, "", TypeRunFailed, map[string]any{
		"failed_task": failedTask,
		"message":     message,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		return nil, err
	}
	return &RunFailed{BaseEvent: base, FailedTask: failedTask, Message: message, Duration: duration}, nil
}
