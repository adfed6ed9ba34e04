package eventstore

import "time"

// Event represents a lifecycle event of one build run.
type Event interface {
	// ID returns the store-assigned identifier; zero before Append.
	ID() int64
	// RunID returns the run this event belongs to.
	RunID() string
	// Build returns the build name.
	Build() string
	// Task returns the task name for task events, empty otherwise.
	Task() string
	// Type returns the event type name.
	Type() string
	// Timestamp returns when the event occurred.
	Timestamp() time.Time
	// Payload returns the event data as bytes.
	Payload() []byte
	// Metadata returns optional event metadata.
	Metadata() map[string]string
}

// BaseEvent provides a default implementation of Event.
type BaseEvent struct {
	EventID        int64
	EventRunID     string
	EventBuild     string
	EventTask      string
	EventType      string
	EventTimestamp time.Time
	EventPayload   []byte
	EventMetadata  map[string]string
}

func (e *BaseEvent) ID() int64                   { return e.EventID }
func (e *BaseEvent) RunID() string               { return e.EventRunID }
func (e *BaseEvent) Build() string               { return e.EventBuild }
func (e *BaseEvent) Task() string                { return e.EventTask }
func (e *BaseEvent) Type() string                { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time        { return e.EventTimestamp }
func (e *BaseEvent) Payload() []byte             { return e.EventPayload }
func (e *BaseEvent) Metadata() map[string]string { return e.EventMetadata }
