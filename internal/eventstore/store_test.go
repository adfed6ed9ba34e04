package eventstore

import (
	"bytes"
	"testing"
	"time"
)

const testRunID = "run-123"

func TestEventStoreAppendAndRetrieve(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := t.Context()
	event := &BaseEvent{
		EventRunID:    testRunID,
		EventBuild:    "release",
		EventTask:     "compile",
		EventType:     "TestEvent",
		EventPayload:  []byte(`{"test": "data"}`),
		EventMetadata: map[string]string{"key": "value"},
	}

	if err := store.Append(ctx, event); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	events, err := store.GetByRunID(ctx, testRunID)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	got := events[0]
	if got.Build() != "release" || got.Task() != "compile" {
		t.Errorf("unexpected build/task %q/%q", got.Build(), got.Task())
	}
	if got.Type() != "TestEvent" {
		t.Errorf("expected event_type TestEvent, got %s", got.Type())
	}
	if !bytes.Equal(got.Payload(), event.EventPayload) {
		t.Errorf("expected payload %s, got %s", event.EventPayload, got.Payload())
	}
	if got.Metadata()["key"] != "value" {
		t.Errorf("expected metadata key=value, got %v", got.Metadata())
	}
	if got.Timestamp().IsZero() {
		t.Error("expected timestamp to be set on append")
	}
}

func TestEventStoreGetByBuildLimit(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := t.Context()

	for i, typ := range []string{"a", "b", "c", "d"} {
		e := &BaseEvent{EventRunID: "r", EventBuild: "release", EventType: typ, EventTimestamp: time.UnixMilli(int64(1000 + i))}
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := store.Append(ctx, &BaseEvent{EventRunID: "x", EventBuild: "other", EventType: "z"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	events, err := store.GetByBuild(ctx, "release", 2)
	if err != nil {
		t.Fatalf("get by build: %v", err)
	}
	if len(events) != 2 || events[0].Type() != "c" || events[1].Type() != "d" {
		t.Fatalf("expected latest two events oldest first, got %v", types(events))
	}

	all, err := store.GetByBuild(ctx, "release", 0)
	if err != nil {
		t.Fatalf("get by build: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
}

func TestEventStoreRangeAndPrune(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = store.Close() }()
	ctx := t.Context()

	now := time.Now()
	old := &BaseEvent{EventRunID: "r1", EventBuild: "b", EventType: "old", EventTimestamp: now.Add(-48 * time.Hour)}
	fresh := &BaseEvent{EventRunID: "r2", EventBuild: "b", EventType: "fresh", EventTimestamp: now}
	for _, e := range []Event{old, fresh} {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recent, err := store.GetRange(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(recent) != 1 || recent[0].Type() != "fresh" {
		t.Fatalf("expected only fresh event, got %v", types(recent))
	}

	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned event, got %d", removed)
	}
	left, _ := store.GetByBuild(ctx, "b", 0)
	if len(left) != 1 {
		t.Fatalf("expected 1 remaining event, got %d", len(left))
	}
}

func TestSharedDatabaseCloseLeavesHandleOpen(t *testing.T) {
	owner, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer func() { _ = owner.Close() }()

	shared, err := NewSQLiteStoreFromDB(owner.db)
	if err != nil {
		t.Fatalf("failed to share store: %v", err)
	}
	if err := shared.Close(); err != nil {
		t.Fatalf("close shared: %v", err)
	}
	if err := owner.db.Ping(); err != nil {
		t.Fatalf("expected owner handle to remain open: %v", err)
	}
}

func types(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type())
	}
	return out
}
