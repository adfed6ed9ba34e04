package eventstore

import (
	"context"
	"time"
)

// Store defines the interface for persisting and retrieving events.
type Store interface {
	// Append adds a new event to the store.
	Append(ctx context.Context, e Event) error

	// GetByRunID retrieves all events of one run in append order.
	GetByRunID(ctx context.Context, runID string) ([]Event, error)

	// GetByBuild retrieves the most recent events of a build, oldest first.
	// limit <= 0 means no limit.
	GetByBuild(ctx context.Context, build string, limit int) ([]Event, error)

	// GetRange retrieves events within a time range.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Prune deletes events older than before and reports how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}
