package ordercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/buildgraph/internal/topo"
)

const keyPrefix = "order."

// bucket is the subset of jetstream.KeyValue the cache needs.
type bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// NATS shares execution orders between processes through a JetStream KV bucket.
// Entries expire through the bucket TTL; Invalidate is a no-op because keys are
// content addressed.
type NATS struct {
	kv      bucket
	timeout time.Duration
}

// NewNATS wraps an opened bucket.
func NewNATS(kv jetstream.KeyValue) *NATS {
	return &NATS{kv: kv, timeout: 2 * time.Second}
}

type entry struct {
	Strategy string     `json:"strategy"`
	Order    []string   `json:"order"`
	Layers   [][]string `json:"layers"`
	ElapsedN int64      `json:"elapsed_ns"`
	StoredAt time.Time  `json:"stored_at"`
}

func (c *NATS) Get(ctx context.Context, key string) (topo.ExecutionOrder, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	kve, err := c.kv.Get(ctx, keyPrefix+key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return topo.ExecutionOrder{}, false, nil
		}
		return topo.ExecutionOrder{}, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var e entry
	if err := json.Unmarshal(kve.Value(), &e); err != nil {
		// A corrupt entry is a miss; the next Put overwrites it.
		slog.Warn("Discarding unreadable order cache entry", "key", key, "error", err)
		return topo.ExecutionOrder{}, false, nil
	}
	return topo.ExecutionOrder{
		Strategy: e.Strategy,
		Order:    e.Order,
		Layers:   e.Layers,
		Elapsed:  time.Duration(e.ElapsedN),
	}, true, nil
}

func (c *NATS) Put(ctx context.Context, key string, order topo.ExecutionOrder) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := json.Marshal(entry{
		Strategy: order.Strategy,
		Order:    order.Order,
		Layers:   order.Layers,
		ElapsedN: int64(order.Elapsed),
		StoredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if _, err := c.kv.Put(ctx, keyPrefix+key, data); err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

func (c *NATS) Invalidate() {}
