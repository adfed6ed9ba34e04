package ordercache

import (
	"context"
	"slices"
	"sync"

	"git.home.luguber.info/inful/buildgraph/internal/topo"
)

// Memory is a process-local cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]topo.ExecutionOrder
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]topo.ExecutionOrder)}
}

func (m *Memory) Get(_ context.Context, key string) (topo.ExecutionOrder, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.entries[key]
	if !ok {
		return topo.ExecutionOrder{}, false, nil
	}
	return cloneOrder(order), true, nil
}

func (m *Memory) Put(_ context.Context, key string, order topo.ExecutionOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cloneOrder(order)
	return nil
}

func (m *Memory) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
}

// Len reports the number of cached orders.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func cloneOrder(o topo.ExecutionOrder) topo.ExecutionOrder {
	o.Order = slices.Clone(o.Order)
	layers := make([][]string, len(o.Layers))
	for i, l := range o.Layers {
		layers[i] = slices.Clone(l)
	}
	o.Layers = layers
	return o
}
