package status

import (
	"context"
	"sort"
	"sync"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
)

// Store is the durable side of the tracker. A write must be durable when it returns.
type Store interface {
	SetTaskStatus(ctx context.Context, s domain.TaskStatus) error
	SetBuildStatus(ctx context.Context, s domain.BuildStatus) error
	LoadTaskStatuses(ctx context.Context) ([]domain.TaskStatus, error)
	LoadBuildStatuses(ctx context.Context) ([]domain.BuildStatus, error)
}

// MemoryStore keeps statuses in process memory, for embedding the tracker
// without a database.
type MemoryStore struct {
	mu     sync.Mutex
	tasks  map[string]domain.TaskStatus
	builds map[string]domain.BuildStatus
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]domain.TaskStatus),
		builds: make(map[string]domain.BuildStatus),
	}
}

func (m *MemoryStore) SetTaskStatus(_ context.Context, s domain.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[s.Name] = s
	return nil
}

func (m *MemoryStore) SetBuildStatus(_ context.Context, s domain.BuildStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds[s.Name] = s
	return nil
}

func (m *MemoryStore) LoadTaskStatuses(context.Context) ([]domain.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TaskStatus, 0, len(m.tasks))
	for _, s := range m.tasks {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) LoadBuildStatuses(context.Context) ([]domain.BuildStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BuildStatus, 0, len(m.builds))
	for _, s := range m.builds {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
