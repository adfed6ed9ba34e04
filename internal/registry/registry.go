package registry

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
)

// Op describes a registry mutation.
type Op string

const (
	OpPut     Op = "put"
	OpDelete  Op = "delete"
	OpReplace Op = "replace"
)

// Change is delivered to OnChange listeners after a mutation committed.
type Change struct {
	Op         Op
	Kind       Kind // empty for OpReplace
	Name       string
	Generation uint64
}

// Reader is the read interface consumed by the graph builder and orchestrator.
type Reader interface {
	GetTask(name string) (domain.Task, error)
	ListTasks() []domain.Task
	GetBuild(name string) (domain.Build, error)
}

// Registry is the in-memory Task Registry and Build Definition store.
// All returned values are copies.
type Registry struct {
	mu         sync.RWMutex
	tasks      map[string]domain.Task
	builds     map[string]domain.Build
	generation uint64
	listeners  []func(Change)
	now        func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		tasks:  make(map[string]domain.Task),
		builds: make(map[string]domain.Build),
		now:    time.Now,
	}
}

// OnChange registers fn to be called after every committed mutation.
// Listeners run synchronously on the mutating goroutine, outside the registry lock.
func (r *Registry) OnChange(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Generation increases by one on every mutation.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

func (r *Registry) GetTask(name string) (domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	if !ok {
		return domain.Task{}, &NotFoundError{Kind: KindTask, Name: name}
	}
	return t.Clone(), nil
}

// ListTasks returns every task sorted by name.
func (r *Registry) ListTasks() []domain.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) GetBuild(name string) (domain.Build, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.builds[name]
	if !ok {
		return domain.Build{}, &NotFoundError{Kind: KindBuild, Name: name}
	}
	return b.Clone(), nil
}

// ListBuilds returns every build sorted by name.
func (r *Registry) ListBuilds() []domain.Build {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Build, 0, len(r.builds))
	for _, b := range r.builds {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PutTask creates or replaces a task definition. Dependencies are not required
// to exist yet; Validate and the graph builder report dangling references.
func (r *Registry) PutTask(t domain.Task) error {
	if err := checkTask(t); err != nil {
		return err
	}
	r.mu.Lock()
	t = t.Clone()
	now := r.now()
	if prev, ok := r.tasks[t.Name]; ok {
		t.CreatedAt = prev.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.tasks[t.Name] = t
	change := r.commitLocked(Change{Op: OpPut, Kind: KindTask, Name: t.Name})
	r.mu.Unlock()

	r.notify(change)
	return nil
}

// PutBuild creates or replaces a build definition.
func (r *Registry) PutBuild(b domain.Build) error {
	if err := checkBuild(b); err != nil {
		return err
	}
	r.mu.Lock()
	b = b.Clone()
	now := r.now()
	if prev, ok := r.builds[b.Name]; ok {
		b.CreatedAt = prev.CreatedAt
	} else {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	r.builds[b.Name] = b
	change := r.commitLocked(Change{Op: OpPut, Kind: KindBuild, Name: b.Name})
	r.mu.Unlock()

	r.notify(change)
	return nil
}

func (r *Registry) DeleteTask(name string) error {
	r.mu.Lock()
	if _, ok := r.tasks[name]; !ok {
		r.mu.Unlock()
		return &NotFoundError{Kind: KindTask, Name: name}
	}
	delete(r.tasks, name)
	change := r.commitLocked(Change{Op: OpDelete, Kind: KindTask, Name: name})
	r.mu.Unlock()

	r.notify(change)
	return nil
}

func (r *Registry) DeleteBuild(name string) error {
	r.mu.Lock()
	if _, ok := r.builds[name]; !ok {
		r.mu.Unlock()
		return &NotFoundError{Kind: KindBuild, Name: name}
	}
	delete(r.builds, name)
	change := r.commitLocked(Change{Op: OpDelete, Kind: KindBuild, Name: name})
	r.mu.Unlock()

	r.notify(change)
	return nil
}

// Replace atomically swaps the whole definition set, e.g. after a definitions
// file reload. Timestamps of unchanged names are preserved.
func (r *Registry) Replace(tasks []domain.Task, builds []domain.Build) error {
	nextTasks := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if err := checkTask(t); err != nil {
			return err
		}
		if _, dup := nextTasks[t.Name]; dup {
			return ferrors.ValidationError(fmt.Sprintf("duplicate task %q", t.Name)).WithContext("task", t.Name).Build()
		}
		nextTasks[t.Name] = t.Clone()
	}
	nextBuilds := make(map[string]domain.Build, len(builds))
	for _, b := range builds {
		if err := checkBuild(b); err != nil {
			return err
		}
		if _, dup := nextBuilds[b.Name]; dup {
			return ferrors.ValidationError(fmt.Sprintf("duplicate build %q", b.Name)).WithContext("build", b.Name).Build()
		}
		nextBuilds[b.Name] = b.Clone()
	}

	r.mu.Lock()
	now := r.now()
	for name, t := range nextTasks {
		t.CreatedAt, t.UpdatedAt = now, now
		if prev, ok := r.tasks[name]; ok {
			t.CreatedAt = prev.CreatedAt
		}
		nextTasks[name] = t
	}
	for name, b := range nextBuilds {
		b.CreatedAt, b.UpdatedAt = now, now
		if prev, ok := r.builds[name]; ok {
			b.CreatedAt = prev.CreatedAt
		}
		nextBuilds[name] = b
	}
	r.tasks, r.builds = nextTasks, nextBuilds
	change := r.commitLocked(Change{Op: OpReplace})
	r.mu.Unlock()

	slog.Info("Registry replaced", slog.Int("tasks", len(nextTasks)), slog.Int("builds", len(nextBuilds)))
	r.notify(change)
	return nil
}

// Validate checks referential integrity: every task dependency and every
// build member must name a registered task. All problems are reported together.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var problems []string
	for _, name := range slices.Sorted(maps.Keys(r.tasks)) {
		for _, dep := range r.tasks[name].Dependencies {
			if _, ok := r.tasks[dep]; !ok {
				problems = append(problems, fmt.Sprintf("task %q depends on unknown task %q", name, dep))
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.builds)) {
		for _, member := range r.builds[name].Tasks {
			if _, ok := r.tasks[member]; !ok {
				problems = append(problems, fmt.Sprintf("build %q references unknown task %q", name, member))
			}
		}
	}
	if len(problems) > 0 {
		return ferrors.ValidationError("invalid definitions: " + strings.Join(problems, "; ")).
			WithContext("problems", problems).
			Build()
	}
	return nil
}

func (r *Registry) commitLocked(c Change) Change {
	r.generation++
	c.Generation = r.generation
	return c
}

func (r *Registry) notify(c Change) {
	r.mu.RLock()
	listeners := slices.Clone(r.listeners)
	r.mu.RUnlock()
	slog.Debug("Registry changed", slog.String("op", string(c.Op)), slog.String("kind", string(c.Kind)), slog.String("name", c.Name))
	for _, fn := range listeners {
		fn(c)
	}
}

func checkTask(t domain.Task) error {
	if strings.TrimSpace(t.Name) == "" {
		return ferrors.ValidationError("task name is required").Build()
	}
	seen := make(map[string]struct{}, len(t.Dependencies))
	for _, dep := range t.Dependencies {
		if dep == t.Name {
			return ferrors.ValidationError(fmt.Sprintf("task %q cannot depend on itself", t.Name)).
				WithContext("task", t.Name).Build()
		}
		if _, dup := seen[dep]; dup {
			return ferrors.ValidationError(fmt.Sprintf("task %q lists dependency %q twice", t.Name, dep)).
				WithContext("task", t.Name).Build()
		}
		seen[dep] = struct{}{}
	}
	if t.Timeout < 0 {
		return ferrors.ValidationError(fmt.Sprintf("task %q has negative timeout", t.Name)).Build()
	}
	return nil
}

func checkBuild(b domain.Build) error {
	if strings.TrimSpace(b.Name) == "" {
		return ferrors.ValidationError("build name is required").Build()
	}
	if len(b.Tasks) == 0 {
		return ferrors.ValidationError(fmt.Sprintf("build %q has no tasks", b.Name)).
			WithContext(logfields.KeyBuild, b.Name).Build()
	}
	seen := make(map[string]struct{}, len(b.Tasks))
	for _, member := range b.Tasks {
		if _, dup := seen[member]; dup {
			return ferrors.ValidationError(fmt.Sprintf("build %q lists task %q twice", b.Name, member)).
				WithContext(logfields.KeyBuild, b.Name).Build()
		}
		seen[member] = struct{}{}
	}
	return nil
}
