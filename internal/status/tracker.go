// Package status tracks the lifecycle of tasks and builds:
// pending -> running -> success | failed, with an explicit reset back to pending.
//
// Every entity has its own cell. Writers serialize on the cell and persist the
// new value before it becomes visible, so a read never observes a status that
// is not durable and never sees a torn status/message pair.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
	"git.home.luguber.info/inful/buildgraph/internal/metrics"
	"git.home.luguber.info/inful/buildgraph/internal/retry"
)

// InterruptedMessage is recorded for statuses found running during recovery.
const InterruptedMessage = "interrupted: no completion recorded"

// cell holds one entity. write serializes read-modify-write cycles including
// the store round trip; mu only guards v so readers never wait on the store.
type cell[T any] struct {
	write sync.Mutex
	mu    sync.RWMutex
	v     T
}

func (c *cell[T]) load() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

func (c *cell[T]) store(v T) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

type cells[T any] struct {
	mu sync.Mutex
	m  map[string]*cell[T]
}

func (cs *cells[T]) get(name string, init func() T) *cell[T] {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.m == nil {
		cs.m = make(map[string]*cell[T])
	}
	c, ok := cs.m[name]
	if !ok {
		c = &cell[T]{v: init()}
		cs.m[name] = c
	}
	return c
}

func (cs *cells[T]) lookup(name string) (*cell[T], bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.m[name]
	return c, ok
}

func (cs *cells[T]) all() []*cell[T] {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*cell[T], 0, len(cs.m))
	for _, c := range cs.m {
		out = append(out, c)
	}
	return out
}

// Tracker is the shared status store consumed by the orchestrator.
type Tracker struct {
	store    Store
	policy   retry.Policy
	recorder metrics.Recorder
	now      func() time.Time

	tasks  cells[domain.TaskStatus]
	builds cells[domain.BuildStatus]
}

// New creates a tracker persisting through store with the given retry policy.
func New(store Store, policy retry.Policy, recorder metrics.Recorder) *Tracker {
	return &Tracker{
		store:    store,
		policy:   policy,
		recorder: metrics.OrNoop(recorder),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) taskCell(name string) *cell[domain.TaskStatus] {
	return t.tasks.get(name, func() domain.TaskStatus {
		return domain.TaskStatus{Name: name, Status: domain.StatusPending}
	})
}

func (t *Tracker) buildCell(name string) *cell[domain.BuildStatus] {
	return t.builds.get(name, func() domain.BuildStatus {
		return domain.BuildStatus{Name: name, Status: domain.StatusPending}
	})
}

// Task returns the current snapshot. Unknown names report pending.
func (t *Tracker) Task(name string) domain.TaskStatus {
	if c, ok := t.tasks.lookup(name); ok {
		return c.load()
	}
	return domain.TaskStatus{Name: name, Status: domain.StatusPending}
}

// Build returns the current snapshot. Unknown names report pending.
func (t *Tracker) Build(name string) domain.BuildStatus {
	if c, ok := t.builds.lookup(name); ok {
		return c.load()
	}
	return domain.BuildStatus{Name: name, Status: domain.StatusPending}
}

// Tasks returns every tracked task sorted by name.
func (t *Tracker) Tasks() []domain.TaskStatus {
	var out []domain.TaskStatus
	for _, c := range t.tasks.all() {
		out = append(out, c.load())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Builds returns every tracked build sorted by name.
func (t *Tracker) Builds() []domain.BuildStatus {
	var out []domain.BuildStatus
	for _, c := range t.builds.all() {
		out = append(out, c.load())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StartBuild moves a build to running for runID. A build that is already
// running is rejected with BuildAlreadyRunningError and left untouched.
func (t *Tracker) StartBuild(ctx context.Context, name, runID string) (domain.BuildStatus, error) {
	c := t.buildCell(name)
	c.write.Lock()
	defer c.write.Unlock()

	cur := c.load()
	if cur.Status == domain.StatusRunning {
		return cur, &BuildAlreadyRunningError{Build: name, RunID: cur.RunID}
	}
	now := t.now()
	next := domain.BuildStatus{
		Name:      name,
		Status:    domain.StatusRunning,
		RunID:     runID,
		StartedAt: now,
		CreatedAt: orNow(cur.CreatedAt, now),
		UpdatedAt: now,
	}
	if err := t.persistBuild(ctx, next); err != nil {
		return cur, err
	}
	c.store(next)
	return next, nil
}

// FinishBuild moves the build of runID to success or failed.
func (t *Tracker) FinishBuild(ctx context.Context, name, runID string, to domain.Status, failedTask, message string) (domain.BuildStatus, error) {
	c := t.buildCell(name)
	c.write.Lock()
	defer c.write.Unlock()

	cur := c.load()
	if err := checkFinish(EntityBuild, name, cur.Status, cur.RunID, runID, to); err != nil {
		return cur, err
	}
	now := t.now()
	next := cur
	next.Status = to
	next.Error = message
	next.FailedTask = failedTask
	next.FinishedAt = now
	next.UpdatedAt = now
	if err := t.persistBuild(ctx, next); err != nil {
		return cur, err
	}
	c.store(next)
	return next, nil
}

// StartTask moves a task to running on behalf of build run runID. Within one
// run a task starts at most once; a task running for another run is rejected
// with TaskBusyError.
func (t *Tracker) StartTask(ctx context.Context, name, build, runID string) (domain.TaskStatus, error) {
	c := t.taskCell(name)
	c.write.Lock()
	defer c.write.Unlock()

	cur := c.load()
	switch {
	case cur.Status == domain.StatusRunning && cur.RunID != runID:
		return cur, &TaskBusyError{Task: name, Build: cur.Build, RunID: cur.RunID}
	case cur.RunID == runID && cur.Status != domain.StatusPending:
		return cur, &TransitionError{Entity: EntityTask, Name: name, From: cur.Status, To: domain.StatusRunning, Reason: "task already started in this run"}
	}
	now := t.now()
	next := domain.TaskStatus{
		Name:      name,
		Status:    domain.StatusRunning,
		Build:     build,
		RunID:     runID,
		StartedAt: now,
		CreatedAt: orNow(cur.CreatedAt, now),
		UpdatedAt: now,
	}
	if err := t.persistTask(ctx, next); err != nil {
		return cur, err
	}
	c.store(next)
	return next, nil
}

// FinishTask records the outcome of a task started by runID.
func (t *Tracker) FinishTask(ctx context.Context, name, runID string, to domain.Status, message string) (domain.TaskStatus, error) {
	c := t.taskCell(name)
	c.write.Lock()
	defer c.write.Unlock()

	cur := c.load()
	if err := checkFinish(EntityTask, name, cur.Status, cur.RunID, runID, to); err != nil {
		return cur, err
	}
	now := t.now()
	next := cur
	next.Status = to
	next.Error = message
	next.FinishedAt = now
	next.UpdatedAt = now
	if err := t.persistTask(ctx, next); err != nil {
		return cur, err
	}
	c.store(next)
	return next, nil
}

// ResetTask is the explicit external return to pending. Running tasks cannot be reset.
func (t *Tracker) ResetTask(ctx context.Context, name string) (domain.TaskStatus, error) {
	c := t.taskCell(name)
	c.write.Lock()
	defer c.write.Unlock()

	cur := c.load()
	if cur.Status == domain.StatusRunning {
		return cur, &TransitionError{Entity: EntityTask, Name: name, From: cur.Status, To: domain.StatusPending, Reason: "task is running"}
	}
	next := domain.TaskStatus{Name: name, Status: domain.StatusPending, CreatedAt: cur.CreatedAt, UpdatedAt: t.now()}
	if err := t.persistTask(ctx, next); err != nil {
		return cur, err
	}
	c.store(next)
	return next, nil
}

// ResetBuild is the explicit external return to pending. Running builds cannot be reset.
func (t *Tracker) ResetBuild(ctx context.Context, name string) (domain.BuildStatus, error) {
	c := t.buildCell(name)
	c.write.Lock()
	defer c.write.Unlock()

	cur := c.load()
	if cur.Status == domain.StatusRunning {
		return cur, &TransitionError{Entity: EntityBuild, Name: name, From: cur.Status, To: domain.StatusPending, Reason: "build is running"}
	}
	next := domain.BuildStatus{Name: name, Status: domain.StatusPending, CreatedAt: cur.CreatedAt, UpdatedAt: t.now()}
	if err := t.persistBuild(ctx, next); err != nil {
		return cur, err
	}
	c.store(next)
	return next, nil
}

// AbortTask fails a task of runID in memory even when the store is unavailable.
// The store write is attempted once; a leftover running row is repaired by Recover.
func (t *Tracker) AbortTask(ctx context.Context, name, runID, message string) error {
	c := t.taskCell(name)
	c.write.Lock()
	defer c.write.Unlock()

	cur := c.load()
	if cur.Status != domain.StatusRunning || cur.RunID != runID {
		return nil
	}
	now := t.now()
	next := cur
	next.Status, next.Error, next.FinishedAt, next.UpdatedAt = domain.StatusFailed, message, now, now
	c.store(next)
	return t.store.SetTaskStatus(ctx, next)
}

// AbortBuild is AbortTask for builds.
func (t *Tracker) AbortBuild(ctx context.Context, name, runID, failedTask, message string) error {
	c := t.buildCell(name)
	c.write.Lock()
	defer c.write.Unlock()

	cur := c.load()
	if cur.Status != domain.StatusRunning || cur.RunID != runID {
		return nil
	}
	now := t.now()
	next := cur
	next.Status, next.Error, next.FailedTask, next.FinishedAt, next.UpdatedAt = domain.StatusFailed, message, failedTask, now, now
	c.store(next)
	return t.store.SetBuildStatus(ctx, next)
}

// RecoveryReport lists entities found running in the store.
type RecoveryReport struct {
	Tasks  int
	Builds int
	// Interrupted names every task and build that was running with no completion.
	InterruptedTasks  []string
	InterruptedBuilds []string
}

// Recover loads persisted statuses. Anything persisted as running has no
// matching completion record and is marked failed with InterruptedMessage.
func (t *Tracker) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	tasks, err := t.store.LoadTaskStatuses(ctx)
	if err != nil {
		return report, fmt.Errorf("load task statuses: %w", err)
	}
	builds, err := t.store.LoadBuildStatuses(ctx)
	if err != nil {
		return report, fmt.Errorf("load build statuses: %w", err)
	}

	now := t.now()
	for _, s := range tasks {
		c := t.taskCell(s.Name)
		c.write.Lock()
		if s.Status == domain.StatusRunning {
			s.Status, s.Error, s.FinishedAt, s.UpdatedAt = domain.StatusFailed, InterruptedMessage, now, now
			if err := t.persistTask(ctx, s); err != nil {
				c.write.Unlock()
				return report, err
			}
			report.InterruptedTasks = append(report.InterruptedTasks, s.Name)
		}
		c.store(s)
		c.write.Unlock()
		report.Tasks++
	}
	for _, s := range builds {
		c := t.buildCell(s.Name)
		c.write.Lock()
		if s.Status == domain.StatusRunning {
			s.Status, s.Error, s.FinishedAt, s.UpdatedAt = domain.StatusFailed, InterruptedMessage, now, now
			if err := t.persistBuild(ctx, s); err != nil {
				c.write.Unlock()
				return report, err
			}
			report.InterruptedBuilds = append(report.InterruptedBuilds, s.Name)
		}
		c.store(s)
		c.write.Unlock()
		report.Builds++
	}

	if len(report.InterruptedTasks)+len(report.InterruptedBuilds) > 0 {
		slog.Warn("Recovered interrupted statuses",
			slog.Any("tasks", report.InterruptedTasks),
			slog.Any("builds", report.InterruptedBuilds))
	}
	return report, nil
}

func (t *Tracker) persistTask(ctx context.Context, s domain.TaskStatus) error {
	return t.persist(ctx, EntityTask, s.Name, func(ctx context.Context) error {
		return t.store.SetTaskStatus(ctx, s)
	})
}

func (t *Tracker) persistBuild(ctx context.Context, s domain.BuildStatus) error {
	return t.persist(ctx, EntityBuild, s.Name, func(ctx context.Context) error {
		return t.store.SetBuildStatus(ctx, s)
	})
}

func (t *Tracker) persist(ctx context.Context, entity, name string, write func(context.Context) error) error {
	attempts, err := t.policy.Do(ctx, write, func(n int, err error) {
		t.recorder.IncPersistenceRetry(entity)
		slog.Warn("Status write failed, retrying",
			slog.String("entity", entity),
			slog.String("name", name),
			logfields.Attempt(n),
			logfields.Error(err))
	})
	if err != nil {
		t.recorder.IncPersistenceRetryExhausted(entity)
		return &PersistenceError{Entity: entity, Name: name, Attempts: attempts, Err: err}
	}
	return nil
}

func checkFinish(entity, name string, cur domain.Status, curRun, runID string, to domain.Status) error {
	if !to.Terminal() {
		return &TransitionError{Entity: entity, Name: name, From: cur, To: to, Reason: "target is not terminal"}
	}
	if cur != domain.StatusRunning {
		return &TransitionError{Entity: entity, Name: name, From: cur, To: to}
	}
	if curRun != runID {
		return &TransitionError{Entity: entity, Name: name, From: cur, To: to, Reason: fmt.Sprintf("owned by run %s", curRun)}
	}
	return nil
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
