package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	"git.home.luguber.info/inful/buildgraph/internal/domain"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/retry"
)

// flakyStore fails the next n writes.
type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	writes   atomic.Int32
}

var errLocked = errors.New("database is locked")

func (f *flakyStore) fail() error {
	f.writes.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errLocked
	}
	return nil
}

func (f *flakyStore) SetTaskStatus(ctx context.Context, s domain.TaskStatus) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryStore.SetTaskStatus(ctx, s)
}

func (f *flakyStore) SetBuildStatus(ctx context.Context, s domain.BuildStatus) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryStore.SetBuildStatus(ctx, s)
}

func fastPolicy(retries int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, retries)
}

func newTracker(t *testing.T) (*Tracker, *flakyStore) {
	t.Helper()
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	return New(store, fastPolicy(2), nil), store
}

func TestTaskLifecycle(t *testing.T) {
	ctx := t.Context()
	tr, store := newTracker(t)

	require.Equal(t, domain.StatusPending, tr.Task("compile").Status)

	s, err := tr.StartTask(ctx, "compile", "release", "run-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, s.Status)
	require.Equal(t, "release", s.Build)

	s, err = tr.FinishTask(ctx, "compile", "run-1", domain.StatusFailed, "disk full")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, s.Status)
	require.Equal(t, "disk full", tr.Task("compile").Error)

	persisted, err := store.LoadTaskStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.Equal(t, tr.Task("compile"), persisted[0])
}

func TestTaskTransitionsAreMonotonicWithinRun(t *testing.T) {
	ctx := t.Context()
	tr, _ := newTracker(t)

	_, err := tr.FinishTask(ctx, "a", "run-1", domain.StatusSuccess, "")
	var te *TransitionError
	require.ErrorAs(t, err, &te, "pending cannot finish")

	_, err = tr.StartTask(ctx, "a", "b", "run-1")
	require.NoError(t, err)
	_, err = tr.FinishTask(ctx, "a", "run-1", domain.StatusPending, "")
	require.ErrorAs(t, err, &te, "running cannot go back to pending")
	_, err = tr.FinishTask(ctx, "a", "run-other", domain.StatusSuccess, "")
	require.ErrorAs(t, err, &te, "only the owning run can finish")

	_, err = tr.FinishTask(ctx, "a", "run-1", domain.StatusSuccess, "")
	require.NoError(t, err)
	_, err = tr.StartTask(ctx, "a", "b", "run-1")
	require.ErrorAs(t, err, &te, "no restart within the same run")
	_, err = tr.FinishTask(ctx, "a", "run-1", domain.StatusFailed, "late")
	require.ErrorAs(t, err, &te, "terminal is final within the run")
	require.Equal(t, domain.StatusSuccess, tr.Task("a").Status)

	_, err = tr.StartTask(ctx, "a", "b", "run-2")
	require.NoError(t, err, "a new run may start a finished task")
}

func TestTaskBusyInAnotherRun(t *testing.T) {
	ctx := t.Context()
	tr, _ := newTracker(t)

	_, err := tr.StartTask(ctx, "shared", "build-a", "run-a")
	require.NoError(t, err)
	_, err = tr.StartTask(ctx, "shared", "build-b", "run-b")
	var busy *TaskBusyError
	require.ErrorAs(t, err, &busy)
	require.Equal(t, "build-a", busy.Build)
	require.Equal(t, "run-a", tr.Task("shared").RunID)
}

func TestBuildAlreadyRunning(t *testing.T) {
	ctx := t.Context()
	tr, store := newTracker(t)

	_, err := tr.StartBuild(ctx, "release", "run-1")
	require.NoError(t, err)
	writes := store.writes.Load()

	_, err = tr.StartBuild(ctx, "release", "run-2")
	var running *BuildAlreadyRunningError
	require.ErrorAs(t, err, &running)
	require.Equal(t, "run-1", running.RunID)
	require.Equal(t, ferrors.CategoryConflict, ferrors.CategoryOf(err))
	require.Equal(t, writes, store.writes.Load(), "rejection writes nothing")

	b, err := tr.FinishBuild(ctx, "release", "run-1", domain.StatusFailed, "C", "disk full")
	require.NoError(t, err)
	require.Equal(t, "C", b.FailedTask)

	b, err = tr.StartBuild(ctx, "release", "run-2")
	require.NoError(t, err)
	require.Empty(t, b.Error, "new run clears the previous failure")
	require.Empty(t, b.FailedTask)
}

func TestReset(t *testing.T) {
	ctx := t.Context()
	tr, _ := newTracker(t)

	_, err := tr.StartTask(ctx, "a", "b", "run-1")
	require.NoError(t, err)
	_, err = tr.ResetTask(ctx, "a")
	var te *TransitionError
	require.ErrorAs(t, err, &te, "running tasks cannot be reset")

	_, err = tr.FinishTask(ctx, "a", "run-1", domain.StatusFailed, "boom")
	require.NoError(t, err)
	s, err := tr.ResetTask(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, s.Status)
	require.Empty(t, s.Error)
	require.Empty(t, s.RunID)

	_, err = tr.StartBuild(ctx, "b", "run-1")
	require.NoError(t, err)
	_, err = tr.ResetBuild(ctx, "b")
	require.ErrorAs(t, err, &te)
	_, err = tr.FinishBuild(ctx, "b", "run-1", domain.StatusSuccess, "", "")
	require.NoError(t, err)
	bs, err := tr.ResetBuild(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, bs.Status)
}

func TestPersistenceRetriedWithBackoff(t *testing.T) {
	ctx := t.Context()
	tr, store := newTracker(t)
	store.failures.Store(2)

	_, err := tr.StartTask(ctx, "a", "b", "run-1")
	require.NoError(t, err)
	require.Equal(t, int32(3), store.writes.Load())
	require.Equal(t, domain.StatusRunning, tr.Task("a").Status)
}

func TestPersistenceExhaustedLeavesStatusUnchanged(t *testing.T) {
	ctx := t.Context()
	tr, store := newTracker(t)
	store.failures.Store(10)

	_, err := tr.StartTask(ctx, "a", "b", "run-1")
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 3, pe.Attempts)
	require.ErrorIs(t, err, errLocked)
	require.Equal(t, ferrors.CategoryPersistence, ferrors.CategoryOf(err))
	require.Equal(t, domain.StatusPending, tr.Task("a").Status, "unpersisted status is not visible")
}

func TestAbortCommitsInMemory(t *testing.T) {
	ctx := t.Context()
	tr, store := newTracker(t)
	_, err := tr.StartBuild(ctx, "b", "run-1")
	require.NoError(t, err)
	_, err = tr.StartTask(ctx, "a", "b", "run-1")
	require.NoError(t, err)

	store.failures.Store(10)
	require.Error(t, tr.AbortTask(ctx, "a", "run-1", "status persistence failed"))
	require.Error(t, tr.AbortBuild(ctx, "b", "run-1", "", "status persistence failed"))
	require.Equal(t, domain.StatusFailed, tr.Task("a").Status)
	require.Equal(t, domain.StatusFailed, tr.Build("b").Status)

	require.NoError(t, tr.AbortTask(ctx, "a", "run-other", "ignored"))
	require.Equal(t, "status persistence failed", tr.Task("a").Error)
}

func TestRecoverMarksRunningAsInterrupted(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryStore()
	require.NoError(t, store.SetTaskStatus(ctx, domain.TaskStatus{Name: "a", Status: domain.StatusSuccess, RunID: "r"}))
	require.NoError(t, store.SetTaskStatus(ctx, domain.TaskStatus{Name: "b", Status: domain.StatusRunning, RunID: "r"}))
	require.NoError(t, store.SetBuildStatus(ctx, domain.BuildStatus{Name: "all", Status: domain.StatusRunning, RunID: "r"}))

	tr := New(store, fastPolicy(0), nil)
	report, err := tr.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Tasks)
	require.Equal(t, []string{"b"}, report.InterruptedTasks)
	require.Equal(t, []string{"all"}, report.InterruptedBuilds)

	require.Equal(t, domain.StatusSuccess, tr.Task("a").Status)
	require.Equal(t, domain.StatusFailed, tr.Task("b").Status)
	require.Equal(t, InterruptedMessage, tr.Build("all").Error)

	persisted, err := store.LoadBuildStatuses(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, persisted[0].Status)

	_, err = tr.StartBuild(ctx, "all", "r2")
	require.NoError(t, err, "recovered build can run again")
}

// slowStore blocks writes until released so reads can be observed mid-write.
type slowStore struct {
	*MemoryStore
	release chan struct{}
}

func (s *slowStore) SetTaskStatus(ctx context.Context, st domain.TaskStatus) error {
	<-s.release
	return s.MemoryStore.SetTaskStatus(ctx, st)
}

func TestReadsDoNotWaitForPersistence(t *testing.T) {
	ctx := t.Context()
	store := &slowStore{MemoryStore: NewMemoryStore(), release: make(chan struct{})}
	tr := New(store, fastPolicy(0), nil)

	done := make(chan error, 1)
	go func() {
		_, err := tr.StartTask(ctx, "a", "b", "run-1")
		done <- err
	}()

	require.Never(t, func() bool { return tr.Task("a").Status != domain.StatusPending }, 50*time.Millisecond, 5*time.Millisecond)
	close(store.release)
	require.NoError(t, <-done)
	require.Equal(t, domain.StatusRunning, tr.Task("a").Status)
}

func TestConcurrentFinishesAreNotLost(t *testing.T) {
	ctx := t.Context()
	tr, _ := newTracker(t)
	names := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8"}
	for _, n := range names {
		_, err := tr.StartTask(ctx, n, "b", "run-1")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, n := range names {
		wg.Add(2)
		for range 2 {
			go func() {
				defer wg.Done()
				_, _ = tr.FinishTask(ctx, n, "run-1", domain.StatusSuccess, "")
			}()
		}
	}
	wg.Wait()

	for _, s := range tr.Tasks() {
		require.Equal(t, domain.StatusSuccess, s.Status, s.Name)
	}
	require.Len(t, tr.Tasks(), len(names))
}
