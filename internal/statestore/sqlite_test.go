package statestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	"git.home.luguber.info/inful/buildgraph/internal/domain"
	"git.home.luguber.info/inful/buildgraph/internal/retry"
	"git.home.luguber.info/inful/buildgraph/internal/status"
)

var _ status.Store = (*SQLiteStore)(nil)

func TestTaskStatusRoundTrip(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := t.Context()

	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	st := domain.TaskStatus{
		Name: "compile", Status: domain.StatusRunning, Build: "release", RunID: "r1",
		StartedAt: started, CreatedAt: started, UpdatedAt: started,
	}
	require.NoError(t, store.SetTaskStatus(ctx, st))

	st.Status, st.Error, st.FinishedAt = domain.StatusFailed, "disk full", started.Add(time.Second)
	require.NoError(t, store.SetTaskStatus(ctx, st))

	got, err := store.LoadTaskStatuses(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.TaskStatus{st}, got)
}

func TestBuildStatusRoundTrip(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := t.Context()

	st := domain.BuildStatus{Name: "release", Status: domain.StatusFailed, Error: "disk full", FailedTask: "C", RunID: "r1"}
	require.NoError(t, store.SetBuildStatus(ctx, st))
	require.NoError(t, store.SetBuildStatus(ctx, domain.BuildStatus{Name: "nightly", Status: domain.StatusPending}))

	got, err := store.LoadBuildStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "nightly", got[0].Name)
	require.Equal(t, st, got[1])
}

func TestRecoveryAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := t.Context()
	policy := retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 1)

	store, err := Open(path)
	require.NoError(t, err)
	tr := status.New(store, policy, nil)
	_, err = tr.StartBuild(ctx, "release", "r1")
	require.NoError(t, err)
	_, err = tr.StartTask(ctx, "compile", "release", "r1")
	require.NoError(t, err)
	require.NoError(t, store.Close()) // simulated crash: no completion recorded

	reopened, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	tr = status.New(reopened, policy, nil)
	report, err := tr.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"compile"}, report.InterruptedTasks)
	require.Equal(t, []string{"release"}, report.InterruptedBuilds)
	require.Equal(t, status.InterruptedMessage, tr.Task("compile").Error)
}
