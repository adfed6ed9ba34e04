package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func emitRun(t *testing.T, em *Emitter, runID string, fail bool) {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, em.EmitRunAccepted(ctx, runID, "release", "kahn", [][]string{{"A"}, {"B", "C"}}, "manual"))
	require.NoError(t, em.EmitTaskDispatched(ctx, runID, "release", "A", 0, "h1"))
	require.NoError(t, em.EmitTaskFinished(ctx, runID, "release", "A", true, "", false, time.Millisecond))
	require.NoError(t, em.EmitTaskDispatched(ctx, runID, "release", "B", 1, "h2"))
	require.NoError(t, em.EmitTaskDispatched(ctx, runID, "release", "C", 1, "h3"))
	require.NoError(t, em.EmitTaskFinished(ctx, runID, "release", "B", true, "", false, time.Millisecond))
	if fail {
		require.NoError(t, em.EmitTaskFinished(ctx, runID, "release", "C", false, "disk full", false, time.Millisecond))
		require.NoError(t, em.EmitRunFinished(ctx, runID, "release", false, "C", "disk full", time.Second))
		return
	}
	require.NoError(t, em.EmitTaskFinished(ctx, runID, "release", "C", true, "", false, time.Millisecond))
	require.NoError(t, em.EmitRunFinished(ctx, runID, "release", true, "", "", time.Second))
}

func TestRunHistoryProjection(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	projection := NewRunHistoryProjection(store, 10)
	em := NewEmitter(store, projection)

	emitRun(t, em, "r1", true)
	emitRun(t, em, "r2", false)
	require.NoError(t, em.EmitRunAccepted(t.Context(), "r3", "release", "dfs", nil, "schedule"))

	history := projection.History("release")
	require.Len(t, history, 2)
	require.Equal(t, "r2", history[0].RunID, "newest first")
	require.Equal(t, "success", history[0].Status)

	failed := history[1]
	require.Equal(t, "failed", failed.Status)
	require.Equal(t, "C", failed.FailedTask)
	require.Equal(t, "disk full", failed.ErrorMessage)
	require.Equal(t, 3, failed.Dispatched)
	require.Equal(t, 2, failed.Succeeded)
	require.Equal(t, 1, failed.Failed)
	require.Equal(t, 2, failed.LayerCount)

	active := projection.ActiveRuns()
	require.Len(t, active, 1)
	require.Equal(t, "r3", active[0].RunID)

	rebuilt := NewRunHistoryProjection(store, 10)
	require.NoError(t, rebuilt.Rebuild(t.Context()))
	require.Equal(t, len(history), len(rebuilt.History("")))
	run, ok := rebuilt.GetRun("r1")
	require.True(t, ok)
	require.Equal(t, "disk full", run.ErrorMessage)
	require.False(t, rebuilt.LastSyncTime().IsZero())
}

func TestRunHistoryProjectionBounded(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	projection := NewRunHistoryProjection(store, 2)
	em := NewEmitter(store, projection)
	for _, id := range []string{"r1", "r2", "r3"} {
		emitRun(t, em, id, false)
	}
	history := projection.History("")
	require.Len(t, history, 2)
	_, ok := projection.GetRun("r1")
	require.False(t, ok, "evicted runs are pruned")
}

func TestNilEmitterIsNoop(t *testing.T) {
	var em *Emitter
	require.NoError(t, em.EmitRunFinished(t.Context(), "r", "b", true, "", "", 0))
	require.Nil(t, em.Projection())
}
