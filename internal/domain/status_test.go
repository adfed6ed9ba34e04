package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusRunning.Terminal())
	require.True(t, StatusSuccess.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusRunning, ParseStatus("running"))
	require.Equal(t, StatusPending, ParseStatus("completed"))
	require.Equal(t, StatusPending, ParseStatus(""))
}

func TestCloneIsolatesSlices(t *testing.T) {
	task := Task{Name: "b", Dependencies: []string{"a"}, Env: map[string]string{"K": "v"}}
	c := task.Clone()
	c.Dependencies[0] = "x"
	c.Env["K"] = "changed"
	require.Equal(t, "a", task.Dependencies[0])
	require.Equal(t, "v", task.Env["K"])

	build := Build{Name: "all", Tasks: []string{"a"}}
	bc := build.Clone()
	bc.Tasks[0] = "z"
	require.Equal(t, "a", build.Tasks[0])
}

func TestDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Zero(t, TaskStatus{StartedAt: start}.Duration())
	require.Equal(t, 3*time.Second, BuildStatus{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}.Duration())
}
