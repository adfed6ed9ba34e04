package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

func TestPutAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.PutTask(domain.Task{Name: "b", Dependencies: []string{"a"}}))
	require.NoError(t, r.PutTask(domain.Task{Name: "a"}))
	require.NoError(t, r.PutBuild(domain.Build{Name: "all", Tasks: []string{"b"}}))

	task, err := r.GetTask("b")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, task.Dependencies)
	require.False(t, task.CreatedAt.IsZero())

	task.Dependencies[0] = "mutated"
	again, err := r.GetTask("b")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, again.Dependencies, "returned values are copies")

	names := []string{}
	for _, tk := range r.ListTasks() {
		names = append(names, tk.Name)
	}
	require.Equal(t, []string{"a", "b"}, names)
	require.Len(t, r.ListBuilds(), 1)
}

func TestNotFound(t *testing.T) {
	r := New()
	_, err := r.GetTask("z")
	require.True(t, IsNotFound(err, KindTask))
	require.False(t, IsNotFound(err, KindBuild))
	require.Equal(t, ferrors.CategoryNotFound, ferrors.CategoryOf(err))

	_, err = r.GetBuild("nightly")
	require.EqualError(t, err, `build "nightly" not found`)
	require.Error(t, r.DeleteTask("z"))
	require.Error(t, r.DeleteBuild("z"))
}

func TestPutRejectsInvalidDefinitions(t *testing.T) {
	r := New()
	cases := []struct {
		name string
		err  error
	}{
		{"self dependency", r.PutTask(domain.Task{Name: "a", Dependencies: []string{"a"}})},
		{"duplicate dependency", r.PutTask(domain.Task{Name: "a", Dependencies: []string{"b", "b"}})},
		{"empty name", r.PutTask(domain.Task{Name: " "})},
		{"negative timeout", r.PutTask(domain.Task{Name: "a", Timeout: -time.Second})},
		{"duplicate member", r.PutBuild(domain.Build{Name: "x", Tasks: []string{"a", "a"}})},
		{"empty build", r.PutBuild(domain.Build{Name: "x"})},
	}
	for _, tc := range cases {
		require.Error(t, tc.err, tc.name)
		require.True(t, ferrors.HasCategory(tc.err, ferrors.CategoryValidation), tc.name)
	}
	require.Empty(t, r.ListTasks())
	require.Zero(t, r.Generation())
}

func TestPutPreservesCreatedAt(t *testing.T) {
	r := New()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	require.NoError(t, r.PutTask(domain.Task{Name: "a"}))

	clock = clock.Add(time.Hour)
	require.NoError(t, r.PutTask(domain.Task{Name: "a", Command: "true"}))

	task, err := r.GetTask("a")
	require.NoError(t, err)
	require.Equal(t, clock.Add(-time.Hour), task.CreatedAt)
	require.Equal(t, clock, task.UpdatedAt)
}

func TestValidateReportsDanglingReferences(t *testing.T) {
	r := New()
	require.NoError(t, r.PutTask(domain.Task{Name: "a", Dependencies: []string{"ghost"}}))
	require.NoError(t, r.PutBuild(domain.Build{Name: "all", Tasks: []string{"a", "z"}}))

	err := r.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), `task "a" depends on unknown task "ghost"`)
	require.Contains(t, err.Error(), `build "all" references unknown task "z"`)

	require.NoError(t, r.PutTask(domain.Task{Name: "ghost"}))
	require.NoError(t, r.PutTask(domain.Task{Name: "z"}))
	require.NoError(t, r.Validate())
}

func TestReplaceAndOnChange(t *testing.T) {
	r := New()
	var changes []Change
	r.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, r.PutTask(domain.Task{Name: "old"}))
	require.NoError(t, r.Replace(
		[]domain.Task{{Name: "a"}, {Name: "b", Dependencies: []string{"a"}}},
		[]domain.Build{{Name: "all", Tasks: []string{"b"}}},
	))
	require.NoError(t, r.DeleteBuild("all"))

	require.Len(t, changes, 3)
	require.Equal(t, Change{Op: OpPut, Kind: KindTask, Name: "old", Generation: 1}, changes[0])
	require.Equal(t, OpReplace, changes[1].Op)
	require.Equal(t, Change{Op: OpDelete, Kind: KindBuild, Name: "all", Generation: 3}, changes[2])

	_, err := r.GetTask("old")
	require.True(t, IsNotFound(err, KindTask))

	err = r.Replace([]domain.Task{{Name: "a"}, {Name: "a"}}, nil)
	require.ErrorContains(t, err, `duplicate task "a"`)
	require.Len(t, r.ListTasks(), 2, "failed replace leaves state untouched")
}
