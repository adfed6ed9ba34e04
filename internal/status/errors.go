package status

import (
	"fmt"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// Entity names used in errors, logs and metrics labels.
const (
	EntityTask  = "task"
	EntityBuild = "build"
)

// BuildAlreadyRunningError rejects a second concurrent run of the same build.
type BuildAlreadyRunningError struct {
	Build string
	RunID string
}

func (e *BuildAlreadyRunningError) Error() string {
	return fmt.Sprintf("build %q is already running (run %s)", e.Build, e.RunID)
}

func (e *BuildAlreadyRunningError) Category() ferrors.ErrorCategory { return ferrors.CategoryConflict }

// TaskBusyError is returned when a task is running on behalf of another build run.
type TaskBusyError struct {
	Task  string
	Build string
	RunID string
}

func (e *TaskBusyError) Error() string {
	return fmt.Sprintf("task %q is already running in build %q", e.Task, e.Build)
}

func (e *TaskBusyError) Category() ferrors.ErrorCategory { return ferrors.CategoryConflict }

// TransitionError reports a state change the lifecycle does not allow.
type TransitionError struct {
	Entity string
	Name   string
	From   domain.Status
	To     domain.Status
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s %q: invalid transition %s -> %s", e.Entity, e.Name, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Category() ferrors.ErrorCategory { return ferrors.CategoryConflict }

// PersistenceError is returned once a status write failed after every retry.
// The in-memory status is left at its previous value.
type PersistenceError struct {
	Entity   string
	Name     string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s %q status failed after %d attempts: %v", e.Entity, e.Name, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Category() ferrors.ErrorCategory { return ferrors.CategoryPersistence }
