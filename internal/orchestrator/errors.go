package orchestrator

import (
	"fmt"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// TaskExecutionError is a dispatched task that reported failure or timed out.
// It is recorded on the task and build, never raised as a process fault.
type TaskExecutionError struct {
	Build    string
	Task     string
	RunID    string
	Message  string
	TimedOut bool
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %q failed: %s", e.Task, e.Message)
}

func (e *TaskExecutionError) Category() ferrors.ErrorCategory { return ferrors.CategoryExecution }

// ErrCanceled is the result of a run stopped by Cancel before its last layer.
var ErrCanceled = ferrors.NewError(ferrors.CategoryExecution, CanceledMessage).Build()

// CanceledMessage is recorded on builds stopped by Cancel.
const CanceledMessage = "canceled"
