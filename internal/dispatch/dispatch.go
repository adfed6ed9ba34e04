// Package dispatch hands tasks to workers and reports their completion.
//
// The orchestrator talks to a Dispatcher only. Two implementations exist:
// LocalPool runs commands in-process on a bounded set of workers, and
// NATSDispatcher publishes them to NATSWorker processes behind a queue group.
// Both guarantee that the callback of an accepted dispatch runs exactly once.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/runner"
)

// Request is one task execution within a build run.
type Request struct {
	RunID      string
	Build      string
	Task       string
	Command    string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// Outcome is what the worker reported for a request.
type Outcome struct {
	Success  bool
	Message  string
	TimedOut bool
	Duration time.Duration
	Worker   string
}

// Callback receives the outcome of an accepted dispatch.
type Callback func(Outcome)

// Handle identifies an accepted dispatch.
type Handle struct {
	ID   string
	Task string
}

// Dispatcher is the execution mechanism the orchestrator submits tasks to.
type Dispatcher interface {
	// Dispatch returns once the request is accepted. The callback is invoked
	// exactly once for every accepted request, and never if an error is returned.
	Dispatch(ctx context.Context, req Request, cb Callback) (Handle, error)
}

// TimeoutMessage is the failure message used for a task that ran out of time.
func TimeoutMessage(d time.Duration) string {
	return fmt.Sprintf("timeout after %s", d)
}

// Execute runs req on r, enforcing req.Timeout, and converts the result into an Outcome.
func Execute(ctx context.Context, r runner.Runner, req Request, worker string) Outcome {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	res, err := r.Run(ctx, runner.Spec{
		Task:       req.Task,
		Command:    req.Command,
		WorkingDir: req.WorkingDir,
		Env:        req.Env,
	})
	out := Outcome{Success: err == nil, Duration: res.Duration, Worker: worker}
	switch {
	case err == nil:
	case errors.Is(err, runner.ErrTimeout):
		out.TimedOut = true
		out.Message = TimeoutMessage(req.Timeout)
	case errors.Is(err, context.Canceled):
		out.Message = "canceled"
	default:
		out.Message = err.Error()
	}
	return out
}
