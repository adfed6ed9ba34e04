package orchestrator

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
)

// RunResult is the terminal state of a build run.
type RunResult struct {
	Status     domain.Status
	FailedTask string
	Message    string
	Duration   time.Duration
	// Err is a *TaskExecutionError for task failures, ErrCanceled for canceled
	// runs, or the orchestration failure (for example a status PersistenceError).
	Err error
}

// Run is one accepted execution of a build.
type Run struct {
	ID        string
	Build     string
	Strategy  string
	Trigger   string
	Layers    [][]string
	StartedAt time.Time

	layer    atomic.Int64
	canceled atomic.Bool
	done     chan struct{}
	result   RunResult
}

func newRun(id, build, strategy, trigger string, layers [][]string) *Run {
	r := &Run{
		ID:        id,
		Build:     build,
		Strategy:  strategy,
		Trigger:   trigger,
		Layers:    layers,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	r.layer.Store(-1)
	return r
}

// Done is closed once the run has reached a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (RunResult, error) {
	select {
	case <-r.done:
		return r.result, r.result.Err
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

// Result returns the terminal result once Done is closed.
func (r *Run) Result() (RunResult, bool) {
	select {
	case <-r.done:
		return r.result, true
	default:
		return RunResult{}, false
	}
}

// Cancel asks the run to stop before dispatching its next layer. Tasks in
// flight still run to completion.
func (r *Run) Cancel() { r.canceled.Store(true) }

// RunInfo is a point-in-time view of an active run.
type RunInfo struct {
	ID           string
	Build        string
	Strategy     string
	Trigger      string
	Layers       [][]string
	CurrentLayer int
	Canceled     bool
	StartedAt    time.Time
}

func (r *Run) info() RunInfo {
	layers := make([][]string, len(r.Layers))
	for i, l := range r.Layers {
		layers[i] = slices.Clone(l)
	}
	return RunInfo{
		ID:           r.ID,
		Build:        r.Build,
		Strategy:     r.Strategy,
		Trigger:      r.Trigger,
		Layers:       layers,
		CurrentLayer: int(r.layer.Load()),
		Canceled:     r.canceled.Load(),
		StartedAt:    r.StartedAt,
	}
}
