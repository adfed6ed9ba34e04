// Package orchestrator executes builds layer by layer over a Dispatcher and
// records every transition in the status Tracker.
package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/buildgraph/internal/dispatch"
	"git.home.luguber.info/inful/buildgraph/internal/domain"
	"git.home.luguber.info/inful/buildgraph/internal/eventstore"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/graph"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
	"git.home.luguber.info/inful/buildgraph/internal/metrics"
	"git.home.luguber.info/inful/buildgraph/internal/ordercache"
	"git.home.luguber.info/inful/buildgraph/internal/registry"
	"git.home.luguber.info/inful/buildgraph/internal/status"
	"git.home.luguber.info/inful/buildgraph/internal/topo"
)

// Definitions is the read side of the task registry and build definitions.
type Definitions interface {
	GetTask(name string) (domain.Task, error)
	GetBuild(name string) (domain.Build, error)
}

// Options configures an Orchestrator. Zero values select Kahn ordering, no
// order cache, no metrics, no history and no default task timeout.
type Options struct {
	Strategy    topo.Strategy
	Cache       ordercache.Cache
	Recorder    metrics.Recorder
	Emitter     *eventstore.Emitter
	TaskTimeout time.Duration
}

// Orchestrator drives build runs.
type Orchestrator struct {
	defs       Definitions
	tracker    *status.Tracker
	dispatcher dispatch.Dispatcher
	strategy   topo.Strategy
	cache      ordercache.Cache
	recorder   metrics.Recorder
	emitter    *eventstore.Emitter
	timeout    time.Duration

	mu       sync.Mutex
	runs     map[string]*Run
	closing  bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// New creates an orchestrator. When defs publishes registry changes, the
// order cache is invalidated on each of them.
func New(defs Definitions, tracker *status.Tracker, dispatcher dispatch.Dispatcher, opts Options) *Orchestrator {
	o := &Orchestrator{
		defs:       defs,
		tracker:    tracker,
		dispatcher: dispatcher,
		strategy:   opts.Strategy,
		cache:      opts.Cache,
		recorder:   metrics.OrNoop(opts.Recorder),
		emitter:    opts.Emitter,
		timeout:    opts.TaskTimeout,
		runs:       make(map[string]*Run),
	}
	if o.strategy == nil {
		o.strategy = topo.Kahn{}
	}
	if o.cache == nil {
		o.cache = ordercache.None{}
	}
	if n, ok := defs.(interface{ OnChange(func(registry.Change)) }); ok {
		n.OnChange(func(c registry.Change) {
			slog.Debug("Definitions changed, invalidating order cache",
				slog.String("op", string(c.Op)),
				slog.String("kind", string(c.Kind)),
				slog.String("name", c.Name))
			o.cache.Invalidate()
		})
	}
	return o
}

// Strategy returns the name of the configured ordering strategy.
func (o *Orchestrator) Strategy() string { return o.strategy.Name() }

type plan struct {
	build domain.Build
	graph *graph.Graph
	order topo.ExecutionOrder
}

// ComputeExecutionOrder resolves the build's dependency graph and orders it.
// Unknown tasks and cycles are returned as *graph.UnknownTaskError and
// *topo.CycleDetectedError.
func (o *Orchestrator) ComputeExecutionOrder(ctx context.Context, buildName string) (topo.ExecutionOrder, error) {
	p, err := o.plan(ctx, buildName)
	if err != nil {
		return topo.ExecutionOrder{}, err
	}
	return p.order, nil
}

func (o *Orchestrator) plan(ctx context.Context, buildName string) (*plan, error) {
	b, err := o.defs.GetBuild(buildName)
	if err != nil {
		return nil, err
	}
	g, err := graph.Build(b.Tasks, o.defs)
	if err != nil {
		return nil, err
	}

	key := ordercache.Fingerprint(o.strategy.Name(), g)
	cached, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("Order cache lookup failed", logfields.Build(buildName), logfields.Error(err))
	}
	o.recorder.IncOrderCache(ok)
	if ok {
		return &plan{build: b, graph: g, order: cached}, nil
	}

	order, err := topo.Compute(o.strategy, g)
	if err != nil {
		return nil, err
	}
	o.recorder.ObserveSortDuration(order.Strategy, order.Elapsed)
	if err := o.cache.Put(ctx, key, order); err != nil {
		slog.Warn("Order cache store failed", logfields.Build(buildName), logfields.Error(err))
	}
	return &plan{build: b, graph: g, order: order}, nil
}

// RunOption customizes a single Execute call.
type RunOption func(*Run)

// WithTrigger records what started the run (cli, schedule, ...).
func WithTrigger(trigger string) RunOption {
	return func(r *Run) { r.Trigger = trigger }
}

// Execute validates and orders the build, marks it running and drives it in
// the background. Graph errors are returned before any status changes; a
// build that is already running is rejected with
// *status.BuildAlreadyRunningError.
func (o *Orchestrator) Execute(ctx context.Context, buildName string, opts ...RunOption) (*Run, error) {
	p, err := o.plan(ctx, buildName)
	if err != nil {
		return nil, err
	}

	run := newRun(uuid.NewString(), buildName, p.order.Strategy, "manual", p.order.Layers)
	for _, opt := range opts {
		opt(run)
	}

	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return nil, ferrors.ConflictError("orchestrator is shutting down").
			WithContext("build", buildName).
			Build()
	}
	o.wg.Add(1)
	o.mu.Unlock()

	if _, err := o.tracker.StartBuild(ctx, buildName, run.ID); err != nil {
		o.wg.Done()
		return nil, err
	}

	o.mu.Lock()
	o.runs[buildName] = run
	if o.closing {
		run.Cancel()
	}
	o.mu.Unlock()

	slog.Info("Build run accepted",
		logfields.Build(buildName),
		logfields.RunID(run.ID),
		logfields.Strategy(run.Strategy),
		slog.Int("layers", len(run.Layers)),
		slog.Int("tasks", p.graph.Len()),
		slog.String("trigger", run.Trigger))
	if err := o.emitter.EmitRunAccepted(ctx, run.ID, buildName, run.Strategy, run.Layers, run.Trigger); err != nil {
		slog.Warn("Failed to record run event", logfields.RunID(run.ID), logfields.Error(err))
	}

	go o.drive(context.WithoutCancel(ctx), run, p)
	return run, nil
}

// Cancel stops the running build before its next layer.
func (o *Orchestrator) Cancel(buildName string) error {
	o.mu.Lock()
	run, ok := o.runs[buildName]
	o.mu.Unlock()
	if !ok {
		return ferrors.NotFoundError(fmt.Sprintf("build %q is not running", buildName)).
			WithContext("build", buildName).
			Build()
	}
	run.Cancel()
	slog.Info("Build cancellation requested", logfields.Build(buildName), logfields.RunID(run.ID))
	return nil
}

// ActiveRuns lists the runs in flight, sorted by build name.
func (o *Orchestrator) ActiveRuns() []RunInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]RunInfo, 0, len(o.runs))
	for _, r := range o.runs {
		out = append(out, r.info())
	}
	slices.SortFunc(out, func(a, b RunInfo) int { return cmp.Compare(a.Build, b.Build) })
	return out
}

// Wait blocks until every accepted run has finished or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new runs, cancels every active run and waits for the
// in-flight layers to drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	for _, r := range o.runs {
		r.Cancel()
	}
	o.mu.Unlock()
	return o.Wait(ctx)
}

func (o *Orchestrator) drive(ctx context.Context, run *Run, p *plan) {
	defer o.wg.Done()

	var (
		failure *TaskExecutionError
		fatal   error
		stopped bool
	)
	for i, layer := range run.Layers {
		if run.canceled.Load() {
			stopped = true
			break
		}
		run.layer.Store(int64(i))
		slog.Debug("Dispatching layer",
			logfields.Build(run.Build),
			logfields.RunID(run.ID),
			logfields.Layer(i),
			slog.Any("tasks", layer))

		failure, fatal = o.runLayer(ctx, run, p.graph, i, layer)
		if failure != nil || fatal != nil {
			break
		}
	}

	res := RunResult{Status: domain.StatusSuccess, Duration: time.Since(run.StartedAt)}
	outcome := metrics.ResultSuccess
	switch {
	case fatal != nil:
		res.Status, res.Message, res.Err = domain.StatusFailed, fatal.Error(), fatal
		outcome = metrics.ResultFailed
	case failure != nil:
		res.Status, res.FailedTask, res.Message, res.Err = domain.StatusFailed, failure.Task, failure.Message, failure
		outcome = metrics.ResultFailed
	case stopped:
		res.Status, res.Message, res.Err = domain.StatusFailed, CanceledMessage, ErrCanceled
		outcome = metrics.ResultCanceled
	}

	if _, err := o.tracker.FinishBuild(ctx, run.Build, run.ID, res.Status, res.FailedTask, res.Message); err != nil {
		slog.Error("Failed to record build result",
			logfields.Build(run.Build),
			logfields.RunID(run.ID),
			logfields.Error(err))
		res.Status, outcome = domain.StatusFailed, metrics.ResultFailed
		if res.Message == "" {
			res.Message = err.Error()
		}
		res.Err = errors.Join(res.Err, err)
		if abortErr := o.tracker.AbortBuild(ctx, run.Build, run.ID, res.FailedTask, res.Message); abortErr != nil {
			slog.Error("Build status left unpersisted", logfields.Build(run.Build), logfields.Error(abortErr))
		}
	}

	o.recorder.ObserveBuildDuration(res.Duration)
	o.recorder.IncBuildOutcome(outcome)
	if err := o.emitter.EmitRunFinished(ctx, run.ID, run.Build, res.Status == domain.StatusSuccess, res.FailedTask, res.Message, res.Duration); err != nil {
		slog.Warn("Failed to record run event", logfields.RunID(run.ID), logfields.Error(err))
	}

	level := slog.LevelInfo
	if res.Status != domain.StatusSuccess {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "Build run finished",
		logfields.Build(run.Build),
		logfields.RunID(run.ID),
		logfields.Status(string(res.Status)),
		logfields.Duration(res.Duration),
		logfields.Task(res.FailedTask),
		slog.String("message", res.Message))

	run.result = res
	o.mu.Lock()
	if o.runs[run.Build] == run {
		delete(o.runs, run.Build)
	}
	o.mu.Unlock()
	close(run.done)
}

type taskResult struct {
	name    string
	outcome dispatch.Outcome
	ran     bool
}

// runLayer dispatches every task of the layer and returns once all of them
// are terminal. The first failure in name order is reported.
func (o *Orchestrator) runLayer(ctx context.Context, run *Run, g *graph.Graph, idx int, layer []string) (*TaskExecutionError, error) {
	results := make([]taskResult, len(layer))
	var eg errgroup.Group
	for i, name := range layer {
		eg.Go(func() error {
			res, err := o.runTask(ctx, run, g, idx, name)
			results[i] = res
			return err
		})
	}
	fatal := eg.Wait()

	for _, r := range results {
		if r.ran && !r.outcome.Success {
			return &TaskExecutionError{
				Build:    run.Build,
				Task:     r.name,
				RunID:    run.ID,
				Message:  r.outcome.Message,
				TimedOut: r.outcome.TimedOut,
			}, fatal
		}
	}
	return nil, fatal
}

func (o *Orchestrator) runTask(ctx context.Context, run *Run, g *graph.Graph, idx int, name string) (taskResult, error) {
	res := taskResult{name: name}
	task, _ := g.Task(name)

	if _, err := o.tracker.StartTask(ctx, name, run.Build, run.ID); err != nil {
		var busy *status.TaskBusyError
		if errors.As(err, &busy) {
			// The other run owns the task status; only this build fails.
			res.ran = true
			res.outcome = dispatch.Outcome{Message: err.Error()}
			return res, nil
		}
		return res, err
	}
	res.ran = true

	timeout := o.timeout
	if task.Timeout > 0 {
		timeout = task.Timeout
	}
	req := dispatch.Request{
		RunID:      run.ID,
		Build:      run.Build,
		Task:       name,
		Command:    task.Command,
		WorkingDir: task.WorkingDir,
		Env:        task.Env,
		Timeout:    timeout,
	}

	o.recorder.SetTasksInFlight(int(o.inFlight.Add(1)))
	res.outcome = o.await(ctx, run, idx, req)
	o.recorder.SetTasksInFlight(int(o.inFlight.Add(-1)))

	to := domain.StatusSuccess
	result := metrics.ResultSuccess
	if !res.outcome.Success {
		to = domain.StatusFailed
		result = metrics.ResultFailed
		if res.outcome.TimedOut {
			result = metrics.ResultTimeout
		}
	}
	o.recorder.ObserveTaskDuration(res.outcome.Duration, result)
	if err := o.emitter.EmitTaskFinished(ctx, run.ID, run.Build, name, res.outcome.Success, res.outcome.Message, res.outcome.TimedOut, res.outcome.Duration); err != nil {
		slog.Warn("Failed to record task event", logfields.Task(name), logfields.Error(err))
	}

	if _, err := o.tracker.FinishTask(ctx, name, run.ID, to, res.outcome.Message); err != nil {
		if abortErr := o.tracker.AbortTask(ctx, name, run.ID, res.outcome.Message); abortErr != nil {
			slog.Error("Task status left unpersisted", logfields.Task(name), logfields.Error(abortErr))
		}
		return res, err
	}
	return res, nil
}

// await dispatches req and blocks until its callback fires or the timeout passes.
func (o *Orchestrator) await(ctx context.Context, run *Run, idx int, req dispatch.Request) dispatch.Outcome {
	results := make(chan dispatch.Outcome, 1)
	var once sync.Once
	deliver := func(out dispatch.Outcome) {
		once.Do(func() { results <- out })
	}

	start := time.Now()
	handle, err := o.dispatcher.Dispatch(ctx, req, deliver)
	if err != nil {
		slog.Warn("Dispatch failed", logfields.Task(req.Task), logfields.RunID(run.ID), logfields.Error(err))
		return dispatch.Outcome{Message: fmt.Sprintf("dispatch failed: %v", err)}
	}
	if err := o.emitter.EmitTaskDispatched(ctx, run.ID, run.Build, req.Task, idx, handle.ID); err != nil {
		slog.Warn("Failed to record task event", logfields.Task(req.Task), logfields.Error(err))
	}

	var expired <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case out := <-results:
		if out.Duration == 0 {
			out.Duration = time.Since(start)
		}
		return out
	case <-expired:
		deliver(dispatch.Outcome{TimedOut: true, Message: dispatch.TimeoutMessage(req.Timeout), Duration: req.Timeout})
		out := <-results
		slog.Warn("Task timed out",
			logfields.Task(req.Task),
			logfields.RunID(run.ID),
			logfields.Handle(handle.ID),
			logfields.Duration(req.Timeout))
		return out
	}
}
