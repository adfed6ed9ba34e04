// Package daemon runs the long-lived orchestrator process: scheduled builds,
// definition reloads, history pruning and the HTTP monitoring surface.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/logfields"
	"git.home.luguber.info/inful/buildgraph/internal/orchestrator"
	"git.home.luguber.info/inful/buildgraph/internal/status"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ScheduleTrigger marks runs started by the scheduler.
const ScheduleTrigger = "schedule"

// Daemon represents the main daemon service
type Daemon struct {
	svc       *Services
	status    atomic.Value // Status
	startTime time.Time
	mu        sync.Mutex

	scheduler  *Scheduler
	watcher    *DefinitionsWatcher
	httpServer *HTTPServer

	skipped atomic.Int64
}

// New creates a daemon around already wired services.
func New(svc *Services) (*Daemon, error) {
	if svc == nil || svc.Config == nil {
		return nil, fmt.Errorf("services are required")
	}
	scheduler, err := NewScheduler()
	if err != nil {
		return nil, err
	}
	d := &Daemon{svc: svc, scheduler: scheduler}
	d.status.Store(StatusStopped)

	if svc.Config.WatchDefinitions && svc.Config.Definitions != "" {
		if d.watcher, err = NewDefinitionsWatcher(svc.Config.Definitions, svc.Reload); err != nil {
			return nil, err
		}
	}
	if svc.Config.Monitoring.Metrics.Enabled {
		d.httpServer = NewHTTPServer(svc.Config.Monitoring.Metrics, d)
	}
	return d, nil
}

// GetStatus returns the current daemon status.
func (d *Daemon) GetStatus() Status {
	s, _ := d.status.Load().(Status)
	return s
}

// Uptime returns how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startTime.IsZero() {
		return 0
	}
	return time.Since(d.startTime)
}

// SkippedRuns counts scheduled triggers dropped because the build was still running.
func (d *Daemon) SkippedRuns() int64 { return d.skipped.Load() }

// Run starts the daemon and blocks until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}

// Start registers scheduled jobs and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetStatus() == StatusRunning {
		return fmt.Errorf("daemon is already running")
	}
	d.status.Store(StatusStarting)
	slog.Info("Starting buildgraph daemon")

	if err := d.schedule(ctx); err != nil {
		d.status.Store(StatusError)
		return err
	}
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.status.Store(StatusError)
			return err
		}
	}
	if d.httpServer != nil {
		if err := d.httpServer.Start(ctx); err != nil {
			d.status.Store(StatusError)
			return err
		}
	}
	d.scheduler.Start(ctx)

	d.startTime = time.Now()
	d.status.Store(StatusRunning)
	slog.Info("Buildgraph daemon started", slog.Int("schedules", d.scheduler.JobCount()))
	return nil
}

func (d *Daemon) schedule(ctx context.Context) error {
	cfg := d.svc.Config
	for _, sc := range cfg.Schedules {
		interval, err := time.ParseDuration(sc.Interval)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", sc.Build, err)
		}
		build := sc.Build
		id, err := d.scheduler.ScheduleEvery("build:"+build, interval, func() { d.triggerBuild(ctx, build) })
		if err != nil {
			return err
		}
		logScheduled(id, "build:"+build, interval)
	}

	id, err := d.scheduler.ScheduleEvery("prune-history", cfg.PruneInterval(), func() { d.pruneHistory(ctx) })
	if err != nil {
		return err
	}
	logScheduled(id, "prune-history", cfg.PruneInterval())
	return nil
}

// triggerBuild starts a scheduled run. A build that is still running from a
// previous trigger is skipped.
func (d *Daemon) triggerBuild(ctx context.Context, build string) {
	run, err := d.svc.Orchestrator.Execute(ctx, build, orchestrator.WithTrigger(ScheduleTrigger))
	if err != nil {
		var busy *status.BuildAlreadyRunningError
		if errors.As(err, &busy) {
			d.skipped.Add(1)
			slog.Info("Skipping scheduled build, previous run still active", logfields.Build(build), logfields.RunID(busy.RunID))
			return
		}
		slog.Error("Scheduled build rejected", logfields.Build(build), logfields.Error(err))
		return
	}
	slog.Info("Scheduled build started", logfields.Build(build), logfields.RunID(run.ID))
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	before := time.Now().Add(-d.svc.Config.EventRetention())
	n, err := d.svc.Events.Prune(ctx, before)
	if err != nil {
		slog.Error("Failed to prune run history", logfields.Error(err))
		return
	}
	if n > 0 {
		slog.Info("Pruned run history", slog.Int64("events", n), slog.Time("before", before))
	}
}

// Stop stops background services and waits for active runs to finish.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.GetStatus() != StatusRunning {
		return nil
	}
	d.status.Store(StatusStopping)
	slog.Info("Stopping buildgraph daemon")

	var errs []error
	if err := d.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop watcher: %w", err))
		}
	}
	if d.httpServer != nil {
		if err := d.httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}
	if err := d.svc.Orchestrator.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for runs: %w", err))
	}

	d.status.Store(StatusStopped)
	slog.Info("Buildgraph daemon stopped", slog.Duration("uptime", time.Since(d.startTime)))
	return errors.Join(errs...)
}
