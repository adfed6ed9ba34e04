package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/buildgraph/internal/logfields"
)

// Scheduler wraps gocron scheduler for managing periodic tasks.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start(_ context.Context) {
	slog.Info("Starting scheduler", slog.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Scheduler) Stop(_ context.Context) error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleEvery runs fn every interval. A run still in progress when the next
// one is due causes that one to be skipped.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, fn func()) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("schedule %s: interval must be positive, got %s", name, interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.wrap(name, fn)),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create periodic job %s: %w", name, err)
	}
	return job.ID().String(), nil
}

// ScheduleCron runs fn on a five-field cron expression.
func (s *Scheduler) ScheduleCron(name, expression string, fn func()) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(expression, false),
		gocron.NewTask(s.wrap(name, fn)),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create cron job %s: %w", name, err)
	}
	return job.ID().String(), nil
}

func (s *Scheduler) wrap(name string, fn func()) func() {
	return func() {
		slog.Debug("Running scheduled job", slog.String("job", name))
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Scheduled job panicked", slog.String("job", name), slog.Any("panic", r))
			}
		}()
		fn()
	}
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	return len(s.scheduler.Jobs())
}

func logScheduled(id, name string, interval time.Duration) {
	slog.Info("Scheduled job", logfields.ScheduleID(id), slog.String("job", name), slog.Duration("interval", interval))
}
