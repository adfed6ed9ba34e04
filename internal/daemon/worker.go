package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	"git.home.luguber.info/inful/buildgraph/internal/dispatch"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
	"git.home.luguber.info/inful/buildgraph/internal/natsbus"
	"git.home.luguber.info/inful/buildgraph/internal/runner"
)

// RunWorker serves remote dispatch requests until ctx is canceled. An empty
// id defaults to the host name.
func RunWorker(ctx context.Context, cfg *config.Config, id string, concurrency int) error {
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		id = host
	}
	if concurrency <= 0 {
		concurrency = cfg.Dispatch.Workers
	}

	bus, err := natsbus.Connect(cfg.NATS, "buildgraph-worker-"+id)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bus.Close(); cerr != nil {
			slog.Warn("Failed to close NATS connection", logfields.Error(cerr))
		}
	}()

	w := dispatch.NewNATSWorker(bus.Conn, cfg.NATS.Subject, cfg.NATS.QueueGroup, id, concurrency, runner.NewShell())
	// In-flight commands outlive ctx until Stop's grace period ends.
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	slog.Info("Worker stopped", logfields.Worker(id))
	return nil
}
