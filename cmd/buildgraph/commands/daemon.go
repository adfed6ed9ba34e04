package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/buildgraph/internal/daemon"
)

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Listen string `help:"Override the metrics listen address"`
}

func (d *DaemonCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if d.Listen != "" {
		cfg.Monitoring.Metrics.Enabled = true
		cfg.Monitoring.Metrics.Listen = d.Listen
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeSvc, err := openServices(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return err
	}
	defer closeSvc()

	dm, err := daemon.New(svc)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := dm.Run(ctx); err != nil {
		return err
	}
	slog.Info("Daemon stopped successfully", slog.Int64("skipped_runs", dm.SkippedRuns()))
	return nil
}
