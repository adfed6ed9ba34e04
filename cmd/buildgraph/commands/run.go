package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	"git.home.luguber.info/inful/buildgraph/internal/domain"
	"git.home.luguber.info/inful/buildgraph/internal/logfields"
	"git.home.luguber.info/inful/buildgraph/internal/orchestrator"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	Build    string        `arg:"" help:"Build name"`
	Strategy string        `help:"Override the configured sort strategy (kahn|dfs)"`
	Timeout  time.Duration `help:"Cancel the run when it takes longer than this (0 waits forever)"`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if r.Strategy != "" {
		cfg.Orchestrator.Strategy = config.SortStrategy(r.Strategy)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	svc, closeSvc, err := openServices(context.WithoutCancel(ctx), cfg)
	if err != nil {
		return err
	}
	defer closeSvc()

	run, err := svc.Orchestrator.Execute(ctx, r.Build, orchestrator.WithTrigger("cli"))
	if err != nil {
		return err
	}
	fmt.Fprintf(g.Out, "run %s: %d layers\n", run.ID, len(run.Layers))

	select {
	case <-run.Done():
	case <-ctx.Done():
		slog.Warn("Stopping build before its next layer", logfields.Build(r.Build), logfields.Error(ctx.Err()))
		run.Cancel()
		<-run.Done()
	}
	res, _ := run.Result()

	report, err := svc.Orchestrator.GetBuildStatus(r.Build)
	if err == nil {
		printTasks(g.Out, report.Tasks)
	}
	fmt.Fprintf(g.Out, "build %s %s in %s\n", r.Build, res.Status, res.Duration.Round(time.Millisecond))
	if res.Status != domain.StatusSuccess {
		return res.Err
	}
	return nil
}
