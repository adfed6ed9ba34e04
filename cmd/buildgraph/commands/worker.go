package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/buildgraph/internal/daemon"
)

// WorkerCmd implements the 'worker' command.
type WorkerCmd struct {
	ID          string `help:"Worker identifier (defaults to the host name)"`
	Concurrency int    `help:"Commands run at once (defaults to dispatch.workers)"`
}

func (w *WorkerCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return daemon.RunWorker(ctx, cfg, w.ID, w.Concurrency)
}
