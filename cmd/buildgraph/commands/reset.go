package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/buildgraph/internal/daemon"
)

// ResetCmd groups the 'reset build' and 'reset task' commands.
type ResetCmd struct {
	Build ResetBuildCmd `cmd:"" help:"Reset a build"`
	Task  ResetTaskCmd  `cmd:"" help:"Reset a task"`
}

type ResetBuildCmd struct {
	Name string `arg:"" help:"Build name"`
}

type ResetTaskCmd struct {
	Name string `arg:"" help:"Task name"`
}

func (r *ResetBuildCmd) Run(g *Global, root *CLI) error {
	return withServices(root, func(ctx context.Context, svc *daemon.Services) error {
		st, err := svc.Orchestrator.ResetBuild(ctx, r.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(g.Out, "build %s: %s\n", st.Name, st.Status)
		return nil
	})
}

func (r *ResetTaskCmd) Run(g *Global, root *CLI) error {
	return withServices(root, func(ctx context.Context, svc *daemon.Services) error {
		st, err := svc.Orchestrator.ResetTask(ctx, r.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(g.Out, "task %s: %s\n", st.Name, st.Status)
		return nil
	})
}
