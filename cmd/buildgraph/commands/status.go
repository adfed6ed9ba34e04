package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/daemon"
	"git.home.luguber.info/inful/buildgraph/internal/domain"
	"git.home.luguber.info/inful/buildgraph/internal/orchestrator"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	Build string `arg:"" optional:"" help:"Build name (all builds when omitted)"`
	Task  string `help:"Show a single task instead of a build"`
	JSON  bool   `name:"json" help:"Print status as JSON"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	return withServices(root, func(_ context.Context, svc *daemon.Services) error {
		return s.print(g.Out, svc)
	})
}

func (s *StatusCmd) print(out io.Writer, svc *daemon.Services) error {
	orch := svc.Orchestrator

	if s.Task != "" {
		st, err := orch.GetTaskStatus(s.Task)
		if err != nil {
			return err
		}
		if s.JSON {
			return writeJSON(out, st)
		}
		printTasks(out, []domain.TaskStatus{st})
		return nil
	}

	names := []string{s.Build}
	if s.Build == "" {
		names = names[:0]
		for _, b := range svc.Registry.ListBuilds() {
			names = append(names, b.Name)
		}
	}
	reports := make([]orchestrator.BuildReport, 0, len(names))
	for _, n := range names {
		r, err := orch.GetBuildStatus(n)
		if err != nil {
			return err
		}
		reports = append(reports, r)
	}
	if s.JSON {
		return writeJSON(out, reports)
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printBuild(out, r)
	}
	return nil
}

func printBuild(w io.Writer, r orchestrator.BuildReport) {
	b := r.Build
	fmt.Fprintf(w, "build %s: %s", b.Name, b.Status)
	if b.RunID != "" {
		fmt.Fprintf(w, " (run %s)", b.RunID)
	}
	fmt.Fprintln(w)
	switch {
	case b.FailedTask != "":
		fmt.Fprintf(w, "  failed task %s: %s\n", b.FailedTask, b.Error)
	case b.Error != "":
		fmt.Fprintf(w, "  %s\n", b.Error)
	}
	printTasks(w, r.Tasks)
}

func printTasks(w io.Writer, tasks []domain.TaskStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  TASK\tSTATUS\tDURATION\tERROR")
	for _, t := range tasks {
		d := "-"
		if t.Duration() > 0 {
			d = t.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", t.Name, t.Status, d, t.Error)
	}
	_ = tw.Flush()
}
