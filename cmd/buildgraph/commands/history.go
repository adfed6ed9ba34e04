package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/daemon"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Build string `arg:"" optional:"" help:"Only show runs of this build"`
	Limit int    `short:"n" help:"Maximum number of runs to show" default:"20"`
	JSON  bool   `name:"json" help:"Print runs as JSON"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	return withServices(root, func(_ context.Context, svc *daemon.Services) error {
		runs := svc.History.History(h.Build)
		if h.Limit > 0 && len(runs) > h.Limit {
			runs = runs[:h.Limit]
		}
		if h.JSON {
			return writeJSON(g.Out, runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(g.Out, "no runs recorded")
			return nil
		}

		tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tBUILD\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tFAILED TASK")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.RunID, r.Build, r.Status, r.Trigger,
				r.StartedAt.Local().Format(time.DateTime),
				r.Duration.Round(time.Millisecond), r.FailedTask)
		}
		return tw.Flush()
	})
}
