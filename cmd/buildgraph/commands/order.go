package commands

import (
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/buildgraph/internal/config"
)

// OrderCmd implements the 'order' command.
type OrderCmd struct {
	Build    string `arg:"" help:"Build name"`
	Strategy string `help:"Override the configured sort strategy (kahn|dfs)"`
	JSON     bool   `name:"json" help:"Print the order as JSON"`
}

func (o *OrderCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	planOnly(cfg)
	if o.Strategy != "" {
		cfg.Orchestrator.Strategy = config.SortStrategy(o.Strategy)
	}

	ctx := context.Background()
	svc, closeSvc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSvc()

	order, err := svc.Orchestrator.ComputeExecutionOrder(ctx, o.Build)
	if err != nil {
		return err
	}
	if o.JSON {
		return writeJSON(g.Out, order)
	}

	fmt.Fprintf(g.Out, "build %s (%s, %d tasks)\n", o.Build, order.Strategy, len(order.Order))
	for i, layer := range order.Layers {
		fmt.Fprintf(g.Out, "  layer %d: %s\n", i, strings.Join(layer, ", "))
	}
	return nil
}
