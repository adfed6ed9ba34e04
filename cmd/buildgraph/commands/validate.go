package commands

import (
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/buildgraph/internal/daemon"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/orchestrator"
)

// ValidateCmd implements the 'validate' command.
type ValidateCmd struct {
	Builds []string `arg:"" optional:"" help:"Builds to check (all builds when omitted)"`
	JSON   bool     `name:"json" help:"Print reports as JSON"`
}

func (v *ValidateCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	planOnly(cfg)

	ctx := context.Background()
	svc, closeSvc, err := openServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSvc()

	reports, err := v.reports(svc)
	if err != nil {
		return err
	}
	if v.JSON {
		if err := writeJSON(g.Out, reports); err != nil {
			return err
		}
	} else {
		for _, r := range reports {
			printValidation(g, r)
		}
	}

	var invalid []string
	for _, r := range reports {
		if !r.Valid() {
			invalid = append(invalid, r.Build)
		}
	}
	if len(invalid) > 0 {
		return ferrors.ValidationError(fmt.Sprintf("invalid builds: %s", strings.Join(invalid, ", "))).
			WithContext("builds", invalid).
			Build()
	}
	return nil
}

func (v *ValidateCmd) reports(svc *daemon.Services) ([]orchestrator.ValidationReport, error) {
	names := v.Builds
	if len(names) == 0 {
		for _, b := range svc.Registry.ListBuilds() {
			names = append(names, b.Name)
		}
	}
	out := make([]orchestrator.ValidationReport, 0, len(names))
	for _, n := range names {
		r, err := svc.Orchestrator.ValidateBuild(n)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func printValidation(g *Global, r orchestrator.ValidationReport) {
	if r.Valid() {
		fmt.Fprintf(g.Out, "build %s: ok\n", r.Build)
		return
	}
	fmt.Fprintf(g.Out, "build %s: invalid\n", r.Build)
	for _, m := range r.Missing {
		if m.ReferencedBy == "" {
			fmt.Fprintf(g.Out, "  unknown task %s\n", m.Task)
			continue
		}
		fmt.Fprintf(g.Out, "  unknown task %s (required by %s)\n", m.Task, m.ReferencedBy)
	}
	for _, c := range r.CycleStrings() {
		fmt.Fprintf(g.Out, "  cycle %s\n", c)
	}
}
