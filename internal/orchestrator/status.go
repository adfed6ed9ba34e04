package orchestrator

import (
	"context"
	"slices"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	"git.home.luguber.info/inful/buildgraph/internal/graph"
	"git.home.luguber.info/inful/buildgraph/internal/topo"
)

// BuildReport is a build's status with the status of every task it runs.
type BuildReport struct {
	Build domain.BuildStatus  `json:"build"`
	Tasks []domain.TaskStatus `json:"tasks"`
	// Run is set while the build is in flight.
	Run *RunInfo `json:"run,omitempty"`
}

// GetBuildStatus returns the build snapshot. Tasks covers the resolved
// dependency closure, or only the declared members when it cannot be resolved.
func (o *Orchestrator) GetBuildStatus(buildName string) (BuildReport, error) {
	b, err := o.defs.GetBuild(buildName)
	if err != nil {
		return BuildReport{}, err
	}
	names := b.Tasks
	if g, err := graph.Build(b.Tasks, o.defs); err == nil {
		names = g.Nodes()
	}

	report := BuildReport{Build: o.tracker.Build(buildName)}
	for _, n := range names {
		report.Tasks = append(report.Tasks, o.tracker.Task(n))
	}

	o.mu.Lock()
	if r, ok := o.runs[buildName]; ok {
		info := r.info()
		report.Run = &info
	}
	o.mu.Unlock()
	return report, nil
}

// GetTaskStatus returns the task snapshot.
func (o *Orchestrator) GetTaskStatus(taskName string) (domain.TaskStatus, error) {
	if _, err := o.defs.GetTask(taskName); err != nil {
		return domain.TaskStatus{}, err
	}
	return o.tracker.Task(taskName), nil
}

// ResetBuild returns a finished build to pending.
func (o *Orchestrator) ResetBuild(ctx context.Context, buildName string) (domain.BuildStatus, error) {
	if _, err := o.defs.GetBuild(buildName); err != nil {
		return domain.BuildStatus{}, err
	}
	return o.tracker.ResetBuild(ctx, buildName)
}

// ResetTask returns a finished task to pending.
func (o *Orchestrator) ResetTask(ctx context.Context, taskName string) (domain.TaskStatus, error) {
	if _, err := o.defs.GetTask(taskName); err != nil {
		return domain.TaskStatus{}, err
	}
	return o.tracker.ResetTask(ctx, taskName)
}

// MissingReference is a task name that could not be resolved.
type MissingReference struct {
	Task         string `json:"task"`
	ReferencedBy string `json:"referenced_by,omitempty"`
}

// ValidationReport lists every problem that keeps a build from executing.
type ValidationReport struct {
	Build   string             `json:"build"`
	Missing []MissingReference `json:"missing,omitempty"`
	Cycles  [][]string         `json:"cycles,omitempty"`
}

// Valid reports whether the build can be ordered.
func (r ValidationReport) Valid() bool {
	return len(r.Missing) == 0 && len(r.Cycles) == 0
}

// CycleStrings formats each cycle as "A -> B -> A".
func (r ValidationReport) CycleStrings() []string {
	out := make([]string, 0, len(r.Cycles))
	for _, c := range r.Cycles {
		out = append(out, topo.FormatCycle(c))
	}
	return out
}

// ValidateBuild collects every missing reference and every cycle reachable
// from the build instead of stopping at the first one.
func (o *Orchestrator) ValidateBuild(buildName string) (ValidationReport, error) {
	b, err := o.defs.GetBuild(buildName)
	if err != nil {
		return ValidationReport{}, err
	}
	report := ValidationReport{Build: buildName}

	known := graph.Deps{}
	var roots []string
	queue := make([]MissingReference, 0, len(b.Tasks))
	for _, m := range b.Tasks {
		queue = append(queue, MissingReference{Task: m})
	}
	seen := map[string]bool{}
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		if seen[ref.Task] {
			continue
		}
		t, err := o.defs.GetTask(ref.Task)
		if err != nil {
			if !slices.Contains(report.Missing, ref) {
				report.Missing = append(report.Missing, ref)
			}
			continue
		}
		seen[ref.Task] = true
		if ref.ReferencedBy == "" {
			roots = append(roots, ref.Task)
		}
		known[t.Name] = t.Dependencies
		for _, d := range t.Dependencies {
			queue = append(queue, MissingReference{Task: d, ReferencedBy: t.Name})
		}
	}

	// Drop dangling edges so the remaining graph can be checked for cycles.
	for name, deps := range known {
		known[name] = slices.DeleteFunc(slices.Clone(deps), func(d string) bool {
			_, ok := known[d]
			return !ok
		})
	}
	if len(roots) > 0 {
		g, err := graph.Build(roots, known)
		if err != nil {
			return report, err
		}
		report.Cycles = topo.DetectCycles(g)
	}
	return report, nil
}
