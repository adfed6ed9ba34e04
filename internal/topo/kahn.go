package topo

import (
	"slices"

	"git.home.luguber.info/inful/buildgraph/internal/graph"
)

// Kahn orders by repeatedly removing tasks with no unresolved dependencies.
// Among simultaneously eligible tasks the lexically smallest goes first.
type Kahn struct{}

func (Kahn) Name() string { return "kahn" }

func (k Kahn) Sort(g *graph.Graph) ([]string, error) {
	pending := unresolved(g)

	var ready []string
	for _, n := range g.Nodes() {
		if pending[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, g.Len())
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		for _, dependent := range g.Dependents(current) {
			pending[dependent]--
			if pending[dependent] == 0 {
				// Keep ready sorted for deterministic ordering.
				i, _ := slices.BinarySearch(ready, dependent)
				ready = slices.Insert(ready, i, dependent)
			}
		}
	}

	if len(order) != g.Len() {
		return nil, &CycleDetectedError{Strategy: k.Name(), Path: residualCycle(g, pending)}
	}
	return order, nil
}

// Layers emits every task that became eligible in the same elimination round as one layer.
func (k Kahn) Layers(g *graph.Graph) ([][]string, error) {
	pending := unresolved(g)

	var current []string
	for _, n := range g.Nodes() {
		if pending[n] == 0 {
			current = append(current, n)
		}
	}

	var layers [][]string
	placed := 0
	for len(current) > 0 {
		layers = append(layers, current)
		placed += len(current)

		var next []string
		for _, n := range current {
			for _, dependent := range g.Dependents(n) {
				pending[dependent]--
				if pending[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		slices.Sort(next)
		current = next
	}

	if placed != g.Len() {
		return nil, &CycleDetectedError{Strategy: k.Name(), Path: residualCycle(g, pending)}
	}
	return layers, nil
}

// unresolved counts, per task, the dependencies not yet emitted.
func unresolved(g *graph.Graph) map[string]int {
	pending := make(map[string]int, g.Len())
	for _, n := range g.Nodes() {
		pending[n] = len(g.Dependencies(n))
	}
	return pending
}

// residualCycle extracts one concrete cycle from the tasks Kahn could not
// eliminate. Every such task still has an unresolved dependency that is itself
// unresolved, so following the smallest one must eventually revisit a task.
func residualCycle(g *graph.Graph, pending map[string]int) []string {
	var start string
	for _, n := range g.Nodes() {
		if pending[n] > 0 {
			start = n
			break
		}
	}
	if start == "" {
		return nil
	}

	index := map[string]int{}
	var walk []string
	for cur := start; ; {
		if i, seen := index[cur]; seen {
			return append(slices.Clone(walk[i:]), cur)
		}
		index[cur] = len(walk)
		walk = append(walk, cur)

		next := ""
		for _, dep := range g.Dependencies(cur) {
			if pending[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			return walk
		}
		cur = next
	}
}
