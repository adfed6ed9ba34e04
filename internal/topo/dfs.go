package topo

import (
	"slices"

	"git.home.luguber.info/inful/buildgraph/internal/graph"
)

type color uint8

const (
	white color = iota // unvisited
	gray               // on the current path
	black              // done
)

// DFS orders by depth-first traversal, emitting a task only after all of its
// dependencies are done. Meeting a gray task means a cycle.
type DFS struct{}

func (DFS) Name() string { return "dfs" }

func (d DFS) Sort(g *graph.Graph) ([]string, error) {
	w := walker{g: g, colors: make(map[string]color, g.Len())}
	for _, n := range g.Nodes() {
		if w.colors[n] == white {
			if cycle := w.visit(n); cycle != nil {
				return nil, &CycleDetectedError{Strategy: d.Name(), Path: cycle}
			}
		}
	}
	return w.order, nil
}

func (d DFS) Layers(g *graph.Graph) ([][]string, error) {
	order, err := d.Sort(g)
	if err != nil {
		return nil, err
	}
	return LayersFromOrder(g, order), nil
}

type walker struct {
	g      *graph.Graph
	colors map[string]color
	stack  []string
	order  []string
}

// visit returns the cycle path on the first back edge, nil otherwise.
func (w *walker) visit(n string) []string {
	w.colors[n] = gray
	w.stack = append(w.stack, n)
	for _, dep := range w.g.Dependencies(n) {
		switch w.colors[dep] {
		case gray:
			i := slices.Index(w.stack, dep)
			return append(slices.Clone(w.stack[i:]), dep)
		case white:
			if cycle := w.visit(dep); cycle != nil {
				return cycle
			}
		}
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.colors[n] = black
	w.order = append(w.order, n)
	return nil
}

// DetectCycles walks the whole graph and returns every cycle closed by a back
// edge, each starting and ending with the same task. Rotations of one cycle
// are reported once. The result is empty for a DAG.
func DetectCycles(g *graph.Graph) [][]string {
	colors := make(map[string]color, g.Len())
	var stack []string
	var cycles [][]string
	seen := map[string]struct{}{}

	var visit func(n string)
	visit = func(n string) {
		colors[n] = gray
		stack = append(stack, n)
		for _, dep := range g.Dependencies(n) {
			switch colors[dep] {
			case gray:
				i := slices.Index(stack, dep)
				cycle := append(slices.Clone(stack[i:]), dep)
				key := FormatCycle(canonical(cycle))
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					cycles = append(cycles, cycle)
				}
			case white:
				visit(dep)
			}
		}
		stack = stack[:len(stack)-1]
		colors[n] = black
	}

	for _, n := range g.Nodes() {
		if colors[n] == white {
			visit(n)
		}
	}
	return cycles
}

// canonical rotates a closed cycle so it starts at its smallest task.
func canonical(cycle []string) []string {
	open := cycle[:len(cycle)-1]
	minIdx := 0
	for i, n := range open {
		if n < open[minIdx] {
			minIdx = i
		}
	}
	out := append(slices.Clone(open[minIdx:]), open[:minIdx]...)
	return append(out, out[0])
}
