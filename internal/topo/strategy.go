package topo

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/config"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/graph"
)

// Strategy is one interchangeable ordering algorithm.
type Strategy interface {
	Name() string
	// Sort returns a total order in which every task follows its dependencies.
	Sort(g *graph.Graph) ([]string, error)
	// Layers partitions the graph; each layer only depends on earlier layers.
	Layers(g *graph.Graph) ([][]string, error)
}

// ExecutionOrder is a computed ordering together with how it was obtained.
type ExecutionOrder struct {
	Strategy string        `json:"strategy"`
	Order    []string      `json:"order"`
	Layers   [][]string    `json:"layers"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Compute runs strategy s over g, producing both the flat order and the
// layers, and records the elapsed time.
func Compute(s Strategy, g *graph.Graph) (ExecutionOrder, error) {
	start := time.Now()
	layers, err := s.Layers(g)
	if err != nil {
		return ExecutionOrder{}, err
	}
	order, err := s.Sort(g)
	if err != nil {
		return ExecutionOrder{}, err
	}
	return ExecutionOrder{
		Strategy: s.Name(),
		Order:    order,
		Layers:   layers,
		Elapsed:  time.Since(start),
	}, nil
}

// ByName returns the strategy registered under name (kahn|dfs and their aliases).
func ByName(name string) (Strategy, error) {
	switch config.NormalizeSortStrategy(name) {
	case config.SortStrategyKahn:
		return Kahn{}, nil
	case config.SortStrategyDFS:
		return DFS{}, nil
	default:
		return nil, ferrors.ValidationError(fmt.Sprintf("unknown sort strategy %q", name)).Build()
	}
}

// LayersFromOrder groups a valid topological order into dependency layers.
// A task's layer is one past the deepest layer of its dependencies; every
// layer is sorted by name.
func LayersFromOrder(g *graph.Graph, order []string) [][]string {
	depth := make(map[string]int, len(order))
	maxDepth := -1
	for _, n := range order {
		d := 0
		for _, dep := range g.Dependencies(n) {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[n] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	layers := make([][]string, maxDepth+1)
	// order is not necessarily lexical, so walk the sorted node list to keep layers sorted.
	for _, n := range g.Nodes() {
		if d, ok := depth[n]; ok {
			layers[d] = append(layers[d], n)
		}
	}
	return layers
}

// Verify reports whether order is a permutation of g's nodes in which every
// task follows its dependencies.
func Verify(g *graph.Graph, order []string) error {
	if len(order) != g.Len() {
		return fmt.Errorf("order has %d tasks, graph has %d", len(order), g.Len())
	}
	pos := make(map[string]int, len(order))
	for i, n := range order {
		if !g.Has(n) {
			return fmt.Errorf("order contains unknown task %q", n)
		}
		if _, dup := pos[n]; dup {
			return fmt.Errorf("order contains %q twice", n)
		}
		pos[n] = i
	}
	for _, n := range order {
		for _, dep := range g.Dependencies(n) {
			if pos[dep] >= pos[n] {
				return fmt.Errorf("task %q is ordered before its dependency %q", n, dep)
			}
		}
	}
	return nil
}
