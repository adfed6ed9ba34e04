package topo

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/graph"
)

var strategies = []Strategy{Kahn{}, DFS{}}

func mustGraph(t *testing.T, deps graph.Deps, members ...string) *graph.Graph {
	t.Helper()
	if len(members) == 0 {
		for name := range deps {
			members = append(members, name)
		}
	}
	g, err := graph.Build(members, deps)
	require.NoError(t, err)
	return g
}

// requireCycle checks that path is closed and follows declared dependencies.
func requireCycle(t *testing.T, g *graph.Graph, path []string) {
	t.Helper()
	require.GreaterOrEqual(t, len(path), 2)
	require.Equal(t, path[0], path[len(path)-1], "cycle must be closed: %v", path)
	for i := 0; i+1 < len(path); i++ {
		require.True(t, g.DependsOn(path[i], path[i+1]), "%s does not depend on %s", path[i], path[i+1])
	}
}

func TestConformanceAcyclic(t *testing.T) {
	cases := map[string]graph.Deps{
		"single":   {"A": nil},
		"chain":    {"A": nil, "B": {"A"}, "C": {"B"}},
		"diamond":  {"A": nil, "B": {"A"}, "C": {"A"}, "D": {"B", "C"}},
		"disjoint": {"a": nil, "b": nil, "c": {"a"}, "z": nil},
		"skip":     {"A": nil, "B": {"A"}, "C": {"A", "B"}},
	}
	for name, deps := range cases {
		g := mustGraph(t, deps)
		var layersSeen [][][]string
		for _, s := range strategies {
			t.Run(name+"/"+s.Name(), func(t *testing.T) {
				order, err := s.Sort(g)
				require.NoError(t, err)
				require.NoError(t, Verify(g, order))

				layers, err := s.Layers(g)
				require.NoError(t, err)
				requireValidLayers(t, g, layers)
				layersSeen = append(layersSeen, layers)
			})
		}
		require.Len(t, layersSeen, len(strategies))
		require.Equal(t, layersSeen[0], layersSeen[1], "%s: strategies must agree on layers", name)
	}
}

func requireValidLayers(t *testing.T, g *graph.Graph, layers [][]string) {
	t.Helper()
	layerOf := map[string]int{}
	total := 0
	for i, layer := range layers {
		require.NotEmpty(t, layer)
		require.IsIncreasing(t, layer)
		for _, n := range layer {
			layerOf[n] = i
		}
		total += len(layer)
	}
	require.Equal(t, g.Len(), total)
	for _, n := range g.Nodes() {
		for _, dep := range g.Dependencies(n) {
			require.Less(t, layerOf[dep], layerOf[n], "%s must be in a later layer than %s", n, dep)
		}
	}
}

func TestConformanceCyclic(t *testing.T) {
	cases := map[string]graph.Deps{
		"pair":       {"X": {"Y"}, "Y": {"X"}},
		"triangle":   {"A": {"C"}, "B": {"A"}, "C": {"B"}},
		"downstream": {"root": nil, "p": {"root", "q"}, "q": {"p"}, "leaf": {"q"}},
		"two cycles": {"a": {"b"}, "b": {"a"}, "c": {"d"}, "d": {"c"}, "e": {"a", "c"}},
	}
	for name, deps := range cases {
		g := mustGraph(t, deps)
		for _, s := range strategies {
			t.Run(name+"/"+s.Name(), func(t *testing.T) {
				_, err := s.Sort(g)
				var cycle *CycleDetectedError
				require.ErrorAs(t, err, &cycle)
				require.Equal(t, s.Name(), cycle.Strategy)
				requireCycle(t, g, cycle.Path)
				require.Equal(t, ferrors.CategoryGraph, ferrors.CategoryOf(err))

				_, err = s.Layers(g)
				require.ErrorAs(t, err, &cycle)
				requireCycle(t, g, cycle.Path)
			})
		}
	}
}

func TestDiamondExample(t *testing.T) {
	g := mustGraph(t, graph.Deps{"A": nil, "B": {"A"}, "C": {"A"}, "D": {"B", "C"}}, "D")
	for _, s := range strategies {
		layers, err := s.Layers(g)
		require.NoError(t, err)
		require.Equal(t, [][]string{{"A"}, {"B", "C"}, {"D"}}, layers, s.Name())
	}

	order, err := Kahn{}.Sort(g)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C", "D"}, order)
}

func TestMutualCycleExample(t *testing.T) {
	g := mustGraph(t, graph.Deps{"X": {"Y"}, "Y": {"X"}}, "X")
	_, err := DFS{}.Sort(g)
	var cycle *CycleDetectedError
	require.ErrorAs(t, err, &cycle)
	require.Contains(t, [][]string{{"X", "Y", "X"}, {"Y", "X", "Y"}}, cycle.Path)
	require.EqualError(t, err, "dependency cycle detected: X -> Y -> X")

	_, err = Kahn{}.Sort(g)
	require.ErrorAs(t, err, &cycle)
}

func TestDeterministic(t *testing.T) {
	deps := graph.Deps{"m": nil, "k": nil, "b": {"m", "k"}, "a": {"k"}, "z": {"a", "b"}}
	g := mustGraph(t, deps)
	for _, s := range strategies {
		first, err := Compute(s, g)
		require.NoError(t, err)
		for range 10 {
			again, err := Compute(s, mustGraph(t, deps))
			require.NoError(t, err)
			require.Equal(t, first.Order, again.Order)
			require.Equal(t, first.Layers, again.Layers)
		}
		require.Equal(t, s.Name(), first.Strategy)
	}
}

// TestRandomGraphsAgree builds random graphs, some with back edges, and checks
// that both strategies reach the same verdict and valid results.
func TestRandomGraphsAgree(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))
	for iter := range 200 {
		n := 2 + rng.IntN(12)
		deps := graph.Deps{}
		name := func(i int) string { return fmt.Sprintf("t%02d", i) }
		for i := range n {
			var d []string
			for j := range i {
				if rng.IntN(4) == 0 {
					d = append(d, name(j))
				}
			}
			deps[name(i)] = d
		}
		if iter%3 == 0 {
			// add a back edge from a low task to a higher one
			lo := rng.IntN(n - 1)
			hi := lo + 1 + rng.IntN(n-lo-1)
			deps[name(lo)] = append(deps[name(lo)], name(hi))
		}
		g := mustGraph(t, deps)

		kOrder, kErr := Kahn{}.Sort(g)
		dOrder, dErr := DFS{}.Sort(g)
		require.Equal(t, kErr == nil, dErr == nil, "iteration %d: verdicts differ", iter)
		require.Equal(t, kErr == nil, len(DetectCycles(g)) == 0, "iteration %d: DetectCycles disagrees", iter)
		if kErr != nil {
			var kc, dc *CycleDetectedError
			require.ErrorAs(t, kErr, &kc)
			require.ErrorAs(t, dErr, &dc)
			requireCycle(t, g, kc.Path)
			requireCycle(t, g, dc.Path)
			continue
		}
		require.NoError(t, Verify(g, kOrder))
		require.NoError(t, Verify(g, dOrder))
		kl, _ := Kahn{}.Layers(g)
		dl, _ := DFS{}.Layers(g)
		require.Equal(t, kl, dl)
	}
}
