package topo

import (
	"testing"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
	"git.home.luguber.info/inful/buildgraph/internal/graph"
)

func TestByName(t *testing.T) {
	for name, want := range map[string]string{"kahn": "kahn", "BFS": "kahn", "dfs": "dfs", "depth-first": "dfs"} {
		s, err := ByName(name)
		require.NoError(t, err)
		require.Equal(t, want, s.Name())
	}
	_, err := ByName("random")
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestVerifyRejectsBadOrders(t *testing.T) {
	g := mustGraph(t, graph.Deps{"A": nil, "B": {"A"}})
	require.NoError(t, Verify(g, []string{"A", "B"}))
	require.ErrorContains(t, Verify(g, []string{"B", "A"}), `"B" is ordered before its dependency "A"`)
	require.Error(t, Verify(g, []string{"A"}))
	require.Error(t, Verify(g, []string{"A", "A"}))
	require.Error(t, Verify(g, []string{"A", "Q"}))
}

func TestDetectCycles(t *testing.T) {
	g := mustGraph(t, graph.Deps{"a": {"b"}, "b": {"a"}, "c": {"d"}, "d": {"c"}, "e": {"a", "c"}, "f": nil})
	cycles := DetectCycles(g)
	require.Len(t, cycles, 2)
	formatted := []string{FormatCycle(canonical(cycles[0])), FormatCycle(canonical(cycles[1]))}
	require.ElementsMatch(t, []string{"a -> b -> a", "c -> d -> c"}, formatted)

	require.Empty(t, DetectCycles(mustGraph(t, graph.Deps{"A": nil, "B": {"A"}})))
}

func TestCanonical(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c", "a"}, canonical([]string{"b", "c", "a", "b"}))
}

func TestLayersFromOrderSortsWithinLayer(t *testing.T) {
	g := mustGraph(t, graph.Deps{"A": nil, "C": {"A"}, "B": {"A"}})
	require.Equal(t, [][]string{{"A"}, {"B", "C"}}, LayersFromOrder(g, []string{"A", "C", "B"}))
}
