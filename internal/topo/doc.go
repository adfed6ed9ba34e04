// Package topo orders a dependency graph so that every task follows all of its
// dependencies, or reports the cycle that makes this impossible.
//
// Two strategies are provided:
//   - Kahn: in-degree elimination with a lexical tie-break. Suited to wide,
//     sparse graphs.
//   - DFS: depth-first coloring with post-order output. Reports the exact
//     offending path on the first back edge it meets.
//
// Both strategies agree on whether a graph is acyclic and both produce the same
// layering: a task's layer is one past the deepest of its dependencies, and each
// layer is sorted by name. Only the flat order may differ between them.
package topo
