// Package graph resolves build members into a dependency graph over registered tasks.
package graph

import (
	"fmt"
	"slices"
	"sort"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// Lookup resolves a task definition by name. A missing task must be reported
// with an error classified as not_found.
type Lookup interface {
	GetTask(name string) (domain.Task, error)
}

// Graph is an immutable directed graph; edges point from a task to each of its dependencies.
type Graph struct {
	members    []string
	nodes      []string
	tasks      map[string]domain.Task
	deps       map[string][]string
	dependents map[string][]string
	edges      int
}

// Build expands members into the closure of their dependencies.
// It never checks for cycles; that is the sorter's job.
func Build(members []string, lookup Lookup) (*Graph, error) {
	g := &Graph{
		members:    slices.Clone(members),
		tasks:      make(map[string]domain.Task),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}

	type item struct{ name, from string }
	queue := make([]item, 0, len(members))
	for _, m := range members {
		queue = append(queue, item{name: m})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := g.tasks[cur.name]; seen {
			continue
		}
		task, err := lookup.GetTask(cur.name)
		if err != nil {
			if ferrors.HasCategory(err, ferrors.CategoryNotFound) {
				return nil, &UnknownTaskError{Name: cur.name, ReferencedBy: cur.from}
			}
			return nil, fmt.Errorf("resolve task %q: %w", cur.name, err)
		}
		g.tasks[cur.name] = task

		seenDep := make(map[string]struct{}, len(task.Dependencies))
		for _, dep := range task.Dependencies {
			if _, dup := seenDep[dep]; dup {
				continue
			}
			seenDep[dep] = struct{}{}
			g.deps[cur.name] = append(g.deps[cur.name], dep)
			g.dependents[dep] = append(g.dependents[dep], cur.name)
			g.edges++
			queue = append(queue, item{name: dep, from: cur.name})
		}
	}

	g.nodes = make([]string, 0, len(g.tasks))
	for name := range g.tasks {
		g.nodes = append(g.nodes, name)
		sort.Strings(g.deps[name])
	}
	sort.Strings(g.nodes)
	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}
	return g, nil
}

// Members returns the build's declared members in declaration order.
func (g *Graph) Members() []string { return slices.Clone(g.members) }

// Nodes returns every node sorted by name.
func (g *Graph) Nodes() []string { return slices.Clone(g.nodes) }

// Len is the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount is the number of distinct dependency edges.
func (g *Graph) EdgeCount() int { return g.edges }

// Has reports whether name is a node.
func (g *Graph) Has(name string) bool {
	_, ok := g.tasks[name]
	return ok
}

// Task returns the definition the node was resolved from.
func (g *Graph) Task(name string) (domain.Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Dependencies returns the sorted direct dependencies of name.
func (g *Graph) Dependencies(name string) []string { return slices.Clone(g.deps[name]) }

// Dependents returns the sorted tasks that directly depend on name.
func (g *Graph) Dependents(name string) []string { return slices.Clone(g.dependents[name]) }

// DependsOn reports whether from declares a direct dependency on to.
func (g *Graph) DependsOn(from, to string) bool {
	_, found := slices.BinarySearch(g.deps[from], to)
	return found
}
