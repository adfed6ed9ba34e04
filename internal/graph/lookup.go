package graph

import (
	"fmt"

	"git.home.luguber.info/inful/buildgraph/internal/domain"
	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// Deps is a Lookup over a plain name -> dependencies map. It is handy for
// tests and for validating definition files before they reach the registry.
type Deps map[string][]string

func (d Deps) GetTask(name string) (domain.Task, error) {
	deps, ok := d[name]
	if !ok {
		return domain.Task{}, ferrors.NotFoundError(fmt.Sprintf("task %q not found", name)).Build()
	}
	return domain.Task{Name: name, Dependencies: deps}, nil
}

// FromTasks indexes task definitions by name.
type FromTasks map[string]domain.Task

func (f FromTasks) GetTask(name string) (domain.Task, error) {
	t, ok := f[name]
	if !ok {
		return domain.Task{}, ferrors.NotFoundError(fmt.Sprintf("task %q not found", name)).Build()
	}
	return t, nil
}
