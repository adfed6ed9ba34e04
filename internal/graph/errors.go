package graph

import (
	"fmt"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// UnknownTaskError reports a build member or transitive dependency that is not registered.
type UnknownTaskError struct {
	Name string
	// ReferencedBy is the task that declared the dependency; empty when Name is a build member.
	ReferencedBy string
}

func (e *UnknownTaskError) Error() string {
	if e.ReferencedBy == "" {
		return fmt.Sprintf("unknown task %q", e.Name)
	}
	return fmt.Sprintf("unknown task %q (dependency of %q)", e.Name, e.ReferencedBy)
}

func (e *UnknownTaskError) Category() ferrors.ErrorCategory { return ferrors.CategoryGraph }
