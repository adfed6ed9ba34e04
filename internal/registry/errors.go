package registry

import (
	"errors"
	"fmt"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// Kind distinguishes the two definition namespaces.
type Kind string

const (
	KindTask  Kind = "task"
	KindBuild Kind = "build"
)

// NotFoundError is returned when a task or build name is not registered.
type NotFoundError struct {
	Kind Kind
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Category() ferrors.ErrorCategory { return ferrors.CategoryNotFound }

// IsNotFound reports whether err is a NotFoundError of the given kind.
func IsNotFound(err error, kind Kind) bool {
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return false
	}
	return nf.Kind == kind
}
