package topo

import (
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/buildgraph/internal/foundation/errors"
)

// CycleDetectedError is returned when the graph is not a DAG. Path follows
// dependency edges and starts and ends with the same task.
type CycleDetectedError struct {
	Strategy string
	Path     []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", FormatCycle(e.Path))
}

func (e *CycleDetectedError) Category() ferrors.ErrorCategory { return ferrors.CategoryGraph }

// FormatCycle renders a cycle path as "A -> B -> A".
func FormatCycle(path []string) string {
	return strings.Join(path, " -> ")
}
