package depgraph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSelfDependency is returned when a task would depend on itself.
	ErrSelfDependency = errors.New("task cannot depend on itself")

	// ErrTaskNotFound is returned when either endpoint of an edge is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateDependency is returned when the edge already exists.
	ErrDuplicateDependency = errors.New("dependency already exists")

	// ErrCycle is returned (wrapped in *CycleError) when an edge would close a cycle.
	ErrCycle = errors.New("dependency would create a cycle")

	// ErrDependencyNotFound is returned by RemoveEdge for an edge that does not exist.
	ErrDependencyNotFound = errors.New("dependency not found")
)

// CycleError describes the cycle an edge would create.
//
// Path starts at the dependent task and ends with it again, e.g.
// [C A B C] for "C depends on A" when A -> B -> C already exists.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }
