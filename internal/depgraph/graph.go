package depgraph

import (
	"fmt"
	"maps"
	"slices"

	"taskflow/internal/model"
)

// ValidateEdge reports whether taskID may depend on dependsOnID given the
// current task set. A nil error means the edge is valid.
func ValidateEdge(taskID, dependsOnID string, all []model.Task) error {
	if taskID == dependsOnID {
		return ErrSelfDependency
	}
	idx := model.Index(all)
	dependent, ok := idx[taskID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if _, ok := idx[dependsOnID]; !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, dependsOnID)
	}
	if dependent.DependsOn(dependsOnID) {
		return fmt.Errorf("%w: %q -> %q", ErrDuplicateDependency, taskID, dependsOnID)
	}

	if path, found := reaches(dependsOnID, taskID, idx, map[string]bool{}); found {
		return &CycleError{Path: append([]string{taskID}, path...)}
	}
	return nil
}

// reaches walks the existing dependency edges from cur looking for target.
//
// Each branch gets its own copy of the visited set, so a node already
// explored by a sibling branch is explored again rather than suppressed.
// It returns the path from cur to target when one exists.
func reaches(cur, target string, idx map[string]model.Task, visited map[string]bool) ([]string, bool) {
	if cur == target {
		return []string{cur}, true
	}
	if visited[cur] {
		return nil, false
	}
	task, ok := idx[cur]
	if !ok {
		return nil, false
	}
	branch := maps.Clone(visited)
	branch[cur] = true
	for _, next := range task.Dependencies {
		if path, found := reaches(next, target, idx, branch); found {
			return append([]string{cur}, path...), true
		}
	}
	return nil, false
}

// AddEdge validates the edge and returns a copy of the dependent task with
// the dependency appended. The input slice is left untouched, so on error
// the graph is unchanged.
func AddEdge(taskID, dependsOnID string, all []model.Task) (model.Task, error) {
	if err := ValidateEdge(taskID, dependsOnID, all); err != nil {
		return model.Task{}, err
	}
	t := model.Index(all)[taskID].Clone()
	t.Dependencies = append(t.Dependencies, dependsOnID)
	return t, nil
}

// RemoveEdge returns a copy of the dependent task without the dependency.
func RemoveEdge(taskID, dependsOnID string, all []model.Task) (model.Task, error) {
	src, ok := model.Index(all)[taskID]
	if !ok {
		return model.Task{}, fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if !src.DependsOn(dependsOnID) {
		return model.Task{}, fmt.Errorf("%w: %q -> %q", ErrDependencyNotFound, taskID, dependsOnID)
	}
	t := src.Clone()
	t.Dependencies = slices.DeleteFunc(t.Dependencies, func(id string) bool { return id == dependsOnID })
	return t, nil
}

// Dependents returns the tasks that directly depend on taskID, in input order.
func Dependents(taskID string, all []model.Task) []model.Task {
	var out []model.Task
	for _, t := range all {
		if t.DependsOn(taskID) {
			out = append(out, t)
		}
	}
	return out
}
