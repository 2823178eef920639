package depgraph

import (
	"errors"
	"slices"
	"testing"

	"taskflow/internal/model"
)

func task(id string, status model.Status, deps ...string) model.Task {
	return model.Task{ID: id, Title: id, Status: status, Dependencies: deps}
}

func TestValidateEdgeRejectsSelfAndUnknown(t *testing.T) {
	t.Parallel()
	all := []model.Task{task("a", model.StatusTodo), task("b", model.StatusTodo)}

	if err := ValidateEdge("a", "a", all); !errors.Is(err, ErrSelfDependency) {
		t.Fatalf("self edge error = %v, want ErrSelfDependency", err)
	}
	if err := ValidateEdge("a", "zzz", all); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("unknown target error = %v, want ErrTaskNotFound", err)
	}
	if err := ValidateEdge("zzz", "a", all); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("unknown source error = %v, want ErrTaskNotFound", err)
	}
	if err := ValidateEdge("a", "b", all); err != nil {
		t.Fatalf("valid edge error = %v", err)
	}
}

func TestValidateEdgeRejectsDuplicate(t *testing.T) {
	t.Parallel()
	all := []model.Task{task("a", model.StatusTodo, "b"), task("b", model.StatusTodo)}
	if err := ValidateEdge("a", "b", all); !errors.Is(err, ErrDuplicateDependency) {
		t.Fatalf("error = %v, want ErrDuplicateDependency", err)
	}
}

func TestValidateEdgeDetectsTransitiveCycle(t *testing.T) {
	t.Parallel()
	// A depends on B, B depends on C.
	all := []model.Task{
		task("A", model.StatusTodo, "B"),
		task("B", model.StatusTodo, "C"),
		task("C", model.StatusTodo),
	}

	err := ValidateEdge("C", "A", all)
	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("error = %v, want *CycleError", err)
	}
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("error should wrap ErrCycle: %v", err)
	}
	if want := []string{"C", "A", "B", "C"}; !slices.Equal(cyc.Path, want) {
		t.Fatalf("Path = %v, want %v", cyc.Path, want)
	}

	// Unrelated edges elsewhere must not hide the cycle.
	all = append(all,
		task("D", model.StatusTodo, "E"),
		task("E", model.StatusTodo),
		task("F", model.StatusTodo, "D", "E"),
	)
	all[0].Dependencies = append(all[0].Dependencies, "E")
	if err := ValidateEdge("C", "A", all); !errors.Is(err, ErrCycle) {
		t.Fatalf("after unrelated edges: error = %v, want ErrCycle", err)
	}
}

func TestValidateEdgeDiamondIsNotACycle(t *testing.T) {
	t.Parallel()
	// top -> left -> bottom, top -> right -> bottom.
	all := []model.Task{
		task("top", model.StatusTodo, "left", "right"),
		task("left", model.StatusTodo, "bottom"),
		task("right", model.StatusTodo, "bottom"),
		task("bottom", model.StatusTodo),
		task("extra", model.StatusTodo),
	}
	if err := ValidateEdge("extra", "top", all); err != nil {
		t.Fatalf("diamond edge rejected: %v", err)
	}
	// Closing the diamond through the second branch is still a cycle.
	if err := ValidateEdge("bottom", "top", all); !errors.Is(err, ErrCycle) {
		t.Fatalf("error = %v, want ErrCycle", err)
	}
}

func TestSiblingBranchDoesNotSuppressCycle(t *testing.T) {
	t.Parallel()
	// x depends on shared and on y; y depends on shared; shared depends on target.
	// The first branch through shared is explored before y's branch reaches
	// shared again; both must be able to find target.
	all := []model.Task{
		task("x", model.StatusTodo, "shared", "y"),
		task("y", model.StatusTodo, "shared"),
		task("shared", model.StatusTodo, "target"),
		task("target", model.StatusTodo),
	}
	err := ValidateEdge("target", "y", all)
	var cyc *CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("error = %v, want *CycleError", err)
	}
	if want := []string{"target", "y", "shared", "target"}; !slices.Equal(cyc.Path, want) {
		t.Fatalf("Path = %v, want %v", cyc.Path, want)
	}
}

func TestAddEdgeLeavesInputUnchanged(t *testing.T) {
	t.Parallel()
	all := []model.Task{task("a", model.StatusTodo), task("b", model.StatusTodo, "a")}

	if _, err := AddEdge("a", "b", all); !errors.Is(err, ErrCycle) {
		t.Fatalf("error = %v, want ErrCycle", err)
	}
	if len(all[0].Dependencies) != 0 {
		t.Fatalf("graph changed after rejected edge: %v", all[0].Dependencies)
	}

	all = append(all, task("c", model.StatusTodo))
	got, err := AddEdge("a", "c", all)
	if err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if !slices.Equal(got.Dependencies, []string{"c"}) {
		t.Fatalf("Dependencies = %v, want [c]", got.Dependencies)
	}
	if len(all[0].Dependencies) != 0 {
		t.Fatalf("input task mutated: %v", all[0].Dependencies)
	}
}

func TestRemoveEdgeAndDependents(t *testing.T) {
	t.Parallel()
	all := []model.Task{
		task("a", model.StatusTodo, "c"),
		task("b", model.StatusTodo, "c", "a"),
		task("c", model.StatusTodo),
	}

	deps := Dependents("c", all)
	if len(deps) != 2 || deps[0].ID != "a" || deps[1].ID != "b" {
		t.Fatalf("Dependents(c) = %v", deps)
	}

	got, err := RemoveEdge("b", "c", all)
	if err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	if !slices.Equal(got.Dependencies, []string{"a"}) {
		t.Fatalf("Dependencies = %v, want [a]", got.Dependencies)
	}
	if _, err := RemoveEdge("c", "a", all); !errors.Is(err, ErrDependencyNotFound) {
		t.Fatalf("error = %v, want ErrDependencyNotFound", err)
	}
}
