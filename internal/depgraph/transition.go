package depgraph

import "taskflow/internal/model"

// Transition is the result of CanTransition.
type Transition struct {
	CanMove  bool
	Blocking []model.Task
}

// CanTransition reports whether task may move to newStatus.
//
// Only moves into a terminal status are gated. Every dependency that is not
// itself terminal blocks the move. Dependencies that no longer exist in all
// are ignored.
func CanTransition(task model.Task, newStatus model.Status, all []model.Task) Transition {
	if !newStatus.IsTerminal() {
		return Transition{CanMove: true}
	}
	idx := model.Index(all)
	var blocking []model.Task
	for _, id := range task.Dependencies {
		dep, ok := idx[id]
		if !ok {
			continue
		}
		if !dep.Status.IsTerminal() {
			blocking = append(blocking, dep)
		}
	}
	return Transition{CanMove: len(blocking) == 0, Blocking: blocking}
}
