package workflow

import (
	"context"
	"fmt"
	"strings"

	"taskflow/internal/depgraph"
	"taskflow/internal/eventbus"
	"taskflow/internal/model"
	"taskflow/internal/storage"
	"taskflow/pkg/logx"
)

// DependencyChange is the payload of dependency.added.
type DependencyChange struct {
	TaskID    string `json:"task_id"`
	DependsOn string `json:"depends_on"`
	Removed   bool   `json:"removed,omitempty"`
}

func checkTransition(t model.Task, status model.Status, all []model.Task) *BlockedError {
	tr := depgraph.CanTransition(t, status, all)
	if tr.CanMove {
		return nil
	}
	return &BlockedError{TaskID: t.ID, Status: status, Blocking: tr.Blocking}
}

// newTaskViolations checks the dependencies a task arrives with. Each edge
// goes through depgraph.ValidateEdge against the stored tasks plus the new
// task, so self edges, unknown tasks, repeats and cycles are all reported.
func newTaskViolations(t model.Task, all []model.Task) []string {
	var out []string
	view := make([]model.Task, 0, len(all)+1)
	for _, cur := range all {
		if cur.ID == t.ID {
			out = append(out, fmt.Sprintf("task %q already exists", t.ID))
			continue
		}
		view = append(view, cur)
	}
	self := t.Clone()
	self.Dependencies = nil
	view = append(view, self)
	last := len(view) - 1

	for _, dep := range t.Dependencies {
		dep = strings.TrimSpace(dep)
		if err := depgraph.ValidateEdge(t.ID, dep, view); err != nil {
			out = append(out, fmt.Sprintf("dependency %q: %v", dep, err))
			continue
		}
		view[last].Dependencies = append(view[last].Dependencies, dep)
	}
	if tr := checkTransition(view[last], t.Status, view); tr != nil {
		out = append(out, tr.Error())
	}
	return out
}

// logUnblocked reports the dependents of done that no longer have an
// unfinished dependency. before is the task list read prior to the move.
func (s *Service) logUnblocked(done model.Task, before []model.Task) {
	all := make([]model.Task, 0, len(before))
	for _, t := range before {
		if t.ID == done.ID {
			t = done
		}
		all = append(all, t)
	}
	for _, dep := range depgraph.Dependents(done.ID, all) {
		if dep.Status.IsTerminal() {
			continue
		}
		if depgraph.CanTransition(dep, model.StatusDone, all).CanMove {
			s.log.Info("task unblocked", logx.String("task_id", dep.ID), logx.String("by", done.ID))
		}
	}
}

// AddDependency makes id depend on dependsOn. Self edges, duplicates,
// unknown tasks and cycles are refused and nothing is written.
func (s *Service) AddDependency(ctx context.Context, id, dependsOn string) (model.Task, error) {
	return s.changeDependency(ctx, id, dependsOn, false)
}

// RemoveDependency drops the edge id -> dependsOn.
func (s *Service) RemoveDependency(ctx context.Context, id, dependsOn string) (model.Task, error) {
	return s.changeDependency(ctx, id, dependsOn, true)
}

func (s *Service) changeDependency(ctx context.Context, id, dependsOn string, remove bool) (model.Task, error) {
	id, dependsOn = strings.TrimSpace(id), strings.TrimSpace(dependsOn)
	cur, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	defer unlock()

	all, err := s.repo.ListTasks(ctx, "")
	if err != nil {
		return model.Task{}, fmt.Errorf("load tasks: %w", err)
	}
	// The locked read is authoritative.
	for i := range all {
		if all[i].ID == cur.ID {
			all[i] = cur
		}
	}

	var t model.Task
	if remove {
		t, err = depgraph.RemoveEdge(id, dependsOn, all)
	} else {
		t, err = depgraph.AddEdge(id, dependsOn, all)
	}
	if err != nil {
		return model.Task{}, err
	}

	now := s.now()
	t.UpdatedAt = now
	if err := s.repo.PutTask(ctx, t); err != nil {
		return model.Task{}, fmt.Errorf("save task: %w", err)
	}
	action := "dependency.added"
	if remove {
		action = "dependency.removed"
	}
	s.audit(ctx, storage.AuditEntry{At: now, BoardID: t.BoardID, Actor: "user", Action: action, TaskID: t.ID, Detail: dependsOn})
	eventbus.Emit(s.bus, eventbus.TopicDependencyAdded, DependencyChange{TaskID: t.ID, DependsOn: dependsOn, Removed: remove})
	return t, nil
}
