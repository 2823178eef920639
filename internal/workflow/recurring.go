package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskflow/internal/automation"
	"taskflow/internal/eventbus"
	"taskflow/internal/model"
	"taskflow/internal/recurrence"
	"taskflow/internal/storage"
	"taskflow/pkg/logx"
)

// Generated is the payload of recurrence.generated.
type Generated struct {
	Board     string   `json:"board"`
	Tasks     []string `json:"tasks"`
	Templates []string `json:"templates"`
}

// Overdue is the payload of task.overdue.
type Overdue struct {
	Board  string    `json:"board"`
	TaskID string    `json:"task_id"`
	Due    time.Time `json:"due"`
}

// CatchUp generates every occurrence due at now for the templates of board.
// Generated tasks and template bookkeeping are committed together, then
// task-created fires for each generated task. Running it again for the same
// now generates nothing.
func (s *Service) CatchUp(ctx context.Context, board string, now time.Time) (recurrence.Result, error) {
	unlock := s.lockBoard(board)
	defer unlock()

	templates, err := s.repo.ListTemplates(ctx, board)
	if err != nil {
		return recurrence.Result{}, fmt.Errorf("load templates: %w", err)
	}
	res := s.gen.GenerateDue(templates, board, now)
	for _, id := range res.Skipped {
		s.log.Warn("template has no start date; skipped", logx.String("template_id", id), logx.String("board", board))
	}
	if len(res.Tasks) == 0 {
		return res, nil
	}

	if err := s.repo.Commit(ctx, storage.Batch{Tasks: res.Tasks, Templates: res.Templates}); err != nil {
		return recurrence.Result{}, fmt.Errorf("persist occurrences: %w", err)
	}

	taskIDs := make([]string, 0, len(res.Tasks))
	for _, t := range res.Tasks {
		taskIDs = append(taskIDs, t.ID)
		s.audit(ctx, storage.AuditEntry{
			At: now, BoardID: board, Actor: "recurrence", Action: "task.generated",
			TaskID: t.ID, Detail: t.TemplateID,
		})
	}
	tplIDs := make([]string, 0, len(res.Templates))
	for _, t := range res.Templates {
		tplIDs = append(tplIDs, t.ID)
	}
	eventbus.Emit(s.bus, eventbus.TopicRecurrenceGenerated, Generated{Board: board, Tasks: taskIDs, Templates: tplIDs})
	s.log.Info("recurring tasks generated",
		logx.String("board", board),
		logx.Int("tasks", len(res.Tasks)),
		logx.Int("templates", len(res.Templates)),
	)

	var errs []error
	for i, t := range res.Tasks {
		out, err := s.handleLocked(ctx, automation.TriggerTaskCreated, board, automation.Event{Task: t, Now: now})
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
			continue
		}
		res.Tasks[i] = out.Task
	}
	return res, errors.Join(errs...)
}

// SweepOverdue fires task-overdue for every unfinished task of board whose
// due date is before now. Each (task, due date) pair fires once; moving the
// due date arms it again.
func (s *Service) SweepOverdue(ctx context.Context, board string, now time.Time) (int, error) {
	unlock := s.lockBoard(board)
	defer unlock()

	tasks, err := s.repo.ListTasks(ctx, board)
	if err != nil {
		return 0, fmt.Errorf("load tasks: %w", err)
	}

	fired := 0
	var errs []error
	for _, t := range tasks {
		if !isOverdue(t, now) {
			continue
		}
		key := overdueKey(t)
		until, seen, err := s.repo.GetDedup(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("dedup %s: %w", t.ID, err))
			continue
		}
		if seen && until.After(now) {
			continue
		}

		if _, err := s.handleLocked(ctx, automation.TriggerTaskOverdue, board, automation.Event{Task: t, Now: now}); err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", t.ID, err))
			continue
		}
		if err := s.repo.PutDedup(ctx, key, now.Add(s.overdueMemory)); err != nil {
			errs = append(errs, fmt.Errorf("dedup %s: %w", t.ID, err))
		}
		fired++
		s.audit(ctx, storage.AuditEntry{At: now, BoardID: board, Actor: "sweep", Action: "task.overdue", TaskID: t.ID})
		eventbus.Emit(s.bus, eventbus.TopicTaskOverdue, Overdue{Board: board, TaskID: t.ID, Due: *t.DueDate})
	}
	if fired > 0 {
		s.log.Info("overdue tasks fired", logx.String("board", board), logx.Int("count", fired))
	}
	return fired, errors.Join(errs...)
}

func isOverdue(t model.Task, now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && !t.Status.IsTerminal()
}

func overdueKey(t model.Task) string {
	return "overdue:" + t.ID + ":" + t.DueDate.UTC().Format(time.RFC3339)
}
