package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskflow/internal/automation"
	"taskflow/internal/eventbus"
	"taskflow/internal/model"
	"taskflow/internal/storage"
	"taskflow/internal/validation"
	"taskflow/pkg/logx"
)

// Applied is the payload of automation.applied.
type Applied struct {
	Board        string             `json:"board"`
	Trigger      automation.Trigger `json:"trigger"`
	TaskID       string             `json:"task_id"`
	Rules        []string           `json:"rules"`
	CreatedTasks []string           `json:"created_tasks,omitempty"`
}

// HandleEvent dispatches trigger to the rules of board and applies the
// result: the changed task and any rule-created tasks are persisted,
// notifications are forwarded and one audit entry per applied rule is kept.
// Tasks created by rules do not fire task-created themselves.
func (s *Service) HandleEvent(ctx context.Context, trigger automation.Trigger, board string, ev automation.Event) (automation.Result, error) {
	unlock := s.lockBoard(board)
	defer unlock()
	return s.handleLocked(ctx, trigger, board, ev)
}

func (s *Service) handleLocked(ctx context.Context, trigger automation.Trigger, board string, ev automation.Event) (automation.Result, error) {
	if ev.Now.IsZero() {
		ev.Now = s.now()
	}
	rules, err := s.repo.ListRules(ctx, board)
	if err != nil {
		return automation.Result{Task: ev.Task}, fmt.Errorf("load rules: %w", err)
	}

	res := s.engine.Load().Dispatch(trigger, ev, board, rules)
	for _, d := range res.Diagnostics {
		s.log.Debug("rule no-op",
			logx.String("rule_id", d.RuleID),
			logx.String("kind", d.Kind),
			logx.String("detail", d.Detail),
		)
	}
	if len(res.Applied) == 0 {
		return res, nil
	}
	if res.Task.Status != ev.Task.Status && res.Task.Status.IsTerminal() {
		if err := s.gateRuleStatus(ctx, &res, ev); err != nil {
			return automation.Result{Task: ev.Task}, err
		}
	}

	var batch storage.Batch
	if !model.Equal(res.Task, ev.Task) {
		res.Task.UpdatedAt = ev.Now
		batch.Tasks = append(batch.Tasks, res.Task)
	}
	created := make([]string, 0, len(res.NewTasks))
	for _, nt := range res.NewTasks {
		t := s.materialize(nt, board, ev)
		batch.Tasks = append(batch.Tasks, t)
		created = append(created, t.ID)
	}
	if !batch.Empty() {
		if err := s.repo.Commit(ctx, batch); err != nil {
			return res, fmt.Errorf("persist rule effects: %w", err)
		}
	}

	for _, id := range res.Applied {
		s.audit(ctx, storage.AuditEntry{
			At:      ev.Now,
			BoardID: board,
			Actor:   "rule",
			Action:  "rule.applied",
			TaskID:  res.Task.ID,
			RuleID:  id,
			Detail:  string(trigger),
		})
	}
	for i, id := range created {
		s.audit(ctx, storage.AuditEntry{
			At:      ev.Now,
			BoardID: board,
			Actor:   "rule",
			Action:  "task.created",
			TaskID:  id,
			RuleID:  res.NewTasks[i].RuleID,
		})
	}

	for _, n := range res.Notifications {
		if s.notify == nil {
			break
		}
		if err := s.notify.Notify(ctx, n); err != nil {
			s.log.Warn("notification not queued",
				logx.String("user", n.UserID),
				logx.String("rule_id", n.RuleID),
				logx.Err(err),
			)
		}
	}

	eventbus.Emit(s.bus, eventbus.TopicAutomationApplied, Applied{
		Board:        board,
		Trigger:      trigger,
		TaskID:       res.Task.ID,
		Rules:        res.Applied,
		CreatedTasks: created,
	})
	s.log.Debug("rules applied",
		logx.String("board", board),
		logx.String("trigger", string(trigger)),
		logx.String("task_id", res.Task.ID),
		logx.Strings("rules", res.Applied),
	)

	// A rule that finished the task counts as a completion.
	if trigger != automation.TriggerTaskCompleted && res.Task.Status.IsTerminal() && !ev.Task.Status.IsTerminal() {
		done, err := s.handleLocked(ctx, automation.TriggerTaskCompleted, board, automation.Event{
			Task:      res.Task,
			OldStatus: ev.Task.Status,
			NewStatus: res.Task.Status,
			Now:       ev.Now,
		})
		if err != nil {
			return res, err
		}
		res.Task = done.Task
	}
	return res, nil
}

// gateRuleStatus keeps a rule from moving a task into a terminal status
// while a dependency is unfinished. The status is put back and the other
// rule effects are kept.
func (s *Service) gateRuleStatus(ctx context.Context, res *automation.Result, ev automation.Event) error {
	all, err := s.repo.ListTasks(ctx, "")
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	tr := checkTransition(res.Task, res.Task.Status, all)
	if tr == nil {
		return nil
	}
	eventbus.Emit(s.bus, eventbus.TopicTaskBlocked, tr)
	s.log.Info("rule status change blocked",
		logx.String("task_id", res.Task.ID),
		logx.String("status", string(tr.Status)),
		logx.Int("blocking", len(tr.Blocking)),
	)
	res.Diagnostics = append(res.Diagnostics, automation.Diagnostic{Kind: "blocked", Detail: tr.Error()})
	res.Task.Status = ev.Task.Status
	return nil
}

func (s *Service) materialize(nt automation.NewTask, board string, ev automation.Event) model.Task {
	b := nt.BoardID
	if b == "" {
		b = board
	}
	status := nt.Status
	if status == "" {
		status = model.StatusTodo
	}
	return model.Task{
		ID:          s.newID(),
		BoardID:     b,
		Title:       nt.Title,
		Description: nt.Description,
		Status:      status,
		Priority:    nt.Priority,
		AssignedTo:  nt.AssignedTo,
		CreatedAt:   ev.Now,
		UpdatedAt:   ev.Now,
	}
}

// CreateTask stores t and fires task-created. The returned task includes the
// changes made by rules. Dependencies given with t are validated like
// AddDependency edges, and every problem is listed in one *validation.Error.
func (s *Service) CreateTask(ctx context.Context, t model.Task) (model.Task, error) {
	var violations []string
	if strings.TrimSpace(t.BoardID) == "" {
		violations = append(violations, "board id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		violations = append(violations, "title is required")
	}
	if len(violations) > 0 {
		return model.Task{}, &validation.Error{Kind: "task", Violations: violations}
	}

	now := s.now()
	t = t.Clone()
	if t.ID == "" {
		t.ID = s.newID()
	}
	if t.Status == "" {
		t.Status = model.StatusTodo
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	for i, dep := range t.Dependencies {
		t.Dependencies[i] = strings.TrimSpace(dep)
	}

	unlock := s.lockBoard(t.BoardID)
	defer unlock()

	all, err := s.repo.ListTasks(ctx, "")
	if err != nil {
		return model.Task{}, fmt.Errorf("load tasks: %w", err)
	}
	if v := newTaskViolations(t, all); len(v) > 0 {
		return model.Task{}, &validation.Error{Kind: "task", Violations: v}
	}

	if err := s.repo.PutTask(ctx, t); err != nil {
		return model.Task{}, fmt.Errorf("save task: %w", err)
	}
	s.audit(ctx, storage.AuditEntry{At: now, BoardID: t.BoardID, Actor: "user", Action: "task.created", TaskID: t.ID})

	res, err := s.handleLocked(ctx, automation.TriggerTaskCreated, t.BoardID, automation.Event{Task: t, Now: now})
	if err != nil {
		return t, err
	}
	return res.Task, nil
}

// loadForUpdate reads id, then locks its board and reads it again.
func (s *Service) loadForUpdate(ctx context.Context, id string) (model.Task, func(), error) {
	if strings.TrimSpace(id) == "" {
		return model.Task{}, nil, ErrEmptyID
	}
	t, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, nil, err
	}
	unlock := s.lockBoard(t.BoardID)
	cur, err := s.repo.GetTask(ctx, id)
	if err != nil {
		unlock()
		return model.Task{}, nil, err
	}
	if cur.BoardID != t.BoardID {
		// Moved between boards while we waited; retry on the new board.
		unlock()
		return s.loadForUpdate(ctx, id)
	}
	return cur, unlock, nil
}

// MoveTask changes the status of a task. A move into a terminal status is
// refused with *BlockedError while a dependency is unfinished. It fires
// task-moved, then task-completed when the new status is terminal. When a
// dispatch fails the task is returned as last persisted.
func (s *Service) MoveTask(ctx context.Context, id string, status model.Status) (model.Task, error) {
	t, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	defer unlock()

	if t.Status == status {
		return t, nil
	}

	all, err := s.repo.ListTasks(ctx, "")
	if err != nil {
		return model.Task{}, fmt.Errorf("load tasks: %w", err)
	}
	if tr := checkTransition(t, status, all); tr != nil {
		eventbus.Emit(s.bus, eventbus.TopicTaskBlocked, tr)
		s.log.Info("move blocked",
			logx.String("task_id", t.ID),
			logx.String("status", string(status)),
			logx.Int("blocking", len(tr.Blocking)),
		)
		return model.Task{}, tr
	}

	now := s.now()
	old := t.Status
	t.Status = status
	t.UpdatedAt = now
	if err := s.repo.PutTask(ctx, t); err != nil {
		return model.Task{}, fmt.Errorf("save task: %w", err)
	}
	s.audit(ctx, storage.AuditEntry{
		At: now, BoardID: t.BoardID, Actor: "user", Action: "task.moved", TaskID: t.ID,
		Detail: fmt.Sprintf("%s -> %s", old, status),
	})

	ev := automation.Event{Task: t, OldStatus: old, NewStatus: status, Now: now}
	var errs []error
	res, err := s.handleLocked(ctx, automation.TriggerTaskMoved, t.BoardID, ev)
	errs = append(errs, err)
	if err == nil {
		t = res.Task
	}

	if status.IsTerminal() {
		ev.Task = t
		res, err := s.handleLocked(ctx, automation.TriggerTaskCompleted, t.BoardID, ev)
		errs = append(errs, err)
		if err == nil {
			t = res.Task
		}
	}
	if t.Status.IsTerminal() {
		s.logUnblocked(t, all)
	}
	return t, errors.Join(errs...)
}

// AssignTask sets the assignee and fires task-assigned.
func (s *Service) AssignTask(ctx context.Context, id, user string) (model.Task, error) {
	t, unlock, err := s.loadForUpdate(ctx, id)
	if err != nil {
		return model.Task{}, err
	}
	defer unlock()

	now := s.now()
	t.AssignedTo = strings.TrimSpace(user)
	t.UpdatedAt = now
	if err := s.repo.PutTask(ctx, t); err != nil {
		return model.Task{}, fmt.Errorf("save task: %w", err)
	}
	s.audit(ctx, storage.AuditEntry{At: now, BoardID: t.BoardID, Actor: "user", Action: "task.assigned", TaskID: t.ID, Detail: t.AssignedTo})

	res, err := s.handleLocked(ctx, automation.TriggerTaskAssigned, t.BoardID, automation.Event{Task: t, Now: now})
	if err != nil {
		return t, err
	}
	return res.Task, nil
}
