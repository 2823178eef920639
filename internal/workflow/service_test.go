package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"taskflow/internal/automation"
	"taskflow/internal/depgraph"
	"taskflow/internal/eventbus"
	"taskflow/internal/model"
	"taskflow/internal/recurrence"
	"taskflow/internal/storage"
	"taskflow/internal/validation"
	"taskflow/pkg/logx"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type captured struct {
	mu sync.Mutex
	ns []automation.Notification
}

func (c *captured) Notify(_ context.Context, n automation.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ns = append(c.ns, n)
	return nil
}

func (c *captured) all() []automation.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.ns)
}

type fixture struct {
	svc   *Service
	store storage.Store
	sink  *captured
	bus   eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	sink := &captured{}
	bus := eventbus.New()
	now := base
	n := 0
	svc := New(store, sink, logx.Nop(), bus, Options{
		Now: func() time.Time { return now },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	return &fixture{svc: svc, store: store, sink: sink, bus: bus}
}

func (f *fixture) rule(t *testing.T, r automation.Rule) automation.Rule {
	t.Helper()
	r.Enabled = true
	out, err := f.svc.CreateRule(context.Background(), r)
	if err != nil {
		t.Fatalf("CreateRule() err = %v", err)
	}
	return out
}

func (f *fixture) task(t *testing.T, task model.Task) model.Task {
	t.Helper()
	if task.BoardID == "" {
		task.BoardID = "b1"
	}
	out, err := f.svc.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("CreateTask() err = %v", err)
	}
	return out
}

func TestCreateRuleValidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.CreateRule(context.Background(), automation.Rule{Trigger: "task-exploded"})
	if !errors.Is(err, validation.ErrInvalid) {
		t.Fatalf("CreateRule() err = %v, want ErrInvalid", err)
	}
	var ve *validation.Error
	if !errors.As(err, &ve) || len(ve.Violations) != 3 {
		t.Fatalf("violations = %v, want 3", err)
	}

	r := f.rule(t, automation.Rule{
		Name:    "assign",
		Trigger: automation.TriggerTaskCreated,
		Actions: []automation.ActionSpec{{Type: "assign-user", Value: "u1"}},
	})
	if r.ID != "id-1" || !r.CreatedAt.Equal(base) {
		t.Fatalf("rule = %+v", r)
	}
	rules, _ := f.store.ListRules(context.Background(), "b1")
	if len(rules) != 1 {
		t.Fatalf("stored rules = %d, want 1", len(rules))
	}
}

func TestCreateTaskRunsRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	events, unsub := f.bus.Subscribe(16)
	defer unsub()

	f.rule(t, automation.Rule{
		Name:       "urgent bugs",
		Trigger:    automation.TriggerTaskCreated,
		Conditions: []automation.ConditionSpec{{Field: "category", Value: "bug"}},
		Actions: []automation.ActionSpec{
			{Type: "set-priority", Value: "urgent"},
			{Type: "assign-user", Value: "oncall"},
			{Type: "create-notification", Message: "new bug"},
			{Type: "create-task", Task: &automation.TaskSkeleton{Title: "write regression test"}},
		},
	})
	f.rule(t, automation.Rule{
		Name:    "other board",
		Scope:   "b2",
		Trigger: automation.TriggerTaskCreated,
		Actions: []automation.ActionSpec{{Type: "add-label", Value: "b2"}},
	})

	got := f.task(t, model.Task{Title: "crash", Category: "bug"})
	if got.Priority != model.PriorityUrgent || got.AssignedTo != "oncall" || got.HasLabel("b2") {
		t.Fatalf("task = %+v", got)
	}

	stored, err := f.store.GetTask(ctx, got.ID)
	if err != nil || !model.Equal(stored, got) {
		t.Fatalf("stored = %+v err=%v, want %+v", stored, err, got)
	}

	tasks, _ := f.store.ListTasks(ctx, "b1")
	if len(tasks) != 2 || tasks[1].Title != "write regression test" || tasks[1].Status != model.StatusTodo {
		t.Fatalf("tasks = %+v", tasks)
	}

	ns := f.sink.all()
	if len(ns) != 1 || ns[0].UserID != "oncall" || ns[0].TaskID != got.ID || ns[0].RuleID == "" {
		t.Fatalf("notifications = %+v", ns)
	}

	select {
	case e := <-events:
		a, ok := e.Data.(Applied)
		if e.Type != eventbus.TopicAutomationApplied || !ok || len(a.CreatedTasks) != 1 {
			t.Fatalf("event = %+v", e)
		}
	default:
		t.Fatalf("no automation.applied event")
	}

	audit, _ := f.store.RecentAudit(ctx, 10)
	var actions []string
	for _, e := range audit {
		actions = append(actions, e.Action)
	}
	for _, want := range []string{"task.created", "rule.applied"} {
		if !slices.Contains(actions, want) {
			t.Fatalf("audit actions = %v, want %q", actions, want)
		}
	}
}

func TestRuleCreatedTasksDoNotCascade(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.rule(t, automation.Rule{
		Name:    "spawn",
		Trigger: automation.TriggerTaskCreated,
		Actions: []automation.ActionSpec{{Type: "create-task", Task: &automation.TaskSkeleton{Title: "child"}}},
	})
	f.task(t, model.Task{Title: "parent"})

	tasks, _ := f.store.ListTasks(context.Background(), "b1")
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
}

func TestMoveTaskGating(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.task(t, model.Task{Title: "A"})
	b := f.task(t, model.Task{Title: "B"})
	if _, err := f.svc.AddDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("AddDependency() err = %v", err)
	}

	if _, err := f.svc.MoveTask(ctx, b.ID, model.StatusInProgress); err != nil {
		t.Fatalf("MoveTask(in-progress) err = %v", err)
	}

	_, err := f.svc.MoveTask(ctx, b.ID, model.StatusDone)
	var be *BlockedError
	if !errors.As(err, &be) || !errors.Is(err, ErrBlocked) {
		t.Fatalf("MoveTask(done) err = %v, want *BlockedError", err)
	}
	if len(be.Blocking) != 1 || be.Blocking[0].ID != a.ID {
		t.Fatalf("Blocking = %+v", be.Blocking)
	}
	if cur, _ := f.store.GetTask(ctx, b.ID); cur.Status != model.StatusInProgress {
		t.Fatalf("status after blocked move = %q", cur.Status)
	}

	if _, err := f.svc.MoveTask(ctx, a.ID, model.StatusDone); err != nil {
		t.Fatalf("MoveTask(A, done) err = %v", err)
	}
	if got, err := f.svc.MoveTask(ctx, b.ID, model.StatusDone); err != nil || got.Status != model.StatusDone {
		t.Fatalf("MoveTask(B, done) = %+v, %v", got, err)
	}
}

func TestMoveTaskFiresMovedThenCompleted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.rule(t, automation.Rule{
		Name:       "review label",
		Trigger:    automation.TriggerTaskMoved,
		Conditions: []automation.ConditionSpec{{Field: "status", Value: "done"}},
		Actions:    []automation.ActionSpec{{Type: "add-label", Value: "moved"}},
	})
	f.rule(t, automation.Rule{
		Name:    "congrats",
		Trigger: automation.TriggerTaskCompleted,
		Actions: []automation.ActionSpec{
			{Type: "add-label", Value: "completed"},
			{Type: "create-notification", UserID: "lead", Message: "done"},
		},
	})

	task := f.task(t, model.Task{Title: "ship"})
	got, err := f.svc.MoveTask(ctx, task.ID, model.StatusDone)
	if err != nil {
		t.Fatalf("MoveTask() err = %v", err)
	}
	if !slices.Equal(got.Labels, []string{"moved", "completed"}) {
		t.Fatalf("Labels = %v, want [moved completed]", got.Labels)
	}
	if ns := f.sink.all(); len(ns) != 1 || ns[0].UserID != "lead" {
		t.Fatalf("notifications = %+v", ns)
	}

	// Moving to a non-terminal status only fires task-moved.
	again, err := f.svc.MoveTask(ctx, task.ID, model.StatusReview)
	if err != nil || again.Status != model.StatusReview {
		t.Fatalf("MoveTask(review) = %+v, %v", again, err)
	}
	if ns := f.sink.all(); len(ns) != 1 {
		t.Fatalf("notifications after review move = %d, want 1", len(ns))
	}
}

func TestAssignTaskFiresAssigned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.rule(t, automation.Rule{
		Name:    "notify assignee",
		Trigger: automation.TriggerTaskAssigned,
		Actions: []automation.ActionSpec{{Type: "create-notification", Message: "yours"}},
	})
	task := f.task(t, model.Task{Title: "x"})
	if _, err := f.svc.AssignTask(context.Background(), task.ID, "u7"); err != nil {
		t.Fatalf("AssignTask() err = %v", err)
	}
	ns := f.sink.all()
	if len(ns) != 1 || ns[0].UserID != "u7" {
		t.Fatalf("notifications = %+v", ns)
	}

	if _, err := f.svc.AssignTask(context.Background(), "missing", "u7"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("AssignTask(missing) err = %v, want ErrNotFound", err)
	}
}

func TestAddDependencyRefusesCycles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	a := f.task(t, model.Task{Title: "A"})
	b := f.task(t, model.Task{Title: "B"})
	c := f.task(t, model.Task{Title: "C"})
	for _, e := range [][2]string{{a.ID, b.ID}, {b.ID, c.ID}} {
		if _, err := f.svc.AddDependency(ctx, e[0], e[1]); err != nil {
			t.Fatalf("AddDependency(%s, %s) err = %v", e[0], e[1], err)
		}
	}

	_, err := f.svc.AddDependency(ctx, c.ID, a.ID)
	var ce *depgraph.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("AddDependency(C, A) err = %v, want *CycleError", err)
	}
	if cur, _ := f.store.GetTask(ctx, c.ID); len(cur.Dependencies) != 0 {
		t.Fatalf("C dependencies = %v, want none", cur.Dependencies)
	}

	if _, err := f.svc.AddDependency(ctx, a.ID, a.ID); !errors.Is(err, depgraph.ErrSelfDependency) {
		t.Fatalf("self edge err = %v", err)
	}
	if _, err := f.svc.AddDependency(ctx, a.ID, b.ID); !errors.Is(err, depgraph.ErrDuplicateDependency) {
		t.Fatalf("duplicate edge err = %v", err)
	}

	if got, err := f.svc.RemoveDependency(ctx, a.ID, b.ID); err != nil || len(got.Dependencies) != 0 {
		t.Fatalf("RemoveDependency() = %+v, %v", got, err)
	}
}

func TestCreateTaskValidatesDependencies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		seed       []model.Task
		task       model.Task
		violations int
	}{
		{
			name:       "self and unknown",
			task:       model.Task{ID: "a", Dependencies: []string{"a", "ghost"}},
			violations: 2,
		},
		{
			name:       "repeated dependency",
			seed:       []model.Task{{ID: "x", Status: model.StatusTodo}},
			task:       model.Task{ID: "a", Dependencies: []string{"x", "x"}},
			violations: 1,
		},
		{
			// x still points at "a" from before it was deleted.
			name:       "cycle through stale edge",
			seed:       []model.Task{{ID: "x", Status: model.StatusTodo, Dependencies: []string{"a"}}},
			task:       model.Task{ID: "a", Dependencies: []string{"x"}},
			violations: 1,
		},
		{
			name:       "existing id",
			seed:       []model.Task{{ID: "a", Status: model.StatusTodo}},
			task:       model.Task{ID: "a"},
			violations: 1,
		},
		{
			name:       "terminal with open dependency",
			seed:       []model.Task{{ID: "x", Status: model.StatusTodo}},
			task:       model.Task{ID: "a", Status: model.StatusDone, Dependencies: []string{"x"}},
			violations: 1,
		},
		{
			name: "valid",
			seed: []model.Task{{ID: "x", Status: model.StatusDone}, {ID: "y", Status: model.StatusTodo}},
			task: model.Task{ID: "a", Dependencies: []string{"x", " y "}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()
			for _, st := range tt.seed {
				st.BoardID, st.Title = "b1", st.ID
				if err := f.store.PutTask(ctx, st); err != nil {
					t.Fatalf("PutTask(%s) err = %v", st.ID, err)
				}
			}

			tt.task.BoardID, tt.task.Title = "b1", "new"
			got, err := f.svc.CreateTask(ctx, tt.task)
			if tt.violations == 0 {
				if err != nil {
					t.Fatalf("CreateTask() err = %v", err)
				}
				if !slices.Equal(got.Dependencies, []string{"x", "y"}) {
					t.Fatalf("Dependencies = %v, want [x y]", got.Dependencies)
				}
				return
			}

			var ve *validation.Error
			if !errors.As(err, &ve) || len(ve.Violations) != tt.violations {
				t.Fatalf("CreateTask() err = %v, want %d violations", err, tt.violations)
			}
			if len(tt.seed) == 0 || tt.seed[0].ID != tt.task.ID {
				if _, err := f.store.GetTask(ctx, tt.task.ID); !errors.Is(err, storage.ErrNotFound) {
					t.Fatalf("rejected task was stored: err = %v", err)
				}
			}
		})
	}
}

func TestRuleCannotCompleteBlockedTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.rule(t, automation.Rule{
		Name:    "auto finish",
		Trigger: automation.TriggerTaskMoved,
		Actions: []automation.ActionSpec{
			{Type: "set-status", Value: "done"},
			{Type: "add-label", Value: "touched"},
		},
	})
	f.rule(t, automation.Rule{
		Name:    "announce",
		Trigger: automation.TriggerTaskCompleted,
		Actions: []automation.ActionSpec{{Type: "create-notification", UserID: "lead", Message: "finished"}},
	})

	dep := f.task(t, model.Task{Title: "dep"})
	x := f.task(t, model.Task{Title: "x"})
	if _, err := f.svc.AddDependency(ctx, x.ID, dep.ID); err != nil {
		t.Fatalf("AddDependency() err = %v", err)
	}

	got, err := f.svc.MoveTask(ctx, x.ID, model.StatusInProgress)
	if err != nil {
		t.Fatalf("MoveTask(x) err = %v", err)
	}
	if got.Status != model.StatusInProgress || !got.HasLabel("touched") {
		t.Fatalf("MoveTask(x) = status %q labels %v, want in-progress with the label", got.Status, got.Labels)
	}
	if cur, _ := f.store.GetTask(ctx, x.ID); cur.Status != model.StatusInProgress {
		t.Fatalf("stored x status = %q, want in-progress", cur.Status)
	}
	if ns := f.sink.all(); len(ns) != 0 {
		t.Fatalf("notifications = %+v, want none", ns)
	}

	// dep has no dependencies, so the rule finishes it and completion fires.
	if got, err := f.svc.MoveTask(ctx, dep.ID, model.StatusInProgress); err != nil || got.Status != model.StatusDone {
		t.Fatalf("MoveTask(dep) = %+v, %v", got, err)
	}
	if got, err := f.svc.MoveTask(ctx, x.ID, model.StatusReview); err != nil || got.Status != model.StatusDone {
		t.Fatalf("MoveTask(x, review) = %+v, %v", got, err)
	}
	ns := f.sink.all()
	if len(ns) != 2 || ns[0].TaskID != dep.ID || ns[1].TaskID != x.ID {
		t.Fatalf("notifications = %+v, want dep then x", ns)
	}
}

type failingCommit struct {
	storage.Store
	err error
}

func (f failingCommit) Commit(context.Context, storage.Batch) error { return f.err }

func TestMoveTaskReturnsPersistedTaskOnDispatchFailure(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	defer store.Close()
	errDisk := errors.New("disk full")
	svc := New(failingCommit{Store: store, err: errDisk}, nil, logx.Nop(), nil, Options{
		Now: func() time.Time { return base },
	})
	ctx := context.Background()

	if _, err := svc.CreateRule(ctx, automation.Rule{
		Name:    "label",
		Enabled: true,
		Trigger: automation.TriggerTaskMoved,
		Actions: []automation.ActionSpec{{Type: "add-label", Value: "moved"}},
	}); err != nil {
		t.Fatalf("CreateRule() err = %v", err)
	}
	task, err := svc.CreateTask(ctx, model.Task{BoardID: "b1", Title: "t"})
	if err != nil {
		t.Fatalf("CreateTask() err = %v", err)
	}

	got, err := svc.MoveTask(ctx, task.ID, model.StatusReview)
	if !errors.Is(err, errDisk) {
		t.Fatalf("MoveTask() err = %v, want %v", err, errDisk)
	}
	if got.Status != model.StatusReview || len(got.Labels) != 0 {
		t.Fatalf("MoveTask() = status %q labels %v, want the stored task", got.Status, got.Labels)
	}
}

func TestCatchUp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.rule(t, automation.Rule{
		Name:    "label generated",
		Trigger: automation.TriggerTaskCreated,
		Actions: []automation.ActionSpec{{Type: "add-label", Value: "recurring"}},
	})
	tpl, err := f.svc.CreateTemplate(ctx, recurrence.Template{
		Name:      "standup",
		Enabled:   true,
		Task:      recurrence.TaskTemplate{Title: "standup notes"},
		Pattern:   recurrence.Pattern{Type: recurrence.Daily},
		CreatedAt: base.AddDate(0, 0, -3),
	})
	if err != nil {
		t.Fatalf("CreateTemplate() err = %v", err)
	}

	res, err := f.svc.CatchUp(ctx, "b1", base)
	if err != nil {
		t.Fatalf("CatchUp() err = %v", err)
	}
	if len(res.Tasks) != 3 {
		t.Fatalf("generated = %d, want 3", len(res.Tasks))
	}
	for _, task := range res.Tasks {
		if !task.HasLabel("recurring") || task.TemplateID != tpl.ID {
			t.Fatalf("task = %+v", task)
		}
	}

	stored, _ := f.store.ListTemplates(ctx, "b1")
	if len(stored) != 1 || stored[0].OccurrenceCount != 3 || stored[0].LastGeneratedAt == nil {
		t.Fatalf("template = %+v", stored)
	}

	again, err := f.svc.CatchUp(ctx, "b1", base)
	if err != nil || len(again.Tasks) != 0 {
		t.Fatalf("second CatchUp() = %d tasks, %v; want 0", len(again.Tasks), err)
	}
	tasks, _ := f.store.ListTasks(ctx, "b1")
	if len(tasks) != 3 {
		t.Fatalf("stored tasks = %d, want 3", len(tasks))
	}
}

func TestSweepOverdueFiresOncePerDueDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.rule(t, automation.Rule{
		Name:    "escalate",
		Trigger: automation.TriggerTaskOverdue,
		Actions: []automation.ActionSpec{
			{Type: "set-priority", Value: "high"},
			{Type: "create-notification", UserID: "lead", Message: "overdue"},
		},
	})

	past := base.Add(-time.Hour)
	future := base.Add(time.Hour)
	late := f.task(t, model.Task{Title: "late", DueDate: &past})
	f.task(t, model.Task{Title: "fine", DueDate: &future})
	f.task(t, model.Task{Title: "closed", DueDate: &past, Status: model.StatusDone})

	n, err := f.svc.SweepOverdue(ctx, "b1", base)
	if err != nil || n != 1 {
		t.Fatalf("SweepOverdue() = %d, %v; want 1", n, err)
	}
	if cur, _ := f.store.GetTask(ctx, late.ID); cur.Priority != model.PriorityHigh {
		t.Fatalf("priority = %q, want high", cur.Priority)
	}

	if n, _ := f.svc.SweepOverdue(ctx, "b1", base.Add(time.Minute)); n != 0 {
		t.Fatalf("second sweep fired %d, want 0", n)
	}

	// A new due date arms the trigger again.
	cur, _ := f.store.GetTask(ctx, late.ID)
	moved := base.Add(30 * time.Minute)
	cur.DueDate = &moved
	if err := f.store.PutTask(ctx, cur); err != nil {
		t.Fatalf("PutTask() err = %v", err)
	}
	if n, _ := f.svc.SweepOverdue(ctx, "b1", base.Add(time.Hour)); n != 1 {
		t.Fatalf("sweep after due change fired %d, want 1", n)
	}
	if ns := f.sink.all(); len(ns) != 2 {
		t.Fatalf("notifications = %d, want 2", len(ns))
	}
}

func TestCreateTaskValidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.svc.CreateTask(context.Background(), model.Task{})
	var ve *validation.Error
	if !errors.As(err, &ve) || len(ve.Violations) != 2 {
		t.Fatalf("CreateTask() err = %v, want 2 violations", err)
	}
}

func TestConcurrentCatchUpGeneratesOnce(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	defer store.Close()
	svc := New(store, nil, logx.Nop(), eventbus.Nop(), Options{})
	ctx := context.Background()

	if _, err := svc.CreateTemplate(ctx, recurrence.Template{
		Name:      "daily",
		Enabled:   true,
		Task:      recurrence.TaskTemplate{Title: "t"},
		Pattern:   recurrence.Pattern{Type: recurrence.Daily},
		CreatedAt: base.AddDate(0, 0, -5),
	}); err != nil {
		t.Fatalf("CreateTemplate() err = %v", err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CatchUp(ctx, "b1", base); err != nil {
				t.Errorf("CatchUp() err = %v", err)
			}
		}()
	}
	wg.Wait()

	tasks, _ := store.ListTasks(ctx, "b1")
	if len(tasks) != 5 {
		t.Fatalf("tasks = %d, want 5", len(tasks))
	}
}
