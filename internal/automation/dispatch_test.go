package automation

import (
	"testing"
	"time"

	"taskflow/internal/model"
)

func highPriorityRule() Rule {
	return Rule{
		ID:         "r1",
		Name:       "assign high priority",
		Enabled:    true,
		Trigger:    TriggerTaskCreated,
		Conditions: []ConditionSpec{{Field: "priority", Value: "high"}},
		Actions:    []ActionSpec{{Type: "assign-user", Value: "u1"}},
	}
}

func TestDispatchAssignsHighPriorityTask(t *testing.T) {
	t.Parallel()
	rules := []Rule{highPriorityRule()}

	high := Dispatch(TriggerTaskCreated, Event{Task: model.Task{ID: "t1", Priority: model.PriorityHigh}}, "b1", rules)
	if high.Task.AssignedTo != "u1" {
		t.Fatalf("AssignedTo = %q, want u1", high.Task.AssignedTo)
	}
	if len(high.Applied) != 1 || high.Applied[0] != "r1" {
		t.Fatalf("Applied = %v, want [r1]", high.Applied)
	}

	medium := Dispatch(TriggerTaskCreated, Event{Task: model.Task{ID: "t2", Priority: model.PriorityMedium}}, "b1", rules)
	if medium.Task.AssignedTo != "" {
		t.Fatalf("AssignedTo = %q, want unassigned", medium.Task.AssignedTo)
	}
	if len(medium.Applied) != 0 {
		t.Fatalf("Applied = %v, want none", medium.Applied)
	}
}

func TestDispatchAppliesAllMatchingRulesInOrder(t *testing.T) {
	t.Parallel()
	rules := []Rule{
		{ID: "first", Enabled: true, Trigger: TriggerTaskMoved, Actions: []ActionSpec{
			{Type: "set-priority", Value: "urgent"},
			{Type: "create-notification", UserID: "lead", Message: "escalated"},
		}},
		// Sees the priority set by the first rule.
		{ID: "second", Enabled: true, Trigger: TriggerTaskMoved,
			Conditions: []ConditionSpec{{Field: "priority", Value: "urgent"}},
			Actions: []ActionSpec{
				{Type: "add-label", Value: "hot"},
				{Type: "create-notification", Message: "you own an urgent task"},
			}},
		{ID: "disabled", Enabled: false, Trigger: TriggerTaskMoved, Actions: []ActionSpec{{Type: "add-label", Value: "never"}}},
		{ID: "other-trigger", Enabled: true, Trigger: TriggerTaskCreated, Actions: []ActionSpec{{Type: "add-label", Value: "never"}}},
		{ID: "other-board", Enabled: true, Scope: "b2", Trigger: TriggerTaskMoved, Actions: []ActionSpec{{Type: "add-label", Value: "never"}}},
		{ID: "all-boards", Enabled: true, Scope: model.AllBoards, Trigger: TriggerTaskMoved, Actions: []ActionSpec{{Type: "add-label", Value: "seen"}}},
	}
	ev := Event{
		Task:      model.Task{ID: "t1", BoardID: "b1", AssignedTo: "u7", Status: model.StatusReview},
		OldStatus: model.StatusInProgress,
		NewStatus: model.StatusReview,
	}

	got := Dispatch(TriggerTaskMoved, ev, "b1", rules)

	if want := []string{"first", "second", "all-boards"}; len(got.Applied) != len(want) {
		t.Fatalf("Applied = %v, want %v", got.Applied, want)
	}
	if got.Task.Priority != model.PriorityUrgent {
		t.Fatalf("Priority = %q, want urgent", got.Task.Priority)
	}
	if len(got.Task.Labels) != 2 || got.Task.Labels[0] != "hot" || got.Task.Labels[1] != "seen" {
		t.Fatalf("Labels = %v, want [hot seen]", got.Task.Labels)
	}
	if len(got.Notifications) != 2 {
		t.Fatalf("Notifications = %v, want 2", got.Notifications)
	}
	if n := got.Notifications[0]; n.UserID != "lead" || n.RuleID != "first" || n.Type != NotificationType {
		t.Fatalf("first notification = %+v", n)
	}
	if n := got.Notifications[1]; n.UserID != "u7" || n.RuleID != "second" {
		t.Fatalf("second notification = %+v, want assignee u7 from rule second", n)
	}
	if len(ev.Task.Labels) != 0 || ev.Task.Priority != "" {
		t.Fatalf("input task mutated: %+v", ev.Task)
	}
}

func TestDispatchUnconditionalRuleAlwaysFires(t *testing.T) {
	t.Parallel()
	rules := []Rule{{ID: "r", Enabled: true, Trigger: TriggerTaskCompleted, Actions: []ActionSpec{{Type: "set-category", Value: "archive"}}}}
	for _, p := range []model.Priority{model.PriorityLow, model.PriorityHigh, ""} {
		got := Dispatch(TriggerTaskCompleted, Event{Task: model.Task{Priority: p}}, "", rules)
		if got.Task.Category != "archive" {
			t.Fatalf("priority %q: Category = %q, want archive", p, got.Task.Category)
		}
	}
}

func TestDispatchReportsDiagnostics(t *testing.T) {
	t.Parallel()
	rules := []Rule{{
		ID: "r", Enabled: true, Trigger: TriggerTaskCreated,
		Conditions: []ConditionSpec{{Field: "color", Operator: "equals", Value: "red"}},
		Actions:    []ActionSpec{{Type: "send-fax"}, {Type: "add-label", Value: "ok"}},
	}}
	got := Dispatch(TriggerTaskCreated, Event{Task: model.Task{ID: "t"}}, "b", rules)
	if len(got.Applied) != 1 {
		t.Fatalf("unknown condition should not block: Applied = %v", got.Applied)
	}
	if !got.Task.HasLabel("ok") {
		t.Fatalf("Labels = %v, want ok", got.Task.Labels)
	}
	if len(got.Diagnostics) != 2 {
		t.Fatalf("Diagnostics = %+v, want 2", got.Diagnostics)
	}
	if got.Diagnostics[0].Kind != "condition" || got.Diagnostics[1].Kind != "action" {
		t.Fatalf("Diagnostics = %+v", got.Diagnostics)
	}
}

func TestDispatchNewTasksCarryOrigin(t *testing.T) {
	t.Parallel()
	rules := []Rule{{
		ID: "follow", Enabled: true, Trigger: TriggerTaskCompleted,
		Actions: []ActionSpec{{Type: "create-task", Task: &TaskSkeleton{Title: "Write retro", Priority: model.PriorityLow, AssignedTo: "u2"}}},
	}}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Dispatch(TriggerTaskCompleted, Event{Task: model.Task{ID: "t1", BoardID: "b1"}, Now: now}, "b1", rules)
	if len(got.NewTasks) != 1 {
		t.Fatalf("NewTasks = %v", got.NewTasks)
	}
	nt := got.NewTasks[0]
	if nt.Title != "Write retro" || nt.Status != model.StatusTodo || nt.BoardID != "b1" || nt.SourceTaskID != "t1" || nt.RuleID != "follow" {
		t.Fatalf("NewTask = %+v", nt)
	}
	if got.Task.Title != "" {
		t.Fatalf("create-task must not mutate the current task: %+v", got.Task)
	}
}
