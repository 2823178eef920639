package automation

import (
	"time"

	"taskflow/internal/model"
)

type Trigger string

const (
	TriggerTaskCreated   Trigger = "task-created"
	TriggerTaskMoved     Trigger = "task-moved"
	TriggerTaskCompleted Trigger = "task-completed"
	TriggerTaskOverdue   Trigger = "task-overdue"
	TriggerTaskAssigned  Trigger = "task-assigned"
)

// Triggers returns the fixed trigger set.
func Triggers() []Trigger {
	return []Trigger{
		TriggerTaskCreated,
		TriggerTaskMoved,
		TriggerTaskCompleted,
		TriggerTaskOverdue,
		TriggerTaskAssigned,
	}
}

func (t Trigger) IsValid() bool {
	for _, v := range Triggers() {
		if t == v {
			return true
		}
	}
	return false
}

// Rule is an automation rule.
type Rule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name" validate:"notblank"`
	Enabled    bool            `json:"enabled"`
	Scope      model.Scope     `json:"board_scope,omitempty"`
	Trigger    Trigger         `json:"trigger" validate:"trigger"`
	Conditions []ConditionSpec `json:"conditions,omitempty"`
	Actions    []ActionSpec    `json:"actions" validate:"min=1"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ConditionSpec is the stored form of a condition.
type ConditionSpec struct {
	Field    string `json:"field"`
	Operator string `json:"operator,omitempty"`
	Value    string `json:"value,omitempty"`
}

// ActionSpec is the stored form of an action. Which payload fields are read
// depends on Type.
type ActionSpec struct {
	Type    string        `json:"type"`
	Value   string        `json:"value,omitempty"`
	UserID  string        `json:"user_id,omitempty"`
	Message string        `json:"message,omitempty"`
	Task    *TaskSkeleton `json:"task,omitempty"`
}

// TaskSkeleton describes a task to create.
type TaskSkeleton struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    model.Priority `json:"priority,omitempty"`
	Status      model.Status   `json:"status,omitempty"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
}

// Event is the context a trigger fires with.
type Event struct {
	Task      model.Task
	OldStatus model.Status
	NewStatus model.Status

	// Now is the evaluation clock. Zero means time.Now().
	Now time.Time
}

func (e Event) now() time.Time {
	if e.Now.IsZero() {
		return time.Now()
	}
	return e.Now
}

// NotificationType is the type tag on every notification produced by rules.
const NotificationType = "automation"

// Notification is a request for the notification sink.
type Notification struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Type    string `json:"type"`
	TaskID  string `json:"task_id,omitempty"`
	RuleID  string `json:"rule_id,omitempty"`
}

// NewTask is a request to create a task.
type NewTask struct {
	TaskSkeleton
	BoardID      string `json:"board_id,omitempty"`
	SourceTaskID string `json:"source_task_id,omitempty"`
	RuleID       string `json:"rule_id,omitempty"`
}

// Diagnostic reports a condition or action that was treated as a no-op.
type Diagnostic struct {
	RuleID string
	Kind   string // "condition" | "action" | "blocked"
	Detail string
}

// Result is the accumulated effect of executing actions.
type Result struct {
	Task          model.Task
	Notifications []Notification
	NewTasks      []NewTask

	// Applied lists the ids of rules whose actions ran, in order.
	Applied     []string
	Diagnostics []Diagnostic
}

// Clone returns a copy that shares no slices or pointers with r.
func (r Rule) Clone() Rule {
	cp := r
	cp.Conditions = append([]ConditionSpec(nil), r.Conditions...)
	cp.Actions = make([]ActionSpec, len(r.Actions))
	for i, a := range r.Actions {
		if a.Task != nil {
			sk := *a.Task
			a.Task = &sk
		}
		cp.Actions[i] = a
	}
	return cp
}
