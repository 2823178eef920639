package automation

import (
	"fmt"
	"strings"

	"taskflow/internal/model"
)

type ActionType string

const (
	ActionAssignUser         ActionType = "assign-user"
	ActionSetPriority        ActionType = "set-priority"
	ActionSetCategory        ActionType = "set-category"
	ActionSetStatus          ActionType = "set-status"
	ActionCreateNotification ActionType = "create-notification"
	ActionCreateTask         ActionType = "create-task"
	ActionAddLabel           ActionType = "add-label"
)

// Action is a compiled action. The concrete types are the only implementations.
type Action interface {
	action()
}

type AssignUser struct{ UserID string }

type SetPriority struct{ Priority model.Priority }

type SetCategory struct{ Category string }

type SetStatus struct{ Status model.Status }

type AddLabel struct{ Label string }

// CreateNotification sends Message to UserID, or to the task's current
// assignee when UserID is empty.
type CreateNotification struct {
	UserID  string
	Message string
}

type CreateTask struct{ Task TaskSkeleton }

// UnknownAction does nothing.
type UnknownAction struct{ Type string }

func (AssignUser) action()         {}
func (SetPriority) action()        {}
func (SetCategory) action()        {}
func (SetStatus) action()          {}
func (AddLabel) action()           {}
func (CreateNotification) action() {}
func (CreateTask) action()         {}
func (UnknownAction) action()      {}

// Compile turns the stored form into an Action.
func (a ActionSpec) Compile() Action {
	value := strings.TrimSpace(a.Value)
	switch ActionType(strings.ToLower(strings.TrimSpace(a.Type))) {
	case ActionAssignUser:
		user := strings.TrimSpace(a.UserID)
		if user == "" {
			user = value
		}
		return AssignUser{UserID: user}
	case ActionSetPriority:
		return SetPriority{Priority: model.Priority(value)}
	case ActionSetCategory:
		return SetCategory{Category: value}
	case ActionSetStatus:
		return SetStatus{Status: model.Status(value)}
	case ActionAddLabel:
		return AddLabel{Label: value}
	case ActionCreateNotification:
		msg := a.Message
		if msg == "" {
			msg = a.Value
		}
		return CreateNotification{UserID: strings.TrimSpace(a.UserID), Message: msg}
	case ActionCreateTask:
		var sk TaskSkeleton
		if a.Task != nil {
			sk = *a.Task
		}
		if sk.Title == "" {
			sk.Title = value
		}
		if sk.Status == "" {
			sk.Status = model.StatusTodo
		}
		return CreateTask{Task: sk}
	default:
		return UnknownAction{Type: a.Type}
	}
}

// Execute applies actions in order to a copy of ev.Task. Each action sees
// the changes made by the ones before it.
func (e *Engine) Execute(actions []ActionSpec, ev Event) Result {
	res := Result{Task: ev.Task.Clone()}
	for _, spec := range actions {
		switch a := spec.Compile().(type) {
		case AssignUser:
			res.Task.AssignedTo = a.UserID
		case SetPriority:
			res.Task.Priority = a.Priority
		case SetCategory:
			res.Task.Category = a.Category
		case SetStatus:
			res.Task.Status = a.Status
		case AddLabel:
			if a.Label != "" && !res.Task.HasLabel(a.Label) {
				res.Task.Labels = append(res.Task.Labels, a.Label)
			}
		case CreateNotification:
			user := a.UserID
			if user == "" {
				user = res.Task.AssignedTo
			}
			res.Notifications = append(res.Notifications, Notification{
				UserID:  user,
				Message: a.Message,
				Type:    NotificationType,
				TaskID:  res.Task.ID,
			})
		case CreateTask:
			res.NewTasks = append(res.NewTasks, NewTask{
				TaskSkeleton: a.Task,
				BoardID:      res.Task.BoardID,
				SourceTaskID: res.Task.ID,
			})
		case UnknownAction:
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:   "action",
				Detail: fmt.Sprintf("unknown action type %q", a.Type),
			})
		}
	}
	return res
}
