// Package model holds the task records shared by the automation, recurrence
// and dependency components.
package model

import (
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusCompleted  Status = "completed"
	StatusClosed     Status = "closed"
)

// IsTerminal reports whether the status is past the point where dependency
// gating applies.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusCompleted, StatusClosed:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// AllBoards is the scope value that matches every board. An empty scope
// means the same thing.
const AllBoards Scope = "*"

// Scope is a board id filter.
type Scope string

// Matches reports whether a record scoped to s applies to board.
func (s Scope) Matches(board string) bool {
	v := strings.TrimSpace(string(s))
	if v == "" || Scope(v) == AllBoards {
		return true
	}
	return v == strings.TrimSpace(board)
}

// Task is one card on a board.
type Task struct {
	ID          string     `json:"id"`
	BoardID     string     `json:"board_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority,omitempty"`
	Category    string     `json:"category,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`

	// Dependencies lists the ids of tasks this task depends on.
	Dependencies []string `json:"dependencies,omitempty"`

	// TemplateID is set on instances generated from a recurring template.
	TemplateID string `json:"template_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Task) Clone() Task {
	cp := t
	cp.Labels = slices.Clone(t.Labels)
	cp.Dependencies = slices.Clone(t.Dependencies)
	if t.DueDate != nil {
		d := *t.DueDate
		cp.DueDate = &d
	}
	return cp
}

func (t Task) HasLabel(label string) bool {
	return slices.Contains(t.Labels, label)
}

func (t Task) DependsOn(id string) bool {
	return slices.Contains(t.Dependencies, id)
}

// Index maps task ids to tasks. Later duplicates win.
func Index(tasks []Task) map[string]Task {
	out := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		out[t.ID] = t
	}
	return out
}

// Equal reports whether two tasks carry the same field values.
func Equal(a, b Task) bool {
	if a.ID != b.ID || a.BoardID != b.BoardID || a.Title != b.Title ||
		a.Description != b.Description || a.Status != b.Status ||
		a.Priority != b.Priority || a.Category != b.Category ||
		a.AssignedTo != b.AssignedTo || a.TemplateID != b.TemplateID {
		return false
	}
	if !slices.Equal(a.Labels, b.Labels) || !slices.Equal(a.Dependencies, b.Dependencies) {
		return false
	}
	switch {
	case a.DueDate == nil && b.DueDate == nil:
	case a.DueDate == nil || b.DueDate == nil:
		return false
	case !a.DueDate.Equal(*b.DueDate):
		return false
	}
	return a.CreatedAt.Equal(b.CreatedAt) && a.UpdatedAt.Equal(b.UpdatedAt)
}
