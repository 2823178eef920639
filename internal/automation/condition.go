package automation

import (
	"fmt"
	"strings"
	"time"

	"taskflow/internal/model"
)

type Field string

const (
	FieldPriority   Field = "priority"
	FieldCategory   Field = "category"
	FieldStatus     Field = "status"
	FieldAssignedTo Field = "assignedTo"
	FieldDueDate    Field = "dueDate"
)

type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not-equals"
	OpOverdue   Operator = "overdue"
	OpDueSoon   Operator = "due-soon"
)

// DefaultDueSoonWindow is how far ahead "due-soon" looks.
const DefaultDueSoonWindow = 3 * 24 * time.Hour

// Condition is a compiled condition. The concrete types are the only
// implementations.
type Condition interface {
	condition()
}

// FieldEquals compares priority, category or assignedTo with a value.
type FieldEquals struct {
	Field  Field
	Value  string
	Negate bool
}

// StatusIs compares the event's new status with a value.
type StatusIs struct {
	Status model.Status
	Negate bool
}

// DueOverdue holds when the task's due date is strictly before now.
type DueOverdue struct{}

// DueSoon holds when the task is due within the due-soon window and not in the past.
type DueSoon struct{}

// UnknownCondition is any field/operator pair not understood. It is satisfied.
type UnknownCondition struct {
	Field    string
	Operator string
}

func (FieldEquals) condition()      {}
func (StatusIs) condition()         {}
func (DueOverdue) condition()       {}
func (DueSoon) condition()          {}
func (UnknownCondition) condition() {}

func normalizeField(raw string) Field {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "priority":
		return FieldPriority
	case "category":
		return FieldCategory
	case "status":
		return FieldStatus
	case "assignedto", "assigned_to", "assignee":
		return FieldAssignedTo
	case "duedate", "due_date":
		return FieldDueDate
	default:
		return Field(raw)
	}
}

func normalizeOperator(raw string) Operator {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	switch s {
	case "", "equals", "eq", "is":
		return OpEquals
	case "not-equals", "ne", "is-not":
		return OpNotEquals
	default:
		return Operator(s)
	}
}

// Compile turns the stored form into a Condition.
func (c ConditionSpec) Compile() Condition {
	field := normalizeField(c.Field)
	op := normalizeOperator(c.Operator)
	value := strings.TrimSpace(c.Value)

	switch field {
	case FieldPriority, FieldCategory, FieldAssignedTo:
		switch op {
		case OpEquals:
			return FieldEquals{Field: field, Value: value}
		case OpNotEquals:
			return FieldEquals{Field: field, Value: value, Negate: true}
		}
	case FieldStatus:
		switch op {
		case OpEquals:
			return StatusIs{Status: model.Status(value)}
		case OpNotEquals:
			return StatusIs{Status: model.Status(value), Negate: true}
		}
	case FieldDueDate:
		switch op {
		case OpOverdue:
			return DueOverdue{}
		case OpDueSoon:
			return DueSoon{}
		}
	}
	return UnknownCondition{Field: c.Field, Operator: c.Operator}
}

// Evaluate reports whether all conditions hold for ev. An empty list holds.
func (e *Engine) Evaluate(conds []ConditionSpec, ev Event) bool {
	ok, _ := e.evaluate(conds, ev)
	return ok
}

// evaluate also returns a description of every unknown condition seen.
// Evaluation stops at the first failing condition, like an AND.
func (e *Engine) evaluate(conds []ConditionSpec, ev Event) (bool, []string) {
	var unknown []string
	for _, spec := range conds {
		c := spec.Compile()
		if u, ok := c.(UnknownCondition); ok {
			unknown = append(unknown, fmt.Sprintf("unknown condition field=%q operator=%q", u.Field, u.Operator))
			continue
		}
		if !e.holds(c, ev) {
			return false, unknown
		}
	}
	return true, unknown
}

func (e *Engine) holds(c Condition, ev Event) bool {
	task := ev.Task
	switch c := c.(type) {
	case FieldEquals:
		var got string
		switch c.Field {
		case FieldPriority:
			got = string(task.Priority)
		case FieldCategory:
			got = task.Category
		case FieldAssignedTo:
			got = task.AssignedTo
		}
		return (got == c.Value) != c.Negate
	case StatusIs:
		status := ev.NewStatus
		if status == "" {
			status = task.Status
		}
		return (status == c.Status) != c.Negate
	case DueOverdue:
		return task.DueDate != nil && task.DueDate.Before(ev.now())
	case DueSoon:
		if task.DueDate == nil {
			return false
		}
		now := ev.now()
		due := *task.DueDate
		return !due.Before(now) && !due.After(now.Add(e.dueSoonWindow()))
	default:
		return true
	}
}
