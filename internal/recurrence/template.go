package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"taskflow/internal/model"
	"taskflow/internal/validation"
)

// TaskTemplate is the skeleton each occurrence is built from.
type TaskTemplate struct {
	Title       string         `json:"title" validate:"notblank"`
	Description string         `json:"description,omitempty"`
	Priority    model.Priority `json:"priority,omitempty"`
	Category    string         `json:"category,omitempty"`
	AssignedTo  string         `json:"assigned_to,omitempty"`
	Labels      []string       `json:"labels,omitempty"`

	// DueDate is the nominal due date of the template. Each occurrence is
	// due the same number of days after its own date as DueDate is after
	// the template's CreatedAt.
	DueDate *time.Time `json:"due_date,omitempty"`

	// DueIn is used when DueDate is unset: a relative offset like "2d".
	DueIn string `json:"due_in,omitempty"`
}

// Template is a recurring task template.
type Template struct {
	ID      string       `json:"id"`
	Name    string       `json:"name" validate:"notblank"`
	Enabled bool         `json:"enabled"`
	Scope   model.Scope  `json:"board_scope,omitempty"`
	Task    TaskTemplate `json:"task_template"`
	Pattern Pattern      `json:"recurrence_pattern"`

	// LastGeneratedAt and OccurrenceCount are the only fields GenerateDue changes.
	LastGeneratedAt *time.Time `json:"last_generated_at,omitempty"`
	OccurrenceCount int        `json:"occurrence_count"`

	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Template) Clone() Template {
	cp := t
	cp.Task.Labels = slices.Clone(t.Task.Labels)
	cp.Pattern.DaysOfWeek = slices.Clone(t.Pattern.DaysOfWeek)
	if t.Task.DueDate != nil {
		d := *t.Task.DueDate
		cp.Task.DueDate = &d
	}
	if t.Pattern.EndDate != nil {
		d := *t.Pattern.EndDate
		cp.Pattern.EndDate = &d
	}
	if t.LastGeneratedAt != nil {
		d := *t.LastGeneratedAt
		cp.LastGeneratedAt = &d
	}
	return cp
}

// dueFor derives the due date of the occurrence at occ.
func (t Template) dueFor(occ time.Time) *time.Time {
	if t.Task.DueDate != nil && !t.CreatedAt.IsZero() {
		nominal := t.Task.DueDate.In(occ.Location())
		days := daysBetween(t.CreatedAt.In(occ.Location()), nominal)
		y, m, d := occ.Date()
		due := time.Date(y, m, d+days, nominal.Hour(), nominal.Minute(), nominal.Second(), nominal.Nanosecond(), occ.Location())
		return &due
	}
	if off := ParseOffset(t.Task.DueIn); off > 0 {
		due := occ.Add(off)
		return &due
	}
	return nil
}

// ValidateTemplate checks a template before it is stored. The returned
// *validation.Error lists every violation.
func ValidateTemplate(t Template) error {
	var extra []string
	if t.Pattern.MaxOccurrences > 0 && t.OccurrenceCount > t.Pattern.MaxOccurrences {
		extra = append(extra, fmt.Sprintf("occurrence count %d exceeds max occurrences %d", t.OccurrenceCount, t.Pattern.MaxOccurrences))
	}
	if t.OccurrenceCount < 0 {
		extra = append(extra, "occurrence count must be >= 0")
	}
	return validation.Struct("template", t, func(fe validator.FieldError) string {
		switch fe.StructNamespace() {
		case "Template.Name":
			return "name is required"
		case "Template.Task.Title":
			return "task title is required"
		case "Template.Pattern.Type":
			return fmt.Sprintf("unknown recurrence type %q (valid: %s)", fe.Value(), validation.FormatValidValues([]Type{Daily, Weekly, Monthly, Yearly}))
		case "Template.Pattern.Interval":
			return "interval must be >= 0"
		case "Template.Pattern.DayOfMonth":
			return "day of month must be between 1 and 31"
		case "Template.Pattern.MaxOccurrences":
			return "max occurrences must be >= 0"
		}
		if strings.HasPrefix(fe.StructNamespace(), "Template.Pattern.DaysOfWeek[") {
			return fmt.Sprintf("day of week %v must be between 0 and 6", fe.Value())
		}
		return ""
	}, extra...)
}
