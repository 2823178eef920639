package recurrence

import (
	"time"

	"github.com/google/uuid"

	"taskflow/internal/model"
)

// Result is the output of GenerateDue.
type Result struct {
	// Tasks are the materialized occurrences, grouped by template in input
	// order and sorted by date within a template.
	Tasks []model.Task

	// Templates holds the templates whose bookkeeping changed.
	Templates []Template

	// Skipped lists enabled, in-scope templates that have neither a
	// LastGeneratedAt nor a CreatedAt to start from.
	Skipped []string
}

// Generator materializes occurrences. The zero value uses random UUIDs.
type Generator struct {
	// NewID returns the id for each generated task.
	NewID func() string
}

func (g *Generator) newID() string {
	if g != nil && g.NewID != nil {
		return g.NewID()
	}
	return uuid.NewString()
}

// GenerateDue uses a zero Generator.
func GenerateDue(templates []Template, board string, now time.Time) Result {
	var g Generator
	return g.GenerateDue(templates, board, now)
}

// GenerateDue materializes every occurrence that is due at now for the
// enabled templates whose scope matches board. Dates are computed in now's
// location. The input templates are not modified.
func (g *Generator) GenerateDue(templates []Template, board string, now time.Time) Result {
	var out Result
	loc := now.Location()
	for _, src := range templates {
		if !src.Enabled || !src.Scope.Matches(board) {
			continue
		}

		seed := src.CreatedAt
		if src.LastGeneratedAt != nil {
			seed = *src.LastGeneratedAt
		}
		if seed.IsZero() {
			out.Skipped = append(out.Skipped, src.ID)
			continue
		}

		tpl := src.Clone()
		cursor := StartOfDay(seed, loc)
		generated := 0
		for {
			occ, ok := Next(tpl.Pattern, cursor, tpl.OccurrenceCount)
			if !ok || occ.After(now) {
				break
			}
			out.Tasks = append(out.Tasks, g.materialize(tpl, board, occ))

			tpl.OccurrenceCount++
			last := occ
			tpl.LastGeneratedAt = &last
			cursor = occ
			generated++
		}
		if generated > 0 {
			out.Templates = append(out.Templates, tpl)
		}
	}
	return out
}

func (g *Generator) materialize(tpl Template, board string, occ time.Time) model.Task {
	tt := tpl.Task
	t := model.Task{
		ID:          g.newID(),
		BoardID:     board,
		Title:       tt.Title,
		Description: tt.Description,
		Status:      model.StatusTodo,
		Priority:    tt.Priority,
		Category:    tt.Category,
		AssignedTo:  tt.AssignedTo,
		DueDate:     tpl.dueFor(occ),
		TemplateID:  tpl.ID,
		CreatedAt:   occ,
		UpdatedAt:   occ,
	}
	if len(tt.Labels) > 0 {
		t.Labels = append([]string(nil), tt.Labels...)
	}
	return t
}
