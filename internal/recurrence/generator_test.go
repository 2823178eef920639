package recurrence

import (
	"fmt"
	"testing"
	"time"
)

func seqIDs() *Generator {
	n := 0
	return &Generator{NewID: func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}}
}

func dailyTemplate() Template {
	return Template{
		ID:        "tpl",
		Name:      "standup",
		Enabled:   true,
		Task:      TaskTemplate{Title: "Standup notes", Labels: []string{"daily"}},
		Pattern:   Pattern{Type: Daily, Interval: 1},
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestGenerateDueCatchesUp(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)
	g := seqIDs()

	res := g.GenerateDue([]Template{dailyTemplate()}, "b1", now)

	if len(res.Tasks) != 4 {
		t.Fatalf("generated %d tasks, want 4", len(res.Tasks))
	}
	for i, tk := range res.Tasks {
		want := date(2025, 3, 2+i)
		if !tk.CreatedAt.Equal(want) {
			t.Fatalf("task %d CreatedAt = %v, want %v", i, tk.CreatedAt, want)
		}
		if tk.BoardID != "b1" || tk.TemplateID != "tpl" || tk.Status != "todo" || tk.Title != "Standup notes" {
			t.Fatalf("task %d = %+v", i, tk)
		}
		if tk.DueDate != nil {
			t.Fatalf("task %d has due date %v, want none", i, tk.DueDate)
		}
	}
	if res.Tasks[0].ID != "task-1" || res.Tasks[3].ID != "task-4" {
		t.Fatalf("ids = %s..%s", res.Tasks[0].ID, res.Tasks[3].ID)
	}

	if len(res.Templates) != 1 {
		t.Fatalf("updated templates = %d, want 1", len(res.Templates))
	}
	upd := res.Templates[0]
	if upd.OccurrenceCount != 4 {
		t.Fatalf("OccurrenceCount = %d, want 4", upd.OccurrenceCount)
	}
	if upd.LastGeneratedAt == nil || !upd.LastGeneratedAt.Equal(date(2025, 3, 5)) {
		t.Fatalf("LastGeneratedAt = %v, want 2025-03-05", upd.LastGeneratedAt)
	}

	// A second pass with the updated bookkeeping generates nothing new.
	again := g.GenerateDue(res.Templates, "b1", now)
	if len(again.Tasks) != 0 || len(again.Templates) != 0 {
		t.Fatalf("second pass generated %d tasks", len(again.Tasks))
	}
}

func TestGenerateDueDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []Template{dailyTemplate()}
	_ = GenerateDue(in, "b1", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	if in[0].OccurrenceCount != 0 || in[0].LastGeneratedAt != nil {
		t.Fatalf("input template mutated: %+v", in[0])
	}
}

func TestGenerateDueRespectsMaxOccurrences(t *testing.T) {
	t.Parallel()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	exhausted := dailyTemplate()
	exhausted.Pattern.MaxOccurrences = 3
	exhausted.OccurrenceCount = 3
	if res := GenerateDue([]Template{exhausted}, "b1", now); len(res.Tasks) != 0 {
		t.Fatalf("exhausted template generated %d tasks", len(res.Tasks))
	}

	partial := dailyTemplate()
	partial.Pattern.MaxOccurrences = 5
	partial.OccurrenceCount = 3
	res := GenerateDue([]Template{partial}, "b1", now)
	if len(res.Tasks) != 2 {
		t.Fatalf("generated %d tasks, want 2", len(res.Tasks))
	}
	if res.Templates[0].OccurrenceCount != 5 {
		t.Fatalf("OccurrenceCount = %d, want 5", res.Templates[0].OccurrenceCount)
	}
}

func TestGenerateDueStopsAtEndDate(t *testing.T) {
	t.Parallel()
	tpl := dailyTemplate()
	end := date(2025, 3, 3)
	tpl.Pattern.EndDate = &end
	res := GenerateDue([]Template{tpl}, "b1", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	if len(res.Tasks) != 2 {
		t.Fatalf("generated %d tasks, want 2 (Mar 2 and Mar 3)", len(res.Tasks))
	}
}

func TestGenerateDueFiltersTemplates(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	disabled := dailyTemplate()
	disabled.Enabled = false
	otherBoard := dailyTemplate()
	otherBoard.Scope = "b2"
	noSeed := dailyTemplate()
	noSeed.ID = "no-seed"
	noSeed.CreatedAt = time.Time{}

	res := GenerateDue([]Template{disabled, otherBoard, noSeed}, "b1", now)
	if len(res.Tasks) != 0 {
		t.Fatalf("generated %d tasks, want 0", len(res.Tasks))
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "no-seed" {
		t.Fatalf("Skipped = %v, want [no-seed]", res.Skipped)
	}
}

func TestGenerateDueResumesFromLastGenerated(t *testing.T) {
	t.Parallel()
	tpl := dailyTemplate()
	last := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	tpl.LastGeneratedAt = &last
	tpl.OccurrenceCount = 9

	res := GenerateDue([]Template{tpl}, "b1", time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC))
	if len(res.Tasks) != 1 || !res.Tasks[0].CreatedAt.Equal(date(2025, 3, 11)) {
		t.Fatalf("Tasks = %+v, want one on 2025-03-11", res.Tasks)
	}
}

func TestGenerateDueShiftsDueDate(t *testing.T) {
	t.Parallel()
	tpl := dailyTemplate()
	nominal := time.Date(2025, 3, 3, 17, 0, 0, 0, time.UTC) // two days after creation
	tpl.Task.DueDate = &nominal

	res := GenerateDue([]Template{tpl}, "b1", time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC))
	if len(res.Tasks) != 2 {
		t.Fatalf("generated %d tasks, want 2", len(res.Tasks))
	}
	wants := []time.Time{
		time.Date(2025, 3, 4, 17, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 5, 17, 0, 0, 0, time.UTC),
	}
	for i, w := range wants {
		if got := res.Tasks[i].DueDate; got == nil || !got.Equal(w) {
			t.Fatalf("task %d due = %v, want %v", i, got, w)
		}
	}
}

func TestGenerateDueShiftsDueDateAcrossMonthEnd(t *testing.T) {
	t.Parallel()
	tpl := Template{
		ID:        "rent",
		Name:      "rent",
		Enabled:   true,
		Task:      TaskTemplate{Title: "Pay rent"},
		Pattern:   Pattern{Type: Monthly, DayOfMonth: 31},
		CreatedAt: time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC),
	}
	nominal := time.Date(2025, 2, 2, 12, 0, 0, 0, time.UTC) // two days later
	tpl.Task.DueDate = &nominal

	res := GenerateDue([]Template{tpl}, "b1", time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
	if len(res.Tasks) != 2 {
		t.Fatalf("generated %d tasks, want 2", len(res.Tasks))
	}
	// Feb 28 + 2 days rolls into March; Mar 31 + 2 days rolls into April.
	wants := []time.Time{
		time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC),
	}
	for i, w := range wants {
		if got := res.Tasks[i].DueDate; got == nil || !got.Equal(w) {
			t.Fatalf("task %d due = %v, want %v", i, got, w)
		}
	}
}

func TestGenerateDueRelativeDueIn(t *testing.T) {
	t.Parallel()
	tpl := dailyTemplate()
	tpl.Task.DueIn = "1d12h"
	res := GenerateDue([]Template{tpl}, "b1", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	if len(res.Tasks) != 1 {
		t.Fatalf("generated %d tasks, want 1", len(res.Tasks))
	}
	want := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	if got := res.Tasks[0].DueDate; got == nil || !got.Equal(want) {
		t.Fatalf("due = %v, want %v", got, want)
	}

	tpl.Task.DueIn = "whenever"
	res = GenerateDue([]Template{tpl}, "b1", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	if res.Tasks[0].DueDate != nil {
		t.Fatalf("malformed DueIn should yield no due date, got %v", res.Tasks[0].DueDate)
	}
}
