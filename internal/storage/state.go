package storage

import (
	"slices"
	"time"

	"taskflow/internal/automation"
	"taskflow/internal/model"
	"taskflow/internal/recurrence"
)

// state is the record set shared by the memory and file drivers. Callers
// hold the owning store's lock.
type state struct {
	Rules     []automation.Rule     `json:"rules"`
	Templates []recurrence.Template `json:"templates"`
	Tasks     []model.Task          `json:"tasks"`

	audit []AuditEntry
	dedup map[string]int64 // unix milli
}

func newState() *state {
	return &state{dedup: map[string]int64{}}
}

func (s *state) rules(board string) []automation.Rule {
	out := make([]automation.Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if board == "" || r.Scope.Matches(board) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (s *state) putRule(r automation.Rule) {
	r = r.Clone()
	if i := slices.IndexFunc(s.Rules, func(x automation.Rule) bool { return x.ID == r.ID }); i >= 0 {
		s.Rules[i] = r
		return
	}
	s.Rules = append(s.Rules, r)
}

func (s *state) deleteRule(id string) bool {
	n := len(s.Rules)
	s.Rules = slices.DeleteFunc(s.Rules, func(x automation.Rule) bool { return x.ID == id })
	return len(s.Rules) != n
}

func (s *state) templates(board string) []recurrence.Template {
	out := make([]recurrence.Template, 0, len(s.Templates))
	for _, t := range s.Templates {
		if board == "" || t.Scope.Matches(board) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *state) putTemplate(t recurrence.Template) {
	t = t.Clone()
	if i := slices.IndexFunc(s.Templates, func(x recurrence.Template) bool { return x.ID == t.ID }); i >= 0 {
		s.Templates[i] = t
		return
	}
	s.Templates = append(s.Templates, t)
}

func (s *state) deleteTemplate(id string) bool {
	n := len(s.Templates)
	s.Templates = slices.DeleteFunc(s.Templates, func(x recurrence.Template) bool { return x.ID == id })
	return len(s.Templates) != n
}

func (s *state) tasks(board string) []model.Task {
	out := make([]model.Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		if board == "" || t.BoardID == board {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *state) task(id string) (model.Task, bool) {
	i := slices.IndexFunc(s.Tasks, func(x model.Task) bool { return x.ID == id })
	if i < 0 {
		return model.Task{}, false
	}
	return s.Tasks[i].Clone(), true
}

func (s *state) putTask(t model.Task) {
	t = t.Clone()
	if i := slices.IndexFunc(s.Tasks, func(x model.Task) bool { return x.ID == t.ID }); i >= 0 {
		s.Tasks[i] = t
		return
	}
	s.Tasks = append(s.Tasks, t)
}

func (s *state) commit(b Batch) {
	for _, t := range b.Tasks {
		s.putTask(t)
	}
	for _, t := range b.Templates {
		s.putTemplate(t)
	}
}

func (s *state) recentAudit(n int) []AuditEntry {
	if n <= 0 || n > len(s.audit) {
		n = len(s.audit)
	}
	return slices.Clone(s.audit[len(s.audit)-n:])
}

func (s *state) getDedup(key string) (time.Time, bool) {
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func pruneExpiredDedup(m map[string]int64, now time.Time) {
	cut := now.UnixMilli()
	for k, v := range m {
		if v < cut {
			delete(m, k)
		}
	}
}
