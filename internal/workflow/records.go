package workflow

import (
	"context"
	"fmt"
	"strings"

	"taskflow/internal/automation"
	"taskflow/internal/recurrence"
	"taskflow/internal/storage"
)

// CreateRule validates and stores r. A missing ID or CreatedAt is filled in.
func (s *Service) CreateRule(ctx context.Context, r automation.Rule) (automation.Rule, error) {
	r = r.Clone()
	r.ID = strings.TrimSpace(r.ID)
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if err := automation.ValidateRule(r); err != nil {
		return automation.Rule{}, err
	}
	if r.ID == "" {
		r.ID = s.newID()
	}
	if err := s.repo.PutRule(ctx, r); err != nil {
		return automation.Rule{}, fmt.Errorf("save rule: %w", err)
	}
	s.audit(ctx, storage.AuditEntry{BoardID: string(r.Scope), Actor: "user", Action: "rule.saved", RuleID: r.ID, Detail: r.Name})
	return r, nil
}

func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	if err := s.repo.DeleteRule(ctx, id); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	s.audit(ctx, storage.AuditEntry{Actor: "user", Action: "rule.deleted", RuleID: id})
	return nil
}

// CreateTemplate validates and stores t. A missing ID or CreatedAt is
// filled in; CreatedAt seeds the first occurrence.
func (s *Service) CreateTemplate(ctx context.Context, t recurrence.Template) (recurrence.Template, error) {
	t = t.Clone()
	t.ID = strings.TrimSpace(t.ID)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if err := recurrence.ValidateTemplate(t); err != nil {
		return recurrence.Template{}, err
	}
	if t.ID == "" {
		t.ID = s.newID()
	}
	if err := s.repo.PutTemplate(ctx, t); err != nil {
		return recurrence.Template{}, fmt.Errorf("save template: %w", err)
	}
	s.audit(ctx, storage.AuditEntry{BoardID: string(t.Scope), Actor: "user", Action: "template.saved", Detail: t.ID})
	return t, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	if err := s.repo.DeleteTemplate(ctx, id); err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	s.audit(ctx, storage.AuditEntry{Actor: "user", Action: "template.deleted", Detail: id})
	return nil
}
