package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskflow/internal/automation"
	"taskflow/internal/model"
	"taskflow/internal/recurrence"
)

// auditRetain bounds the in-memory audit tail.
const auditRetain = 1000

type memoryStore struct {
	mu     sync.Mutex
	st     *state
	closed bool
}

// NewMemory returns an empty process-local store.
func NewMemory() Store {
	return &memoryStore{st: newState()}
}

func (m *memoryStore) lock() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (m *memoryStore) ListRules(_ context.Context, board string) ([]automation.Rule, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.st.rules(board), nil
}

func (m *memoryStore) PutRule(_ context.Context, r automation.Rule) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.st.putRule(r)
	return nil
}

func (m *memoryStore) DeleteRule(_ context.Context, id string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if !m.st.deleteRule(id) {
		return fmt.Errorf("rule %q: %w", id, ErrNotFound)
	}
	return nil
}

func (m *memoryStore) ListTemplates(_ context.Context, board string) ([]recurrence.Template, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.st.templates(board), nil
}

func (m *memoryStore) PutTemplate(_ context.Context, t recurrence.Template) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.st.putTemplate(t)
	return nil
}

func (m *memoryStore) DeleteTemplate(_ context.Context, id string) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if !m.st.deleteTemplate(id) {
		return fmt.Errorf("template %q: %w", id, ErrNotFound)
	}
	return nil
}

func (m *memoryStore) ListTasks(_ context.Context, board string) ([]model.Task, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.st.tasks(board), nil
}

func (m *memoryStore) GetTask(_ context.Context, id string) (model.Task, error) {
	if err := m.lock(); err != nil {
		return model.Task{}, err
	}
	defer m.mu.Unlock()
	t, ok := m.st.task(id)
	if !ok {
		return model.Task{}, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *memoryStore) PutTask(_ context.Context, t model.Task) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.st.putTask(t)
	return nil
}

func (m *memoryStore) Commit(_ context.Context, b Batch) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.st.commit(b)
	return nil
}

func (m *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.st.audit = appendAuditTail(m.st.audit, e)
	return nil
}

func (m *memoryStore) RecentAudit(_ context.Context, n int) ([]AuditEntry, error) {
	if err := m.lock(); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	return m.st.recentAudit(n), nil
}

func (m *memoryStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := m.lock(); err != nil {
		return err
	}
	defer m.mu.Unlock()
	m.st.dedup[key] = until.UnixMilli()
	return nil
}

func (m *memoryStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	if err := m.lock(); err != nil {
		return time.Time{}, false, err
	}
	defer m.mu.Unlock()
	until, ok := m.st.getDedup(strings.TrimSpace(key))
	return until, ok, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
