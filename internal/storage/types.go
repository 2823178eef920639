package storage

import (
	"context"
	"errors"
	"time"

	"taskflow/internal/automation"
	"taskflow/internal/model"
	"taskflow/internal/recurrence"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("storage closed")
)

// Config selects and configures a driver.
//
// Driver values: "memory", "file", "sqlite". Empty or "none" disables
// storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one state change made by the host.
type AuditEntry struct {
	At      time.Time `json:"at"`
	BoardID string    `json:"board_id,omitempty"`
	Actor   string    `json:"actor,omitempty"` // "rule", "recurrence", "user", "sweep"
	Action  string    `json:"action"`
	TaskID  string    `json:"task_id,omitempty"`
	RuleID  string    `json:"rule_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Batch is a set of writes applied together.
type Batch struct {
	Tasks     []model.Task
	Templates []recurrence.Template
}

func (b Batch) Empty() bool { return len(b.Tasks) == 0 && len(b.Templates) == 0 }

// Store is the persistence API of the workflow host. List methods return
// records in insertion order. board "" lists every board; otherwise rules
// and templates are filtered by their scope and tasks by BoardID.
type Store interface {
	ListRules(ctx context.Context, board string) ([]automation.Rule, error)
	PutRule(ctx context.Context, r automation.Rule) error
	DeleteRule(ctx context.Context, id string) error

	ListTemplates(ctx context.Context, board string) ([]recurrence.Template, error)
	PutTemplate(ctx context.Context, t recurrence.Template) error
	DeleteTemplate(ctx context.Context, id string) error

	ListTasks(ctx context.Context, board string) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	PutTask(ctx context.Context, t model.Task) error

	// Commit upserts every record in b in one step.
	Commit(ctx context.Context, b Batch) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, n int) ([]AuditEntry, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
