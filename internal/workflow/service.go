package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/automation"
	"taskflow/internal/eventbus"
	"taskflow/internal/model"
	"taskflow/internal/recurrence"
	"taskflow/internal/storage"
	"taskflow/pkg/logx"
)

// Repository is the persistence the service needs. storage.Store satisfies it.
type Repository interface {
	ListRules(ctx context.Context, board string) ([]automation.Rule, error)
	PutRule(ctx context.Context, r automation.Rule) error
	DeleteRule(ctx context.Context, id string) error

	ListTemplates(ctx context.Context, board string) ([]recurrence.Template, error)
	PutTemplate(ctx context.Context, t recurrence.Template) error
	DeleteTemplate(ctx context.Context, id string) error

	ListTasks(ctx context.Context, board string) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	PutTask(ctx context.Context, t model.Task) error
	Commit(ctx context.Context, b storage.Batch) error

	AppendAudit(ctx context.Context, e storage.AuditEntry) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Notifier receives the notifications produced by rules.
type Notifier interface {
	Notify(ctx context.Context, n automation.Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n automation.Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n automation.Notification) error { return f(ctx, n) }

type Options struct {
	// DueSoonWindow is passed to the automation engine.
	DueSoonWindow time.Duration

	// OverdueMemory is how long a fired task-overdue is remembered for one
	// (task, due date) pair. Zero means DefaultOverdueMemory.
	OverdueMemory time.Duration

	// Now and NewID default to time.Now and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

const DefaultOverdueMemory = 365 * 24 * time.Hour

// Service runs the engines against a Repository.
type Service struct {
	repo   Repository
	notify Notifier
	log    logx.Logger
	bus    eventbus.Bus

	engine atomic.Pointer[automation.Engine]
	gen    *recurrence.Generator

	overdueMemory time.Duration
	now           func() time.Time
	newID         func() string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(repo Repository, notify Notifier, log logx.Logger, bus eventbus.Bus, opts Options) *Service {
	s := &Service{
		repo:          repo,
		notify:        notify,
		log:           log.Component("workflow"),
		bus:           bus,
		overdueMemory: opts.OverdueMemory,
		now:           opts.Now,
		newID:         opts.NewID,
		locks:         map[string]*sync.Mutex{},
	}
	if s.overdueMemory <= 0 {
		s.overdueMemory = DefaultOverdueMemory
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.gen = &recurrence.Generator{NewID: s.newID}
	s.SetDueSoonWindow(opts.DueSoonWindow)
	return s
}

// SetDueSoonWindow replaces the automation engine; used on config reload.
func (s *Service) SetDueSoonWindow(d time.Duration) {
	s.engine.Store(automation.New(automation.Options{DueSoonWindow: d}))
}

// lockBoard serializes writes for one board and returns the unlock func.
func (s *Service) lockBoard(board string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[board]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[board] = mu
	}
	s.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = s.now()
	}
	if err := s.repo.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", e.Action), logx.String("task_id", e.TaskID), logx.Err(err))
	}
}
