package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskflow/internal/eventbus"
	"taskflow/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled        bool
	Timezone       string // IANA name, e.g. "Asia/Jakarta"; empty means Local
	DefaultTimeout time.Duration
}

// Job is the work a schedule fires.
type Job func(ctx context.Context) error

// ErrUnknownJob is returned by RunNow for an unregistered name.
var ErrUnknownJob = errors.New("unknown job")

type jobDef struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	run     Job
	entryID cron.EntryID
	spread  time.Duration

	// guarded by Service.mu
	runs    int
	lastRun time.Time
	lastErr string
}

// ScheduleInfo describes one registered job.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Runs    int
	LastRun time.Time
	LastErr string
}

// JobFinished is the payload of scheduler.job_finished events.
type JobFinished struct {
	Name  string        `json:"name"`
	Took  time.Duration `json:"took"`
	Error string        `json:"error,omitempty"`
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config
	loc *time.Location

	ctx  context.Context // parent of every run; set by Start
	c    *cron.Cron
	defs []*jobDef
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{cfg: cfg, log: log.Component("scheduler"), bus: bus, ctx: context.Background()}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Add registers job under name, replacing a job with the same name.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &jobDef{name: name, spec: ps, timeout: timeout, run: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Remove unregisters name. It reports whether a job was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	n := len(s.defs)
	s.defs = slices.DeleteFunc(s.defs, func(d *jobDef) bool {
		if d.name != name {
			return false
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		return true
	})
	return len(s.defs) != n
}

// Apply updates the config. A timezone change re-registers every job.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		// Running jobs finish on the old cron; waiting here would hold mu
		// against them.
		s.c.Stop()
		s.startLocked()
		s.log.Info("timezone changed; schedules re-registered", logx.String("tz", s.loc.String()))
	}
}

// Start begins firing jobs. Runs inherit ctx. A disabled service does not
// start, but RunNow still works.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.startLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.locationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
}

// Stop stops firing and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) registerLocked(d *jobDef) {
	job := cron.FuncJob(func() { _ = s.execute(d) })
	if d.spec.Kind == SpecInterval {
		sched, jitter := withStartupSpread(d.spec.Every, time.Now().In(s.loc), d.name)
		d.spread = jitter
		d.entryID = s.c.Schedule(sched, job)
	} else {
		id, err := s.c.AddJob(d.spec.Cron, job)
		if err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec.Cron), logx.Err(err))
			return
		}
		d.entryID = id
	}
	s.log.Debug("schedule registered",
		logx.String("name", d.name),
		logx.String("spec", d.spec.Spec()),
		logx.Duration("spread", d.spread))
}

// RunNow runs the named job synchronously.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var def *jobDef
	for _, d := range s.defs {
		if d.name == name {
			def = d
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}
	return s.executeCtx(ctx, def)
}

func (s *Service) execute(d *jobDef) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	return s.executeCtx(ctx, d)
}

func (s *Service) executeCtx(ctx context.Context, d *jobDef) error {
	s.mu.Lock()
	timeout := d.timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	s.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.run(ctx)
	took := time.Since(start)

	s.mu.Lock()
	d.runs++
	d.lastRun = start
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	s.mu.Unlock()

	ev := JobFinished{Name: d.name, Took: took}
	if err != nil {
		ev.Error = err.Error()
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("job finished", logx.String("name", d.name), logx.Duration("took", took))
	}
	eventbus.Emit(s.bus, eventbus.TopicSchedulerJobFinished, ev)
	return err
}

// Snapshot lists registered jobs in registration order.
func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec.Spec(),
			Timeout: d.timeout,
			Runs:    d.runs,
			LastRun: d.lastRun,
			LastErr: d.lastErr,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the zone jobs fire in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.locationLocked()
}
