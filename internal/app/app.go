package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"taskflow/internal/config"
	"taskflow/internal/eventbus"
	"taskflow/internal/notifier"
	"taskflow/internal/runtime/supervisor"
	"taskflow/internal/scheduler"
	"taskflow/internal/storage"
	"taskflow/internal/workflow"
	"taskflow/pkg/logx"
)

const (
	JobCatchUp = "recurrence.catchup"
	JobOverdue = "tasks.overdue"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif *notifier.Service
	flow  *workflow.Service
	sched *scheduler.Service

	mu     sync.Mutex
	boards []string
	now    func() time.Time
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newWithConfig(cfgm, cfg)
}

func newWithConfig(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logs, root := logx.New(mapLogging(cfg))
	log := root.Component("app")

	sc, err := mapStorage(cfg)
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := storage.Open(sc, root)
	if errors.Is(err, storage.ErrDisabled) {
		logs.Close()
		return nil, errors.New("storage is disabled; set storage.driver to memory, file or sqlite")
	}
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	fail := func(err error) (*App, error) {
		_ = store.Close()
		logs.Close()
		return nil, err
	}

	bus := eventbus.New()

	ncfg, err := mapNotifier(cfg)
	if err != nil {
		return fail(err)
	}
	sender, err := buildSender(cfg, root)
	if err != nil {
		return fail(err)
	}
	notif := notifier.New(ncfg, sender, root, bus, store)

	wopts, err := mapWorkflow(cfg)
	if err != nil {
		return fail(err)
	}
	flow := workflow.New(store, notif, root, bus, wopts)

	schedCfg, err := mapScheduler(cfg)
	if err != nil {
		return fail(err)
	}
	sched := scheduler.New(schedCfg, root, bus)

	a := &App{
		cfgPath: cfgm.Path(),
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		notif:   notif,
		flow:    flow,
		sched:   sched,
		boards:  slices.Clone(cfg.Boards),
		now:     time.Now,
	}
	if err := a.registerJobs(cfg); err != nil {
		return fail(err)
	}
	return a, nil
}

func (a *App) Workflow() *workflow.Service   { return a.flow }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Bus() eventbus.Bus             { return a.bus }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) currentBoards() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.boards)
}

func (a *App) registerJobs(cfg *config.Config) error {
	if err := a.sched.Add(JobCatchUp, cfg.Scheduler.CatchupSchedule(), 0, a.catchUpJob); err != nil {
		return err
	}
	return a.sched.Add(JobOverdue, cfg.Scheduler.OverdueSchedule(), 0, a.overdueJob)
}

// catchUpJob generates due recurring tasks for every configured board.
func (a *App) catchUpJob(ctx context.Context) error {
	now := a.now().In(a.sched.Location())
	var errs []error
	for _, board := range a.currentBoards() {
		res, err := a.flow.CatchUp(ctx, board, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("board %s: %w", board, err))
			continue
		}
		if len(res.Tasks) > 0 {
			a.log.Debug("catch-up done", logx.String("board", board), logx.Int("tasks", len(res.Tasks)))
		}
	}
	return errors.Join(errs...)
}

func (a *App) overdueJob(ctx context.Context) error {
	now := a.now()
	var errs []error
	for _, board := range a.currentBoards() {
		if _, err := a.flow.SweepOverdue(ctx, board, now); err != nil {
			errs = append(errs, fmt.Errorf("board %s: %w", board, err))
		}
	}
	return errors.Join(errs...)
}

// RunOnce runs one catch-up and one overdue sweep for every configured
// board, waits for queued notifications and returns. It does not need Start.
func (a *App) RunOnce(ctx context.Context) error {
	a.notif.Start(ctx)
	errs := []error{
		a.sched.RunNow(ctx, JobCatchUp),
		a.sched.RunNow(ctx, JobOverdue),
	}
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.notif.Stop(stopCtx)
	return errors.Join(errs...)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.logs.Logger())
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateReload(cfg)
	})

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(c, last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithMaxRestarts(5),
	)

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Strings("boards", a.currentBoards()),
		logx.Bool("scheduler", a.sched.Enabled()),
	)
	return nil
}

// applyConfig applies a reloaded config. Storage and sender changes need a
// restart; everything else is applied live.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLogging(newCfg))
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if slices.Contains(sections, "notifier") {
		if senderChanged(oldCfg, newCfg) {
			a.log.Warn("notifier sink changed; restart required for changes to take effect")
		}
		if ncfg, err := mapNotifier(newCfg); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			prev := a.notif.Enabled()
			a.notif.Apply(ncfg)
			switch {
			case prev && !ncfg.Enabled:
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
				a.log.Info("notifier disabled via config")
			case !prev && ncfg.Enabled:
				a.notif.Start(ctx)
				a.log.Info("notifier enabled via config")
			}
		}
	}

	if slices.Contains(sections, "automation") {
		if d, err := dueSoonWindow(newCfg); err == nil {
			a.flow.SetDueSoonWindow(d)
		}
	}

	if slices.Contains(sections, "boards") {
		a.mu.Lock()
		a.boards = slices.Clone(newCfg.Boards)
		a.mu.Unlock()
	}

	if slices.Contains(sections, "scheduler") {
		a.applyScheduler(ctx, oldCfg, newCfg)
	}

	eventbus.Emit(a.bus, eventbus.TopicConfigReloaded, sections)
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyScheduler(ctx context.Context, oldCfg, newCfg *config.Config) {
	sc, err := mapScheduler(newCfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	prev := a.sched.Enabled()
	a.sched.Apply(sc)
	if oldCfg.Scheduler.CatchupSchedule() != newCfg.Scheduler.CatchupSchedule() ||
		oldCfg.Scheduler.OverdueSchedule() != newCfg.Scheduler.OverdueSchedule() {
		if err := a.registerJobs(newCfg); err != nil {
			a.log.Warn("job schedules not updated", logx.Err(err))
		}
	}
	switch {
	case prev && !sc.Enabled:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
		a.log.Info("scheduler disabled via config")
	case !prev && sc.Enabled:
		a.sched.Start(ctx)
		a.log.Info("scheduler enabled via config")
	}
}

// Stop shuts components down in dependency order. Each step is bounded so
// one component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
