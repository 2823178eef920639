package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskflow/internal/automation"
	"taskflow/internal/eventbus"
	rtsup "taskflow/internal/runtime/supervisor"
	"taskflow/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// DedupStore persists dedup windows across restarts. storage.Store
// satisfies it.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

type job struct {
	n   automation.Notification
	key string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// historySize bounds the delivered-notification history.
const historySize = 300

// Service is the async notification pipeline. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	store  DedupStore

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	pending   sync.WaitGroup // in-flight Notify calls
	queue     chan job
	persistCh chan dedupWrite
	sup       *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds a stopped Service. store may be nil.
func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store DedupStore) *Service {
	s := &Service{
		sender: sender,
		log:    log.Component("notifier"),
		bus:    bus,
		store:  store,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply changes rate, retry and dedup settings. Worker count and queue size
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg.withDefaults()
	s.limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSec), s.cfg.RatePerSec)
}

// Start launches the workers. It is a no-op when disabled or running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
		pch := s.persistCh
		s.sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch)
			return nil
		})
	}
	q := s.queue
	for i := range s.cfg.Workers {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
}

// Stop refuses new notifications and drains the queue until ctx ends, after
// which the workers are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	q, pch, sup := s.queue, s.persistCh, s.sup
	s.queue, s.persistCh, s.sup = nil, nil, nil
	s.mu.Unlock()

	// Only Notify writes to q and pch; none is in flight after this.
	s.pending.Wait()
	close(q)
	if pch != nil {
		close(pch)
	}

	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}
}

// Notify enqueues n. A duplicate inside the dedup window is dropped and nil
// is returned.
func (s *Service) Notify(ctx context.Context, n automation.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q, cfg, pch := s.queue, s.cfg, s.persistCh
	s.pending.Add(1)
	s.mu.Unlock()
	defer s.pending.Done()

	key := dedupKey(n)
	if cfg.DedupWindow > 0 && !s.dedupAllow(ctx, key, cfg, pch) {
		s.emit(eventbus.TopicNotificationDeduped, n, key, nil)
		return nil
	}

	s.emit(eventbus.TopicNotificationQueued, n, key, nil)
	select {
	case q <- job{n: n, key: key}:
		return nil
	default:
		s.emit(eventbus.TopicNotificationDropped, n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// History returns the most recent delivered notifications, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(n automation.Notification) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), UserID: n.UserID, TaskID: n.TaskID, Message: n.Message})
	if over := len(s.history) - historySize; over > 0 {
		s.history = s.history[over:]
	}
	s.hmu.Unlock()
}

func (s *Service) emit(topic string, n automation.Notification, key string, err error) {
	ev := Event{UserID: n.UserID, TaskID: n.TaskID, RuleID: n.RuleID, Key: key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Emit(s.bus, topic, ev)
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := s.store.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()
	if s.sender == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := s.sender.Send(callCtx, j.n)
		cancel()
		if err == nil {
			s.appendHistory(j.n)
			s.emit(eventbus.TopicNotificationSent, j.n, j.key, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if errors.Is(err, ErrNoRoute) || attempt == attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("notification not delivered", logx.String("user", j.n.UserID), logx.String("task", j.n.TaskID), logx.Err(lastErr))
	s.emit(eventbus.TopicNotificationFailed, j.n, j.key, lastErr)
}

func dedupKey(n automation.Notification) string {
	h := fnv.New64a()
	for _, part := range []string{n.UserID, n.Type, n.TaskID, n.Message} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("notify:%x", h.Sum64())
}

// dedupAllow reports whether key is outside its suppression window and, if
// so, opens a new one.
func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, pch chan<- dedupWrite) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > cfg.DedupMaxEntries {
		oldest, first := "", time.Time{}
		for k, u := range s.dedup {
			if oldest == "" || u.Before(first) {
				oldest, first = k, u
			}
		}
		delete(s.dedup, oldest)
	}
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// retryDelay is the wait before attempt+1: base doubled per attempt, capped,
// with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(min(d, cfg.RetryMaxDelay)) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}
