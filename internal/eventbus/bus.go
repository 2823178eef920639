package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by the workflow host and the notifier.
const (
	TopicAutomationApplied    = "automation.applied"
	TopicRecurrenceGenerated  = "recurrence.generated"
	TopicDependencyAdded      = "dependency.added"
	TopicTaskBlocked          = "task.blocked"
	TopicTaskOverdue          = "task.overdue"
	TopicNotificationQueued   = "notifier.queued"
	TopicNotificationSent     = "notifier.sent"
	TopicNotificationFailed   = "notifier.failed"
	TopicNotificationDeduped  = "notifier.deduped"
	TopicNotificationDropped  = "notifier.dropped"
	TopicConfigReloaded       = "config.reloaded"
	TopicSchedulerJobFinished = "scheduler.job_finished"
)

// Event is an in-memory signal. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &fanout{subs: map[uint64]chan Event{}}
}

// Nop discards everything. Subscribe returns a channel that never fires.
func Nop() Bus { return nopBus{} }

// Emit publishes to b when b is non-nil.
func Emit(b Bus, topic string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: topic, Data: data})
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		deliver(ch, e)
	}
}

// deliver drops the event when ch is full. A concurrent unsubscribe may close
// ch between the snapshot and the send.
func deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.next.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	return make(chan Event), func() {}
}
