package config

import (
	"maps"
	"slices"
	"sort"
	"strings"

	"taskflow/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and log fields
// describing the new values. Secrets such as the Telegram token are reported
// only as present or absent.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := oldCfg.Storage, newCfg.Storage
	if !strings.EqualFold(strings.TrimSpace(oldS.Driver), strings.TrimSpace(newS.Driver)) ||
		strings.TrimSpace(oldS.Path) != strings.TrimSpace(newS.Path) ||
		strings.TrimSpace(oldS.BusyTimeout) != strings.TrimSpace(newS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	on, nn := oldCfg.NotifierOrDefault(), newCfg.NotifierOrDefault()
	if !notifierEqual(on, nn) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nn.Enabled),
			logx.String("notifier.sink", nn.SinkName()),
			logx.Int("notifier.workers", nn.Workers),
			logx.Int("notifier.queue_size", nn.QueueSize),
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
			logx.Bool("notifier.persist_dedup", nn.PersistDedup),
		)
		if nn.Telegram != nil {
			attrs = append(attrs,
				logx.Bool("notifier.telegram.token_set", strings.TrimSpace(nn.Telegram.Token) != ""),
				logx.Int("notifier.telegram.chat_count", len(nn.Telegram.Chats)),
			)
		}
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.catchup", newCfg.Scheduler.CatchupSchedule()),
			logx.String("scheduler.overdue", newCfg.Scheduler.OverdueSchedule()),
		)
	}

	if oldCfg.Automation != newCfg.Automation {
		changed = append(changed, "automation")
		attrs = append(attrs, logx.String("automation.due_soon_window", newCfg.Automation.DueSoonWindow))
	}

	if !slices.Equal(oldCfg.Boards, newCfg.Boards) {
		changed = append(changed, "boards")
		attrs = append(attrs, logx.Strings("boards", newCfg.Boards))
	}

	sort.Strings(changed)
	return changed, attrs
}

// notifierEqual compares every field, including the Telegram token. The
// token is compared but never returned.
func notifierEqual(a, b *NotifierConfig) bool {
	ta, tb := a.Telegram, b.Telegram
	a2, b2 := *a, *b
	a2.Telegram, b2.Telegram = nil, nil
	if a2 != b2 {
		return false
	}
	switch {
	case ta == nil && tb == nil:
		return true
	case ta == nil || tb == nil:
		return false
	}
	return ta.Token == tb.Token && ta.APIURL == tb.APIURL &&
		ta.DefaultChat == tb.DefaultChat && ta.ThreadID == tb.ThreadID &&
		maps.Equal(ta.Chats, tb.Chats)
}

