package app

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"taskflow/internal/config"
	"taskflow/internal/notifier"
	"taskflow/internal/scheduler"
	"taskflow/internal/storage"
	"taskflow/internal/workflow"
	"taskflow/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, nil
	}
	out := storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}
	if driver == "sqlite" || driver == "sqlite3" {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	}
	return out, nil
}

func mapNotifier(cfg *config.Config) (notifier.Config, error) {
	n := cfg.NotifierOrDefault()
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	// An explicit "0s" disables dedup.
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	if strings.TrimSpace(n.DedupWindow) == "" {
		dedupWindow = time.Minute
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		SendTimeout:     sendTimeout,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

// buildSender picks the delivery backend for notifier.sink.
func buildSender(cfg *config.Config, log logx.Logger) (notifier.Sender, error) {
	n := cfg.NotifierOrDefault()
	logSender := notifier.LogSender{Log: log.Component("notify.log")}
	sink := n.SinkName()
	if sink == "log" {
		return logSender, nil
	}
	if n.Telegram == nil {
		return nil, errors.New("notifier.telegram is required for sink " + sink)
	}
	tg, err := notifier.NewTelegramSender(notifier.TelegramConfig{
		Token:       n.Telegram.Token,
		APIURL:      n.Telegram.APIURL,
		Chats:       maps.Clone(n.Telegram.Chats),
		DefaultChat: n.Telegram.DefaultChat,
		ThreadID:    n.Telegram.ThreadID,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram sender: %w", err)
	}
	switch sink {
	case "telegram":
		return tg, nil
	case "both":
		return notifier.Multi{logSender, tg}, nil
	default:
		return nil, fmt.Errorf("unknown notifier.sink %q", sink)
	}
}

// senderChanged reports whether the delivery backend differs. The notifier
// keeps its sender for its lifetime, so such a change needs a restart.
func senderChanged(oldCfg, newCfg *config.Config) bool {
	o, n := oldCfg.NotifierOrDefault(), newCfg.NotifierOrDefault()
	if o.SinkName() != n.SinkName() {
		return true
	}
	ot, nt := o.Telegram, n.Telegram
	switch {
	case ot == nil && nt == nil:
		return false
	case ot == nil || nt == nil:
		return true
	}
	return ot.Token != nt.Token || ot.APIURL != nt.APIURL || ot.DefaultChat != nt.DefaultChat ||
		ot.ThreadID != nt.ThreadID || !maps.Equal(ot.Chats, nt.Chats)
}

func mapScheduler(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	timeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", sc.DefaultTimeout, 2*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	for key, raw := range map[string]string{
		"scheduler.catchup": sc.CatchupSchedule(),
		"scheduler.overdue": sc.OverdueSchedule(),
	} {
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			return scheduler.Config{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	return scheduler.Config{
		Enabled:        sc.Enabled,
		Timezone:       strings.TrimSpace(sc.Timezone),
		DefaultTimeout: timeout,
	}, nil
}

func dueSoonWindow(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("automation.due_soon_window", cfg.Automation.DueSoonWindow, 0)
}

func mapWorkflow(cfg *config.Config) (workflow.Options, error) {
	d, err := dueSoonWindow(cfg)
	if err != nil {
		return workflow.Options{}, err
	}
	return workflow.Options{DueSoonWindow: d}, nil
}

// validateReload rejects a config the running app could not apply.
func validateReload(cfg *config.Config) error {
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapNotifier(cfg); err != nil {
		return err
	}
	if _, err := mapScheduler(cfg); err != nil {
		return err
	}
	_, err := dueSoonWindow(cfg)
	return err
}
