package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"taskflow/internal/validation"
)

// Validate checks field constraints and every duration string. It reports
// all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var extra []string
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			extra = append(extra, err.Error())
		}
	}
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)
	check("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout)
	check("automation.due_soon_window", cfg.Automation.DueSoonWindow)
	if n := cfg.Notifier; n != nil {
		check("notifier.retry_base", n.RetryBase)
		check("notifier.retry_max_delay", n.RetryMaxDelay)
		check("notifier.send_timeout", n.SendTimeout)
		check("notifier.dedup_window", n.DedupWindow)
		if (n.Sink == "telegram" || n.Sink == "both") && (n.Telegram == nil || strings.TrimSpace(n.Telegram.Token) == "") {
			extra = append(extra, "notifier.telegram.token is required for the telegram sink")
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			extra = append(extra, "storage.path is required for driver "+cfg.Storage.Driver)
		}
	}

	return validation.Struct("config", cfg, func(fe validator.FieldError) string {
		switch fe.StructNamespace() {
		case "Config.Storage.Driver":
			return fmt.Sprintf("storage.driver %q is not one of memory, file, sqlite, none", fe.Value())
		case "Config.Notifier.Sink":
			return fmt.Sprintf("notifier.sink %q is not one of log, telegram, both", fe.Value())
		}
		if strings.HasPrefix(fe.StructNamespace(), "Config.Boards[") {
			return "boards must not contain blank ids"
		}
		return ""
	}, extra...)
}
