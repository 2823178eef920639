package config

import "strings"

// Config is the on-disk configuration. JSON and YAML are accepted; unknown
// keys are rejected.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Notifier   *NotifierConfig  `json:"notifier,omitempty"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Automation AutomationConfig `json:"automation"`

	// Boards are the board ids the scheduled jobs run for.
	Boards []string `json:"boards" validate:"dive,notblank"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/taskflow.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=memory mem file sqlite sqlite3 none"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// NotifierConfig controls notification delivery. Durations are Go duration
// strings ("500ms", "10s"). An omitted section means enabled with defaults
// and the log sink.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Sink            string `json:"sink,omitempty" validate:"omitempty,oneof=log telegram both"`
	Workers         int    `json:"workers" validate:"min=0"`
	QueueSize       int    `json:"queue_size" validate:"min=0"`
	RatePerSec      int    `json:"rate_per_sec" validate:"min=0"`
	RetryMax        int    `json:"retry_max" validate:"min=0"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries" validate:"min=0"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig routes notifications to Telegram chats. Token is never logged.
type TelegramConfig struct {
	Token       string           `json:"token"`
	APIURL      string           `json:"api_url,omitempty"`
	Chats       map[string]int64 `json:"chats,omitempty"`
	DefaultChat int64            `json:"default_chat,omitempty"`
	ThreadID    int              `json:"thread_id,omitempty"`
}

// SchedulerConfig controls when the host pulls recurrence catch-up and the
// overdue sweep.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	// DefaultTimeout bounds each job run. Empty means 2m.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// Catchup and Overdue are schedule strings: cron, "@hourly", "15m", "01:00".
	Catchup string `json:"catchup,omitempty"`
	Overdue string `json:"overdue,omitempty"`
}

const (
	DefaultCatchupSchedule = "@hourly"
	DefaultOverdueSchedule = "*/15 * * * *"
)

func (c SchedulerConfig) CatchupSchedule() string {
	return orDefault(c.Catchup, DefaultCatchupSchedule)
}

func (c SchedulerConfig) OverdueSchedule() string {
	return orDefault(c.Overdue, DefaultOverdueSchedule)
}

type AutomationConfig struct {
	// DueSoonWindow is how far ahead "due-soon" looks, e.g. "72h" or "3d".
	DueSoonWindow string `json:"due_soon_window,omitempty"`
}

// DefaultNotifier is the notifier section used when it is omitted.
func DefaultNotifier() *NotifierConfig {
	return &NotifierConfig{
		Enabled:         true,
		Sink:            "log",
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		SendTimeout:     "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
}

func (c *Config) NotifierOrDefault() *NotifierConfig {
	if c == nil || c.Notifier == nil {
		return DefaultNotifier()
	}
	return c.Notifier
}

// SinkName returns the configured sink, "log" when unset.
func (n *NotifierConfig) SinkName() string {
	if n == nil {
		return "log"
	}
	return orDefault(strings.ToLower(n.Sink), "log")
}
