package storage

import (
	"fmt"
	"strings"

	"taskflow/pkg/logx"
)

// Open initializes the configured store. It returns ErrDisabled when the
// driver is empty or "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.Component("storage").With(logx.String("driver", driver))

	switch driver {
	case "", "none":
		return nil, ErrDisabled
	case "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
