package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"taskflow/internal/automation"
	"taskflow/internal/model"
	"taskflow/internal/recurrence"
	"taskflow/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes them anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}
	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("sqlite storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func listJSON[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scopeQuery(table, board string) (string, []any) {
	board = strings.TrimSpace(board)
	if board == "" {
		return "SELECT data FROM " + table + " ORDER BY seq", nil
	}
	return "SELECT data FROM " + table + " WHERE scope IN ('', ?, ?) ORDER BY seq", []any{string(model.AllBoards), board}
}

func upsert(ctx context.Context, ex execer, table, keyCol, key string, v any, id string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s(id, %s, data) VALUES(?,?,?)
		ON CONFLICT(id) DO UPDATE SET %s=excluded.%s, data=excluded.data`, table, keyCol, keyCol, keyCol)
	_, err = ex.ExecContext(ctx, q, id, strings.TrimSpace(key), string(b))
	return err
}

func (s *sqliteStore) deleteByID(ctx context.Context, table, kind, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListRules(ctx context.Context, board string) ([]automation.Rule, error) {
	q, args := scopeQuery("rules", board)
	return listJSON[automation.Rule](ctx, s.db, q, args...)
}

func (s *sqliteStore) PutRule(ctx context.Context, r automation.Rule) error {
	return upsert(ctx, s.db, "rules", "scope", string(r.Scope), r, r.ID)
}

func (s *sqliteStore) DeleteRule(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "rules", "rule", id)
}

func (s *sqliteStore) ListTemplates(ctx context.Context, board string) ([]recurrence.Template, error) {
	q, args := scopeQuery("templates", board)
	return listJSON[recurrence.Template](ctx, s.db, q, args...)
}

func (s *sqliteStore) PutTemplate(ctx context.Context, t recurrence.Template) error {
	return upsert(ctx, s.db, "templates", "scope", string(t.Scope), t, t.ID)
}

func (s *sqliteStore) DeleteTemplate(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "templates", "template", id)
}

func (s *sqliteStore) ListTasks(ctx context.Context, board string) ([]model.Task, error) {
	if board == "" {
		return listJSON[model.Task](ctx, s.db, "SELECT data FROM tasks ORDER BY seq")
	}
	return listJSON[model.Task](ctx, s.db, "SELECT data FROM tasks WHERE board_id = ? ORDER BY seq", board)
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM tasks WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Task{}, err
	}
	var t model.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *sqliteStore) PutTask(ctx context.Context, t model.Task) error {
	return upsert(ctx, s.db, "tasks", "board_id", t.BoardID, t, t.ID)
}

func (s *sqliteStore) Commit(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range b.Tasks {
		if err := upsert(ctx, tx, "tasks", "board_id", t.BoardID, t, t.ID); err != nil {
			return fmt.Errorf("task %q: %w", t.ID, err)
		}
	}
	for _, t := range b.Templates {
		if err := upsert(ctx, tx, "templates", "scope", string(t.Scope), t, t.ID); err != nil {
			return fmt.Errorf("template %q: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, board_id, actor, action, task_id, rule_id, detail)
		 VALUES(?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), nullStr(e.BoardID), nullStr(e.Actor), e.Action,
		nullStr(e.TaskID), nullStr(e.RuleID), nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	if n <= 0 {
		n = auditRetain
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, COALESCE(board_id,''), COALESCE(actor,''), action, COALESCE(task_id,''), COALESCE(rule_id,''), COALESCE(detail,'')
		 FROM (SELECT * FROM audit ORDER BY seq DESC LIMIT ?) ORDER BY seq`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
		)
		if err := rows.Scan(&at, &e.BoardID, &e.Actor, &e.Action, &e.TaskID, &e.RuleID, &e.Detail); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.pruneExpired(pctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
