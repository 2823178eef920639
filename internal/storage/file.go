package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"taskflow/internal/automation"
	"taskflow/internal/model"
	"taskflow/internal/recurrence"
	"taskflow/pkg/logx"
)

// fileStore keeps the record set in memory and rewrites a snapshot after
// every change.
//
// Files:
//   - <prefix>.state.json          (rules, templates, tasks; tmp + rename)
//   - <prefix>.audit.jsonl         (append-only)
//   - <prefix>.dedup.snapshot.json (compacted dedup state)
//   - <prefix>.dedup.journal.jsonl (append-only, folded into the snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st *state

	statePath string
	auditFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedupWrites       int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

// dedupCompactEvery is the number of journal appends between compactions.
const dedupCompactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		st:                newState(),
		statePath:         prefix + ".state.json",
		dedupSnapshotPath: prefix + ".dedup.snapshot.json",
	}
	if err := loadState(s.statePath, s.st); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.statePath, err)
	}

	auditPath := prefix + ".audit.jsonl"
	if err := replayAudit(auditPath, s.st); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("audit replay failed", logx.Err(err))
	}
	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af

	journalPath := prefix + ".dedup.journal.jsonl"
	_ = loadDedupSnapshot(s.dedupSnapshotPath, s.st.dedup)
	_ = replayDedupJournal(journalPath, s.st.dedup)
	pruneExpiredDedup(s.st.dedup, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	s.dedupJournalFile = jf

	log.Info("file storage opened",
		logx.String("path", s.statePath),
		logx.Int("rules", len(s.st.Rules)),
		logx.Int("templates", len(s.st.Templates)),
		logx.Int("tasks", len(s.st.Tasks)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.dedupJournalFile != nil {
		errs = append(errs, s.compactLocked(), s.dedupJournalFile.Close())
		s.dedupJournalFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) open() bool { return s.auditFile != nil }

// mutate applies fn to a copy of the records, persists the copy and only
// then makes it current. A failed write leaves the store unchanged.
func (s *fileStore) mutate(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open() {
		return ErrClosed
	}
	next := *s.st
	next.Rules = slices.Clone(s.st.Rules)
	next.Templates = slices.Clone(s.st.Templates)
	next.Tasks = slices.Clone(s.st.Tasks)
	if err := fn(&next); err != nil {
		return err
	}
	if err := writeState(s.statePath, &next); err != nil {
		return fmt.Errorf("write %s: %w", s.statePath, err)
	}
	*s.st = next
	return nil
}

func (s *fileStore) read(fn func(*state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open() {
		return ErrClosed
	}
	fn(s.st)
	return nil
}

func (s *fileStore) ListRules(_ context.Context, board string) (out []automation.Rule, err error) {
	err = s.read(func(st *state) { out = st.rules(board) })
	return out, err
}

func (s *fileStore) PutRule(_ context.Context, r automation.Rule) error {
	return s.mutate(func(st *state) error { st.putRule(r); return nil })
}

func (s *fileStore) DeleteRule(_ context.Context, id string) error {
	return s.mutate(func(st *state) error {
		if !st.deleteRule(id) {
			return fmt.Errorf("rule %q: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (s *fileStore) ListTemplates(_ context.Context, board string) (out []recurrence.Template, err error) {
	err = s.read(func(st *state) { out = st.templates(board) })
	return out, err
}

func (s *fileStore) PutTemplate(_ context.Context, t recurrence.Template) error {
	return s.mutate(func(st *state) error { st.putTemplate(t); return nil })
}

func (s *fileStore) DeleteTemplate(_ context.Context, id string) error {
	return s.mutate(func(st *state) error {
		if !st.deleteTemplate(id) {
			return fmt.Errorf("template %q: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (s *fileStore) ListTasks(_ context.Context, board string) (out []model.Task, err error) {
	err = s.read(func(st *state) { out = st.tasks(board) })
	return out, err
}

func (s *fileStore) GetTask(_ context.Context, id string) (model.Task, error) {
	var (
		t  model.Task
		ok bool
	)
	if err := s.read(func(st *state) { t, ok = st.task(id) }); err != nil {
		return model.Task{}, err
	}
	if !ok {
		return model.Task{}, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *fileStore) PutTask(_ context.Context, t model.Task) error {
	return s.mutate(func(st *state) error { st.putTask(t); return nil })
}

func (s *fileStore) Commit(_ context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	return s.mutate(func(st *state) error { st.commit(b); return nil })
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open() {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := json.NewEncoder(s.auditFile).Encode(e); err != nil {
		return err
	}
	s.st.audit = appendAuditTail(s.st.audit, e)
	return nil
}

func (s *fileStore) RecentAudit(_ context.Context, n int) (out []AuditEntry, err error) {
	err = s.read(func(st *state) { out = st.recentAudit(n) })
	return out, err
}

func (s *fileStore) PutDedup(_ context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return ErrClosed
	}
	s.st.dedup[key] = ms
	if err := json.NewEncoder(s.dedupJournalFile).Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%dedupCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(_ context.Context, key string) (until time.Time, ok bool, err error) {
	err = s.read(func(st *state) { until, ok = st.getDedup(strings.TrimSpace(key)) })
	return until, ok, err
}

func (s *fileStore) compactLocked() error {
	pruneExpiredDedup(s.st.dedup, time.Now())
	if err := writeJSONAtomic(s.dedupSnapshotPath, s.st.dedup); err != nil {
		return err
	}
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.dedupJournalFile.Seek(0, 2)
	return err
}

func appendAuditTail(tail []AuditEntry, e AuditEntry) []AuditEntry {
	tail = append(tail, e)
	if over := len(tail) - auditRetain; over > 0 {
		tail = tail[over:]
	}
	return tail
}

func loadState(path string, st *state) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, st)
}

func writeState(path string, st *state) error {
	return writeJSONAtomic(path, st)
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func replayAudit(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			st.audit = appendAuditTail(st.audit, e)
		}
	}
	return sc.Err()
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}
