// Package storage persists rules, templates, tasks, the audit trail and
// notification dedup state.
//
// Drivers:
//   - memory: process-local maps, used by tests and -once runs
//   - file:   JSON snapshot written atomically plus append-only journals
//   - sqlite: modernc.org/sqlite with JSON record columns
package storage
