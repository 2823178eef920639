// Package workflow is the host around the automation, recurrence and
// dependency engines. It loads rules and templates from a Repository, runs
// the engines, persists their output, forwards notifications and records an
// audit trail. Writes for one board are serialized.
package workflow
