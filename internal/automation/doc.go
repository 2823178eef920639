// Package automation matches board events against user-defined rules and
// applies their actions.
//
// A Rule has one Trigger, an ordered list of conditions (ANDed) and an
// ordered list of actions. Conditions and actions arrive in a loose wire form
// (ConditionSpec, ActionSpec) and are compiled into small tagged types before
// evaluation. Unknown condition fields/operators compile to UnknownCondition,
// which is always satisfied; unknown action types compile to UnknownAction,
// which does nothing. Both are reported as Diagnostics so the host can log
// them.
//
// Dispatch applies every matching rule in stored order, threading the
// mutated task from one rule into the next. Nothing here persists anything:
// the caller owns storage.
package automation
