// Package recurrence computes occurrence dates for recurring task templates
// and materializes the instances that are due.
//
// Generation is pull-based: GenerateDue walks each template forward from its
// last generated date until it reaches "now", so a single call after a long
// idle period catches up in one pass. The walk stops when the next date is
// after now, after the pattern's end date, or once the template has produced
// MaxOccurrences instances.
package recurrence
