package automation

import "time"

// Options tunes evaluation.
type Options struct {
	// DueSoonWindow overrides DefaultDueSoonWindow when > 0.
	DueSoonWindow time.Duration
}

// Engine evaluates rules. The zero value is ready to use.
type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

func (e *Engine) dueSoonWindow() time.Duration {
	if e == nil || e.opts.DueSoonWindow <= 0 {
		return DefaultDueSoonWindow
	}
	return e.opts.DueSoonWindow
}

var defaultEngine = &Engine{}

// Evaluate runs conditions with default options.
func Evaluate(conds []ConditionSpec, ev Event) bool {
	return defaultEngine.Evaluate(conds, ev)
}

// Execute runs actions with default options.
func Execute(actions []ActionSpec, ev Event) Result {
	return defaultEngine.Execute(actions, ev)
}

// Dispatch runs matching rules with default options.
func Dispatch(trigger Trigger, ev Event, board string, rules []Rule) Result {
	return defaultEngine.Dispatch(trigger, ev, board, rules)
}
