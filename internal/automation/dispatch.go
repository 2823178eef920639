package automation

// Matches reports whether r should run for trigger on board.
func (r Rule) Matches(trigger Trigger, board string) bool {
	return r.Enabled && r.Trigger == trigger && r.Scope.Matches(board)
}

// Dispatch applies every enabled rule for trigger whose scope matches board,
// in the order given. A rule whose conditions fail is skipped. The task
// produced by one rule is the input of the next; notifications and new-task
// requests accumulate across all applied rules.
func (e *Engine) Dispatch(trigger Trigger, ev Event, board string, rules []Rule) Result {
	out := Result{Task: ev.Task.Clone()}
	cur := ev
	for _, r := range rules {
		if !r.Matches(trigger, board) {
			continue
		}
		cur.Task = out.Task

		ok, unknown := e.evaluate(r.Conditions, cur)
		for _, d := range unknown {
			out.Diagnostics = append(out.Diagnostics, Diagnostic{RuleID: r.ID, Kind: "condition", Detail: d})
		}
		if !ok {
			continue
		}

		res := e.Execute(r.Actions, cur)
		out.Task = res.Task
		for _, n := range res.Notifications {
			n.RuleID = r.ID
			out.Notifications = append(out.Notifications, n)
		}
		for _, nt := range res.NewTasks {
			nt.RuleID = r.ID
			out.NewTasks = append(out.NewTasks, nt)
		}
		for _, d := range res.Diagnostics {
			d.RuleID = r.ID
			out.Diagnostics = append(out.Diagnostics, d)
		}
		out.Applied = append(out.Applied, r.ID)
	}
	return out
}
