package recurrence

import (
	"slices"
	"time"
)

type Type string

const (
	Daily   Type = "daily"
	Weekly  Type = "weekly"
	Monthly Type = "monthly"
	Yearly  Type = "yearly"
)

// weeklyScanDays bounds the forward scan for weekday-based patterns.
const weeklyScanDays = 14

// Pattern describes how often a template recurs.
type Pattern struct {
	Type     Type `json:"type" validate:"oneof=daily weekly monthly yearly"`
	Interval int  `json:"interval,omitempty" validate:"min=0"`

	// DaysOfWeek holds weekday indices (0 = Sunday). Weekly only.
	DaysOfWeek []int `json:"days_of_week,omitempty" validate:"dive,min=0,max=6"`

	// DayOfMonth pins monthly occurrences to a day, clamped to the month length.
	DayOfMonth int `json:"day_of_month,omitempty" validate:"min=0,max=31"`

	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences int        `json:"max_occurrences,omitempty" validate:"min=0"`
}

func (p Pattern) interval() int {
	if p.Interval < 1 {
		return 1
	}
	return p.Interval
}

// Exhausted reports whether a template that already produced count
// instances may produce no more.
func (p Pattern) Exhausted(count int) bool {
	return p.MaxOccurrences > 0 && count >= p.MaxOccurrences
}

// Next returns the first occurrence strictly after from. ok is false when
// the pattern is exhausted: count reached MaxOccurrences, the date would
// fall after EndDate, or the pattern cannot produce a date. A midnight
// EndDate includes its whole day; an EndDate with a time of day is a cutoff
// instant.
func Next(p Pattern, from time.Time, count int) (next time.Time, ok bool) {
	if p.Exhausted(count) {
		return time.Time{}, false
	}

	n := p.interval()
	switch p.Type {
	case Daily:
		next = from.AddDate(0, 0, n)
	case Weekly:
		if len(p.DaysOfWeek) == 0 {
			next = from.AddDate(0, 0, 7*n)
			break
		}
		found := false
		for i := 1; i <= weeklyScanDays; i++ {
			d := from.AddDate(0, 0, i)
			if slices.Contains(p.DaysOfWeek, int(d.Weekday())) {
				next, found = d, true
				break
			}
		}
		if !found {
			return time.Time{}, false
		}
	case Monthly:
		next = addMonths(from, n, p.DayOfMonth)
	case Yearly:
		next = addMonths(from, 12*n, 0)
	default:
		return time.Time{}, false
	}

	if p.EndDate != nil && pastEnd(next, *p.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// addMonths moves t forward by months. The day is day (or t's own day when
// day is 0), clamped to the length of the target month. Time of day and
// location are kept.
func addMonths(t time.Time, months, day int) time.Time {
	y, m, d := t.Date()
	if day > 0 {
		d = day
	}
	total := int(m) - 1 + months
	ty := y + total/12
	tm := time.Month(total%12 + 1)
	if dim := daysIn(ty, tm); d > dim {
		d = dim
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// pastEnd reports whether t falls after end. An end at midnight is a date
// and covers that whole calendar day, read in end's own location. Any other
// end is an instant.
func pastEnd(t, end time.Time) bool {
	ey, em, ed := end.Date()
	if !end.Equal(time.Date(ey, em, ed, 0, 0, 0, 0, end.Location())) {
		return t.After(end)
	}
	ty, tm, td := t.Date()
	if ty != ey {
		return ty > ey
	}
	if tm != em {
		return tm > em
	}
	return td > ed
}

// StartOfDay truncates t to midnight in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = t.Location()
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// daysBetween counts calendar days from a to b (negative when b is earlier).
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}
