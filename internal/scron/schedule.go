package scron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultQuantum is the polling interval used for a schedule with no set
// fields. It is a tunable; the scheduler can be configured with another one.
const DefaultQuantum = 30 * time.Second

// Never is the last-run time of a task with no recorded run.
var Never = time.Unix(0, 0).UTC()

// searchHorizonYears bounds Next. A full Gregorian cycle covers every
// weekday/day/month alignment, so only schedules rejected by Validate can
// exhaust it.
const searchHorizonYears = 400

// Field is one calendar constraint of a Schedule. The zero value is a
// wildcard that matches any value.
type Field struct {
	value int
	set   bool
}

// Any is the wildcard Field.
var Any Field

// At returns a Field that matches exactly v.
func At(v int) Field { return Field{value: v, set: true} }

// Get returns the target value and whether the field is set.
func (f Field) Get() (int, bool) { return f.value, f.set }

func (f Field) IsSet() bool { return f.set }

func (f Field) String() string {
	if !f.set {
		return "*"
	}
	return strconv.Itoa(f.value)
}

// Schedule describes when a task fires. Fields that are set must all match
// the occurrence; wildcard fields match any value.
//
// Fields finer than the finest set field are pinned to their minimum, so a
// schedule with only Minute=30 fires once per hour at hh:30:00 and a
// schedule with only Second=30 fires once per minute. A schedule with no set
// field fires once per quantum after the last run.
type Schedule struct {
	Second  Field // 0-59
	Minute  Field // 0-59
	Hour    Field // 0-23
	Weekday Field // 0-6, Sunday is 0
	Day     Field // 1-31
	Month   Field // 1-12
}

type level int

const (
	levelSecond level = iota
	levelMinute
	levelHour
	levelDay
	levelMonth
	levelNone
)

// IsWildcard reports whether no field is set.
func (s Schedule) IsWildcard() bool { return s.finest() == levelNone }

func (s Schedule) finest() level {
	switch {
	case s.Second.set:
		return levelSecond
	case s.Minute.set:
		return levelMinute
	case s.Hour.set:
		return levelHour
	case s.Day.set, s.Weekday.set:
		return levelDay
	case s.Month.set:
		return levelMonth
	default:
		return levelNone
	}
}

// String renders the schedule in 6-field cron order:
// second minute hour day-of-month month weekday.
func (s Schedule) String() string {
	return strings.Join([]string{
		s.Second.String(),
		s.Minute.String(),
		s.Hour.String(),
		s.Day.String(),
		s.Month.String(),
		s.Weekday.String(),
	}, " ")
}

var maxDaysInMonth = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// Validate checks ranges and rejects day/month combinations that can never
// occur.
func (s Schedule) Validate() error {
	checks := []struct {
		name     string
		f        Field
		min, max int
	}{
		{"second", s.Second, 0, 59},
		{"minute", s.Minute, 0, 59},
		{"hour", s.Hour, 0, 23},
		{"weekday", s.Weekday, 0, 6},
		{"day", s.Day, 1, 31},
		{"month", s.Month, 1, 12},
	}
	for _, c := range checks {
		if v, ok := c.f.Get(); ok && (v < c.min || v > c.max) {
			return fmt.Errorf("%w: %s %d out of range [%d,%d]", ErrInvalidSchedule, c.name, v, c.min, c.max)
		}
	}
	day, daySet := s.Day.Get()
	month, monthSet := s.Month.Get()
	if daySet && monthSet && day > maxDaysInMonth[month] {
		return fmt.Errorf("%w: day %d never occurs in month %d", ErrInvalidSchedule, day, month)
	}
	return nil
}

// effective returns the constraint applied at lvl: the field's own value if
// set, the minimum if lvl is finer than the finest set field, or none.
func (s Schedule) effective(f Field, lvl, finest level, min int) (int, bool) {
	if f.set {
		return f.value, true
	}
	if lvl < finest {
		return min, true
	}
	return 0, false
}

// Next returns the first occurrence strictly after last. All calendar
// arithmetic is in UTC. quantum is used only when no field is set; a
// non-positive quantum means DefaultQuantum.
func (s Schedule) Next(last time.Time, quantum time.Duration) time.Time {
	last = last.UTC()
	finest := s.finest()
	if finest == levelNone {
		if quantum <= 0 {
			quantum = DefaultQuantum
		}
		return last.Add(quantum)
	}

	t := last.Truncate(time.Second).Add(time.Second)
	limit := t.AddDate(searchHorizonYears, 0, 0)

	for t.Before(limit) {
		y, mo, d := t.Date()
		h, mi, sec := t.Clock()

		if want, ok := s.Month.Get(); ok && int(mo) != want {
			if int(mo) < want {
				t = time.Date(y, time.Month(want), 1, 0, 0, 0, 0, time.UTC)
			} else {
				t = time.Date(y+1, time.Month(want), 1, 0, 0, 0, 0, time.UTC)
			}
			continue
		}

		if next, ok := s.advanceDay(t, finest); !ok {
			t = next
			continue
		}

		if want, ok := s.effective(s.Hour, levelHour, finest, 0); ok && h != want {
			if h < want {
				t = time.Date(y, mo, d, want, 0, 0, 0, time.UTC)
			} else {
				t = time.Date(y, mo, d+1, 0, 0, 0, 0, time.UTC)
			}
			continue
		}

		if want, ok := s.effective(s.Minute, levelMinute, finest, 0); ok && mi != want {
			if mi < want {
				t = time.Date(y, mo, d, h, want, 0, 0, time.UTC)
			} else {
				t = time.Date(y, mo, d, h+1, 0, 0, 0, time.UTC)
			}
			continue
		}

		if want, ok := s.effective(s.Second, levelSecond, finest, 0); ok && sec != want {
			if sec < want {
				t = time.Date(y, mo, d, h, mi, want, 0, time.UTC)
			} else {
				t = time.Date(y, mo, d, h, mi+1, 0, 0, time.UTC)
			}
			continue
		}

		return t
	}
	return limit
}

// advanceDay checks the day-level constraints for t. It returns (t, true)
// if t's day matches, or the start of the next candidate day and false.
func (s Schedule) advanceDay(t time.Time, finest level) (time.Time, bool) {
	y, mo, d := t.Date()
	nextDay := time.Date(y, mo, d+1, 0, 0, 0, 0, time.UTC)
	nextMonth := time.Date(y, mo+1, 1, 0, 0, 0, 0, time.UTC)

	want, daySet := s.effective(s.Day, levelDay, finest, 1)
	if wd, ok := s.Weekday.Get(); ok {
		if int(t.Weekday()) != wd || (daySet && d != want) {
			return nextDay, false
		}
		return t, true
	}
	if !daySet || d == want {
		return t, true
	}
	if d < want && want <= daysIn(y, mo) {
		return time.Date(y, mo, want, 0, 0, 0, 0, time.UTC), false
	}
	return nextMonth, false
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
