package scron

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/robfig/cron/v3"
)

// starBit marks a robfig field that was written as a wildcard.
const starBit = 1 << 63

var exprParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses a cron expression into a Schedule.
//
// Both "sec min hour dom month dow" and the 5-field form (second 0) are
// accepted, as are descriptors such as @hourly and @daily. Every field must be
// a wildcard or a single value; lists, ranges, steps, @every and time zone
// prefixes return ErrUnsupportedSchedule. When both day-of-month and weekday
// are set, both must match.
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return Schedule{}, fmt.Errorf("%w: %q: schedules are always UTC", ErrUnsupportedSchedule, expr)
	}

	parsed, err := exprParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %q", ErrUnsupportedSchedule, expr)
	}

	var s Schedule
	fields := []struct {
		name string
		bits uint64
		dst  *Field
	}{
		{"second", spec.Second, &s.Second},
		{"minute", spec.Minute, &s.Minute},
		{"hour", spec.Hour, &s.Hour},
		{"day", spec.Dom, &s.Day},
		{"month", spec.Month, &s.Month},
		{"weekday", spec.Dow, &s.Weekday},
	}
	for _, f := range fields {
		v, err := fieldFromBits(f.bits)
		if err != nil {
			return Schedule{}, fmt.Errorf("%w: %q: %s", err, expr, f.name)
		}
		*f.dst = v
	}
	if err := s.Validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

// MustParseSchedule is ParseSchedule for compiled-in expressions.
func MustParseSchedule(expr string) Schedule {
	s, err := ParseSchedule(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func fieldFromBits(b uint64) (Field, error) {
	if b&starBit != 0 {
		return Any, nil
	}
	if bits.OnesCount64(b) != 1 {
		return Field{}, ErrUnsupportedSchedule
	}
	return At(bits.TrailingZeros64(b)), nil
}
