package scron

import (
	"context"
	"fmt"
	"time"
)

// MaxNameLen is the longest accepted task name. The name doubles as the
// persistence key.
const MaxNameLen = 31

// TaskFunc is a task body. The returned error is its status; the scheduler
// records it but never retries on it.
type TaskFunc func(ctx context.Context, now time.Time) error

// Task is one schedulable unit of work.
type Task struct {
	Name string
	// MinimumVoltage is the supply voltage required before the task may run.
	MinimumVoltage float64
	Schedule       Schedule
	// MaxLateness bounds how late an occurrence may still run. Zero or
	// negative means no bound.
	MaxLateness time.Duration
	Func        TaskFunc
}

// Validate checks the name, schedule and body.
func (t Task) Validate() error {
	if err := ValidateName(t.Name); err != nil {
		return err
	}
	if t.Func == nil {
		return fmt.Errorf("%w: %q has no function", ErrInvalidTask, t.Name)
	}
	if t.MinimumVoltage < 0 {
		return fmt.Errorf("%w: %q minimum voltage %g is negative", ErrInvalidTask, t.Name, t.MinimumVoltage)
	}
	if err := t.Schedule.Validate(); err != nil {
		return fmt.Errorf("task %q: %w", t.Name, err)
	}
	return nil
}

// ValidateName reports whether name is usable as a task name: 1 to
// MaxNameLen bytes of letters, digits, '.', '_' or '-', not starting with '.'.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("%w: name %q must be 1-%d bytes", ErrInvalidTask, name, MaxNameLen)
	}
	if name[0] == '.' {
		return fmt.Errorf("%w: name %q must not start with '.'", ErrInvalidTask, name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return fmt.Errorf("%w: name %q has invalid character %q", ErrInvalidTask, name, c)
		}
	}
	return nil
}
