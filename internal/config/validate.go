package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gemarcano/artemia/internal/scron"
)

// Scheduler is SchedulerConfig with defaults applied and durations parsed.
type Scheduler struct {
	Quantum          time.Duration
	TaskTimeout      time.Duration
	MaxDynamicTasks  int
	MinSleep         time.Duration
	MaxSleep         time.Duration
	MaxRunsPerWake   int
	DisableHeartbeat bool
}

const (
	DefaultMinSleep       = time.Second
	DefaultMaxSleep       = 5 * time.Minute
	DefaultMaxRunsPerWake = 16
	DefaultMetricsAddr    = "127.0.0.1:9464"
)

// Resolve applies defaults and parses durations.
func (c SchedulerConfig) Resolve() (Scheduler, error) {
	var (
		out Scheduler
		err error
	)
	if out.Quantum, err = DurationOr("scheduler.quantum", c.Quantum, scron.DefaultQuantum); err != nil {
		return Scheduler{}, err
	}
	if out.TaskTimeout, err = Duration("scheduler.task_timeout", c.TaskTimeout); err != nil {
		return Scheduler{}, err
	}
	if out.MinSleep, err = DurationOr("scheduler.min_sleep", c.MinSleep, DefaultMinSleep); err != nil {
		return Scheduler{}, err
	}
	if out.MaxSleep, err = DurationOr("scheduler.max_sleep", c.MaxSleep, DefaultMaxSleep); err != nil {
		return Scheduler{}, err
	}
	if out.MinSleep > out.MaxSleep {
		return Scheduler{}, fmt.Errorf("scheduler.min_sleep (%s) exceeds scheduler.max_sleep (%s)", out.MinSleep, out.MaxSleep)
	}
	if c.MaxDynamicTasks < 0 {
		return Scheduler{}, errors.New("scheduler.max_dynamic_tasks must be >= 0")
	}
	out.MaxDynamicTasks = c.MaxDynamicTasks
	out.MaxRunsPerWake = c.MaxRunsPerWake
	if out.MaxRunsPerWake <= 0 {
		out.MaxRunsPerWake = DefaultMaxRunsPerWake
	}
	out.DisableHeartbeat = c.DisableHeartbeat
	return out, nil
}

// Validate checks every section. It does not touch the filesystem.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Scheduler.Resolve(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Power.Source)) {
	case "", "fixed":
	case "file":
		if strings.TrimSpace(c.Power.Path) == "" {
			errs = append(errs, errors.New("power.path is required when power.source=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown power.source: %s", c.Power.Source))
	}
	if tr := c.Power.Trickle; tr != nil {
		if strings.TrimSpace(tr.BackupPath) == "" || strings.TrimSpace(tr.SwitchPath) == "" {
			errs = append(errs, errors.New("power.trickle needs backup_path and switch_path"))
		}
		if tr.EnableBelow != 0 && tr.DisableAbove != 0 && tr.EnableBelow >= tr.DisableAbove {
			errs = append(errs, errors.New("power.trickle.enable_below must be below disable_above"))
		}
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=%s", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown storage.driver: %s", s.Driver))
		}
		if _, err := Duration("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if s.CompactBytes < 0 {
			errs = append(errs, errors.New("storage.compact_bytes must be >= 0"))
		}
	}

	seen := map[string]bool{}
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		if err := scron.ValidateName(t.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		} else if ReservedTaskNames[t.Name] {
			errs = append(errs, fmt.Errorf("%s: task name %q is reserved for a built-in task", path, t.Name))
		} else if seen[t.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate task name %q", path, t.Name))
		}
		seen[t.Name] = true
		if _, err := t.Resolve(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// ReservedTaskNames are taken by compiled-in tasks.
var ReservedTaskNames = map[string]bool{"heartbeat": true, "trickle": true}

// Task is TaskConfig with its schedule and durations parsed.
type Task struct {
	Name           string
	MinimumVoltage float64
	Schedule       scron.Schedule
	MaxLateness    time.Duration
	Action         ActionConfig
	ActionTimeout  time.Duration
}

// Resolve parses the schedule and durations and checks the action.
func (t TaskConfig) Resolve() (Task, error) {
	out := Task{Name: t.Name, MinimumVoltage: t.MinimumVoltage, Action: t.Action}
	if t.MinimumVoltage < 0 {
		return Task{}, errors.New("minimum_voltage must be >= 0")
	}
	sched, err := scron.ParseSchedule(t.Schedule)
	if err != nil {
		return Task{}, fmt.Errorf("schedule: %w", err)
	}
	out.Schedule = sched
	if out.MaxLateness, err = Duration("max_lateness", t.MaxLateness); err != nil {
		return Task{}, err
	}
	if out.ActionTimeout, err = Duration("action.timeout", t.Action.Timeout); err != nil {
		return Task{}, err
	}

	switch strings.ToLower(strings.TrimSpace(t.Action.Kind)) {
	case "", "noop", "log":
	case "exec":
		if len(t.Action.Command) == 0 || strings.TrimSpace(t.Action.Command[0]) == "" {
			return Task{}, errors.New("action.command is required for exec")
		}
	case "unit":
		if strings.TrimSpace(t.Action.Unit) == "" {
			return Task{}, errors.New("action.unit is required for unit")
		}
	default:
		return Task{}, fmt.Errorf("unknown action.kind: %s", t.Action.Kind)
	}
	return out, nil
}
