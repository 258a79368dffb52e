package artemia

import (
	"context"
	"fmt"
	"time"

	"github.com/gemarcano/artemia/internal/eventbus"
	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/pkg/logx"
)

// Scheduler is the admission and selection policy on top of a registry.
//
// It holds no locks: RunOne must not be called concurrently, and the
// registry must not be saved or loaded while RunOne is in flight.
type Scheduler struct {
	s           *scron.Scron
	taskTimeout time.Duration
	bus         eventbus.Bus
	log         logx.Logger

	// reported remembers the occurrence last published per reason and task
	// so a waiting task is reported once, not on every call.
	reported map[string]time.Time
}

type Option func(*Scheduler)

// WithTaskTimeout gives each task body a context deadline. The body is
// never preempted; the deadline is advisory.
func WithTaskTimeout(d time.Duration) Option { return func(s *Scheduler) { s.taskTimeout = d } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

func WithLogger(l logx.Logger) Option { return func(s *Scheduler) { s.log = l } }

func New(s *scron.Scron, opts ...Option) *Scheduler {
	d := &Scheduler{
		s:        s,
		log:      logx.Nop(),
		reported: map[string]time.Time{},
	}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	d.log = d.log.With(logx.String("comp", "artemia"))
	return d
}

// Registry returns the driven registry.
func (d *Scheduler) Registry() *scron.Scron { return d.s }

// Run describes one executed task.
type Run struct {
	Index int
	Task  string
	// Scheduled is the occurrence that was served.
	Scheduled time.Time
	Lateness  time.Duration
	Started   time.Time
	Duration  time.Duration
	Voltage   float64
	Err       error
}

// RunOne runs at most one task.
//
// A task is a candidate if voltage meets its MinimumVoltage. A candidate is
// eligible once its occurrence is due and, if it has a MaxLateness, not later
// than that; a stale occurrence is skipped and the task waits for its first
// occurrence inside the lateness window instead. Among eligible tasks the one
// with the oldest last run wins, ties going to the lowest index. The winner's
// last run is set to now after its function returns, whatever it returned.
//
// RunOne returns false, without touching history, when nothing is eligible.
func (d *Scheduler) RunOne(ctx context.Context, voltage float64, now time.Time) (Run, bool) {
	now = now.UTC()

	best := -1
	var bestTask scron.Task
	var bestLast, bestOcc time.Time

	for i := 0; i < d.s.TaskCount(); i++ {
		t, _ := d.s.TaskAt(i)
		last := d.s.LastRun(i)
		sl := d.slot(i, t, last, now)
		due := !sl.Next.After(now)

		if t.MinimumVoltage > voltage {
			if due {
				d.deferred(i, t, sl.Next, voltage)
			}
			continue
		}
		if sl.Stale {
			d.skippedLate(i, t, sl.Skipped, now)
		}
		if !due {
			continue
		}
		if best < 0 || last.Before(bestLast) {
			best, bestTask, bestLast, bestOcc = i, t, last, sl.Next
		}
	}
	if best < 0 {
		return Run{}, false
	}

	run := Run{
		Index:     best,
		Task:      bestTask.Name,
		Scheduled: bestOcc,
		Lateness:  now.Sub(bestOcc),
		Started:   now,
		Voltage:   voltage,
	}
	start := time.Now()
	run.Err = d.invoke(ctx, bestTask, now)
	run.Duration = time.Since(start)

	d.s.SetLastRun(best, now)
	d.ran(run)
	return run, true
}

func (d *Scheduler) invoke(ctx context.Context, t scron.Task, now time.Time) (err error) {
	if d.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.taskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("task panicked",
				logx.String("task", t.Name),
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace()),
			)
			err = fmt.Errorf("task %q panicked: %v", t.Name, r)
		}
	}()
	return t.Func(ctx, now)
}

// Slot is a task's position in the plan at a given instant.
type Slot struct {
	Index int
	Task  string
	// Next is the occurrence the task is waiting on.
	Next time.Time
	// Stale reports that the occurrence following the last run was more than
	// MaxLateness ago; Skipped is that occurrence and Next is realigned.
	Stale   bool
	Skipped time.Time
}

func (d *Scheduler) slot(i int, t scron.Task, last, now time.Time) Slot {
	q := d.s.Quantum()
	next := t.Schedule.Next(last, q)
	sl := Slot{Index: i, Task: t.Name, Next: next}
	if t.MaxLateness <= 0 || now.Sub(next) < t.MaxLateness {
		return sl
	}
	sl.Stale = true
	sl.Skipped = next
	sl.Next = realign(t.Schedule, last, now.Add(-t.MaxLateness), q)
	return sl
}

// realign returns the first occurrence strictly after from. All-wildcard
// schedules stay on the last+k*quantum grid.
func realign(s scron.Schedule, last, from time.Time, quantum time.Duration) time.Time {
	if !s.IsWildcard() {
		return s.Next(from, quantum)
	}
	if quantum <= 0 {
		quantum = scron.DefaultQuantum
	}
	k := from.Sub(last)/quantum + 1
	return last.UTC().Add(k * quantum)
}

// Plan returns every task's slot at now, in registry order.
func (d *Scheduler) Plan(now time.Time) []Slot {
	now = now.UTC()
	out := make([]Slot, 0, d.s.TaskCount())
	for i := 0; i < d.s.TaskCount(); i++ {
		t, _ := d.s.TaskAt(i)
		out = append(out, d.slot(i, t, d.s.LastRun(i), now))
	}
	return out
}

// NextWake is the earliest occurrence any task is waiting on, counting the
// realigned occurrence for stale tasks. It ignores voltage, so it may be in
// the past when a due task is waiting for energy. It returns false only for
// an empty registry.
func (d *Scheduler) NextWake(now time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, sl := range d.Plan(now) {
		if !found || sl.Next.Before(best) {
			best, found = sl.Next, true
		}
	}
	return best, found
}
