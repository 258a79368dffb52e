package scron

import (
	"fmt"
	"time"

	"github.com/gemarcano/artemia/pkg/logx"
)

// initialDynamicCap is the capacity of the dynamic table after its first
// allocation. The table doubles from there.
const initialDynamicCap = 2

// Scron is the task registry and its history.
//
// Registry indices are [0, TaskCount): the static tasks first, in the order
// given to New, then the dynamic tasks in insertion order. Appending never
// moves an entry; removing a dynamic task shifts the later ones down by one.
//
// Scron holds no locks. The owner serializes every call.
type Scron struct {
	static  []Task
	dynamic []Task
	// history has one slot per registry index.
	history []time.Time

	quantum    time.Duration
	maxDynamic int
	log        logx.Logger
}

type Option func(*Scron)

// WithMaxDynamic caps the number of dynamic tasks. Growth past n fails with
// ErrOutOfMemory. n <= 0 means no cap.
func WithMaxDynamic(n int) Option { return func(s *Scron) { s.maxDynamic = n } }

// WithQuantum sets the interval used for all-wildcard schedules.
func WithQuantum(d time.Duration) Option {
	return func(s *Scron) {
		if d > 0 {
			s.quantum = d
		}
	}
}

func WithLogger(l logx.Logger) Option { return func(s *Scron) { s.log = l } }

// New builds a registry from the compiled-in static tasks. The static set is
// copied and never changes afterwards.
func New(static []Task, opts ...Option) (*Scron, error) {
	s := &Scron{
		quantum: DefaultQuantum,
		log:     logx.Nop(),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.log = s.log.With(logx.String("comp", "scron"))

	for _, t := range static {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("static task: %w", err)
		}
	}
	s.static = append([]Task(nil), static...)
	s.dynamic = make([]Task, 0, initialDynamicCap)
	s.history = make([]time.Time, len(s.static), len(s.static)+initialDynamicCap)
	for i := range s.history {
		s.history[i] = Never
	}
	return s, nil
}

// Quantum is the wildcard polling interval.
func (s *Scron) Quantum() time.Duration { return s.quantum }

func (s *Scron) StaticCount() int { return len(s.static) }

func (s *Scron) TaskCount() int { return len(s.static) + len(s.dynamic) }

// DynamicCap is the allocated capacity of the dynamic table.
func (s *Scron) DynamicCap() int { return cap(s.dynamic) }

// AddTask appends a dynamic task and returns its registry index. The new
// task starts with no recorded run.
func (s *Scron) AddTask(t Task) (int, error) {
	if err := t.Validate(); err != nil {
		return -1, err
	}
	if _, _, err := s.TaskByName(t.Name); err == nil {
		s.log.Warn("duplicate task name; lookups by name return the first", logx.String("task", t.Name))
	}
	if len(s.dynamic) == cap(s.dynamic) {
		if err := s.grow(); err != nil {
			return -1, err
		}
	}
	s.dynamic = append(s.dynamic, t)
	s.history = append(s.history, Never)
	return s.TaskCount() - 1, nil
}

// grow doubles the dynamic table and the history with it.
func (s *Scron) grow() error {
	n := cap(s.dynamic) * 2
	if n == 0 {
		n = initialDynamicCap
	}
	if s.maxDynamic > 0 {
		if len(s.dynamic) >= s.maxDynamic {
			return fmt.Errorf("%w: dynamic table full at %d tasks", ErrOutOfMemory, len(s.dynamic))
		}
		n = min(n, s.maxDynamic)
	}

	dyn := make([]Task, len(s.dynamic), n)
	copy(dyn, s.dynamic)
	hist := make([]time.Time, len(s.history), len(s.static)+n)
	copy(hist, s.history)

	s.dynamic, s.history = dyn, hist
	s.log.Debug("dynamic table grown", logx.Int("cap", n))
	return nil
}

// RemoveTask deletes the dynamic task at index together with its history.
func (s *Scron) RemoveTask(index int) error {
	if index < 0 || index >= s.TaskCount() {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if index < len(s.static) {
		return fmt.Errorf("%w: index %d (%s)", ErrStaticTask, index, s.static[index].Name)
	}
	j := index - len(s.static)
	copy(s.dynamic[j:], s.dynamic[j+1:])
	s.dynamic[len(s.dynamic)-1] = Task{}
	s.dynamic = s.dynamic[:len(s.dynamic)-1]

	copy(s.history[index:], s.history[index+1:])
	s.history = s.history[:len(s.history)-1]
	return nil
}

// ReplaceTask swaps the definition of the dynamic task at index, keeping
// its history slot.
func (s *Scron) ReplaceTask(index int, t Task) error {
	if index < 0 || index >= s.TaskCount() {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if index < len(s.static) {
		return fmt.Errorf("%w: index %d (%s)", ErrStaticTask, index, s.static[index].Name)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	s.dynamic[index-len(s.static)] = t
	return nil
}

// TaskAt returns the task at a registry index.
func (s *Scron) TaskAt(index int) (Task, error) {
	switch {
	case index < 0 || index >= s.TaskCount():
		return Task{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	case index < len(s.static):
		return s.static[index], nil
	default:
		return s.dynamic[index-len(s.static)], nil
	}
}

// TaskByName finds a task by name, static tasks first. The first match wins.
func (s *Scron) TaskByName(name string) (Task, int, error) {
	for i, t := range s.static {
		if t.Name == name {
			return t, i, nil
		}
	}
	for i, t := range s.dynamic {
		if t.Name == name {
			return t, len(s.static) + i, nil
		}
	}
	return Task{}, -1, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Tasks returns a copy of the registry in index order.
func (s *Scron) Tasks() []Task {
	out := make([]Task, 0, s.TaskCount())
	out = append(out, s.static...)
	return append(out, s.dynamic...)
}

// LastRun returns the recorded last run of the task at index. It panics if
// index is out of range.
func (s *Scron) LastRun(index int) time.Time {
	s.mustIndex(index)
	return s.history[index]
}

// SetLastRun records t as the last run of the task at index. It panics if
// index is out of range.
func (s *Scron) SetLastRun(index int, t time.Time) {
	s.mustIndex(index)
	s.history[index] = t.UTC()
}

func (s *Scron) mustIndex(index int) {
	if index < 0 || index >= len(s.history) {
		panic(fmt.Sprintf("scron: history index %d out of range [0,%d)", index, len(s.history)))
	}
}

// NextOf returns the next occurrence of the task at index after its last run.
func (s *Scron) NextOf(index int) time.Time {
	t, err := s.TaskAt(index)
	if err != nil {
		panic(err)
	}
	return t.Schedule.Next(s.LastRun(index), s.quantum)
}

// NextTime is the earliest upcoming occurrence over all tasks, computed from
// each task's last run. It returns false for an empty registry.
func (s *Scron) NextTime() (time.Time, bool) {
	var best time.Time
	found := false
	for i := 0; i < s.TaskCount(); i++ {
		n := s.NextOf(i)
		if !found || n.Before(best) {
			best, found = n, true
		}
	}
	return best, found
}

// Close releases the registry. The value must not be used afterwards.
func (s *Scron) Close() {
	s.static = nil
	s.dynamic = nil
	s.history = nil
}
