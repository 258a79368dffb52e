package artemia

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemarcano/artemia/internal/eventbus"
	"github.com/gemarcano/artemia/internal/scron"
)

func utc(h, m, s int) time.Time {
	return time.Date(2024, 3, 15, h, m, s, 0, time.UTC)
}

type recorder struct {
	calls []string
}

func (r *recorder) fn(name string) scron.TaskFunc {
	return func(context.Context, time.Time) error {
		r.calls = append(r.calls, name)
		return nil
	}
}

func newScheduler(t *testing.T, tasks []scron.Task, opts ...Option) *Scheduler {
	t.Helper()
	s, err := scron.New(tasks)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return New(s, opts...)
}

func drain(ch <-chan eventbus.Event) []eventbus.Event {
	var out []eventbus.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func everyMinute(name string, fn scron.TaskFunc) scron.Task {
	return scron.Task{Name: name, Schedule: scron.Schedule{Second: scron.At(30)}, Func: fn}
}

func TestRunOneOldestLastRunWins(t *testing.T) {
	rec := &recorder{}
	d := newScheduler(t, []scron.Task{everyMinute("a", rec.fn("a")), everyMinute("b", rec.fn("b"))})
	reg := d.Registry()
	reg.SetLastRun(0, utc(9, 0, 0))
	reg.SetLastRun(1, utc(8, 0, 0))
	now := utc(10, 0, 31)

	run, ok := d.RunOne(context.Background(), 3.3, now)
	require.True(t, ok)
	assert.Equal(t, "b", run.Task)
	assert.Equal(t, 1, run.Index)
	assert.Equal(t, utc(8, 0, 30), run.Scheduled)
	assert.Equal(t, now, reg.LastRun(1))

	run, ok = d.RunOne(context.Background(), 3.3, now)
	require.True(t, ok)
	assert.Equal(t, "a", run.Task)

	_, ok = d.RunOne(context.Background(), 3.3, now)
	assert.False(t, ok)
	assert.Equal(t, []string{"b", "a"}, rec.calls)
}

func TestRunOneTieGoesToLowestIndex(t *testing.T) {
	rec := &recorder{}
	d := newScheduler(t, []scron.Task{everyMinute("first", rec.fn("first")), everyMinute("second", rec.fn("second"))})

	run, ok := d.RunOne(context.Background(), 3.3, utc(10, 0, 31))
	require.True(t, ok)
	assert.Equal(t, 0, run.Index)
}

func TestRunOneNothingDue(t *testing.T) {
	rec := &recorder{}
	d := newScheduler(t, []scron.Task{everyMinute("a", rec.fn("a"))})
	last := utc(10, 0, 30)
	d.Registry().SetLastRun(0, last)

	_, ok := d.RunOne(context.Background(), 3.3, utc(10, 1, 29))
	assert.False(t, ok)
	assert.Equal(t, last, d.Registry().LastRun(0))
	assert.Empty(t, rec.calls)

	// Exactly on the occurrence is due.
	_, ok = d.RunOne(context.Background(), 3.3, utc(10, 1, 30))
	assert.True(t, ok)
}

func TestRunOneVoltageGate(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	rec := &recorder{}
	hungry := everyMinute("hungry", rec.fn("hungry"))
	hungry.MinimumVoltage = 3.0
	d := newScheduler(t, []scron.Task{hungry}, WithBus(bus))
	now := utc(10, 0, 31)

	_, ok := d.RunOne(context.Background(), 2.5, now)
	assert.False(t, ok)
	_, ok = d.RunOne(context.Background(), 2.5, now)
	assert.False(t, ok)
	assert.Equal(t, scron.Never, d.Registry().LastRun(0))

	events := drain(ch)
	require.Len(t, events, 1, "a deferral is reported once per occurrence")
	assert.Equal(t, eventbus.TaskDeferredVoltage, events[0].Type)
	skip := events[0].Data.(eventbus.TaskSkip)
	assert.Equal(t, 3.0, skip.Required)
	assert.Equal(t, 2.5, skip.Voltage)

	run, ok := d.RunOne(context.Background(), 3.0, now)
	require.True(t, ok)
	assert.Equal(t, "hungry", run.Task)
}

func TestRunOneStaleRealignsIntoWindow(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, eventbus.TaskSkippedLate)
	defer unsub()

	rec := &recorder{}
	tk := everyMinute("sample", rec.fn("sample"))
	tk.MaxLateness = 10 * time.Second
	d := newScheduler(t, []scron.Task{tk}, WithBus(bus))
	d.Registry().SetLastRun(0, utc(9, 59, 0))

	// 09:59:30 is 61s late; 10:00:30 is inside the window.
	run, ok := d.RunOne(context.Background(), 3.3, utc(10, 0, 31))
	require.True(t, ok)
	assert.Equal(t, utc(10, 0, 30), run.Scheduled)
	assert.Equal(t, time.Second, run.Lateness)

	events := drain(ch)
	require.Len(t, events, 1)
	assert.Equal(t, utc(9, 59, 30), events[0].Data.(eventbus.TaskSkip).Scheduled)
}

func TestRunOneLatenessWindowBoundary(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		runs bool
	}{
		{"due 5s ago runs", utc(10, 0, 35), true},
		{"due 15s ago is skipped", utc(10, 0, 45), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			tk := everyMinute("sample", rec.fn("sample"))
			tk.MaxLateness = 10 * time.Second
			d := newScheduler(t, []scron.Task{tk})
			d.Registry().SetLastRun(0, utc(10, 0, 0))

			run, ok := d.RunOne(context.Background(), 3.3, tt.now)
			assert.Equal(t, tt.runs, ok)
			if tt.runs {
				assert.Equal(t, utc(10, 0, 30), run.Scheduled)
				assert.Equal(t, 5*time.Second, run.Lateness)
			} else {
				assert.Equal(t, utc(10, 0, 0), d.Registry().LastRun(0))
			}
		})
	}
}

func TestRunOneStaleWaitsForNextOccurrence(t *testing.T) {
	rec := &recorder{}
	tk := scron.Task{
		Name:        "hourly",
		Schedule:    scron.Schedule{Minute: scron.At(0)},
		MaxLateness: 5 * time.Minute,
		Func:        rec.fn("hourly"),
	}
	d := newScheduler(t, []scron.Task{tk})
	d.Registry().SetLastRun(0, utc(8, 0, 0))

	_, ok := d.RunOne(context.Background(), 3.3, utc(10, 30, 0))
	assert.False(t, ok)
	wake, ok := d.NextWake(utc(10, 30, 0))
	require.True(t, ok)
	assert.Equal(t, utc(11, 0, 0), wake)

	run, ok := d.RunOne(context.Background(), 3.3, utc(11, 0, 2))
	require.True(t, ok)
	assert.Equal(t, utc(11, 0, 0), run.Scheduled)
	assert.Equal(t, 2*time.Second, run.Lateness)
}

func TestRunOneStaleWildcardStaysOnGrid(t *testing.T) {
	rec := &recorder{}
	tk := scron.Task{Name: "poll", MaxLateness: 10 * time.Second, Func: rec.fn("poll")}
	d := newScheduler(t, []scron.Task{tk})
	d.Registry().SetLastRun(0, utc(10, 0, 0))

	run, ok := d.RunOne(context.Background(), 3.3, utc(10, 5, 5))
	require.True(t, ok)
	assert.Equal(t, utc(10, 5, 0), run.Scheduled)
}

func TestRunOneRecordsFailures(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16, eventbus.TaskRan, eventbus.TaskFailed)
	defer unsub()

	boom := errors.New("sensor timeout")
	d := newScheduler(t, []scron.Task{
		everyMinute("fails", func(context.Context, time.Time) error { return boom }),
		everyMinute("panics", func(context.Context, time.Time) error { panic("bad sensor") }),
	}, WithBus(bus))
	now := utc(10, 0, 31)

	run, ok := d.RunOne(context.Background(), 3.3, now)
	require.True(t, ok)
	assert.ErrorIs(t, run.Err, boom)
	assert.Equal(t, now, d.Registry().LastRun(0))

	run, ok = d.RunOne(context.Background(), 3.3, now)
	require.True(t, ok)
	assert.Equal(t, "panics", run.Task)
	assert.ErrorContains(t, run.Err, "bad sensor")
	assert.Equal(t, now, d.Registry().LastRun(1))

	events := drain(ch)
	require.Len(t, events, 2)
	assert.Equal(t, eventbus.TaskFailed, events[0].Type)
	assert.Equal(t, eventbus.TaskFailed, events[1].Type)
}

func TestRunOneTaskTimeout(t *testing.T) {
	var hadDeadline bool
	d := newScheduler(t, []scron.Task{everyMinute("slow", func(ctx context.Context, _ time.Time) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})}, WithTaskTimeout(time.Second))

	_, ok := d.RunOne(context.Background(), 3.3, utc(10, 0, 31))
	require.True(t, ok)
	assert.True(t, hadDeadline)
}

func TestRunOnePassesNow(t *testing.T) {
	var got time.Time
	d := newScheduler(t, []scron.Task{everyMinute("clock", func(_ context.Context, now time.Time) error {
		got = now
		return nil
	})})
	now := utc(10, 0, 31)
	_, ok := d.RunOne(context.Background(), 3.3, now)
	require.True(t, ok)
	assert.Equal(t, now, got)
}

func TestNextWake(t *testing.T) {
	empty := newScheduler(t, nil)
	_, ok := empty.NextWake(utc(10, 0, 0))
	assert.False(t, ok)

	rec := &recorder{}
	d := newScheduler(t, []scron.Task{
		{Name: "hourly", Schedule: scron.Schedule{Minute: scron.At(0)}, Func: rec.fn("hourly")},
		everyMinute("minutely", rec.fn("minutely")),
	})
	d.Registry().SetLastRun(0, utc(10, 0, 0))
	d.Registry().SetLastRun(1, utc(10, 0, 30))

	wake, ok := d.NextWake(utc(10, 0, 40))
	require.True(t, ok)
	assert.Equal(t, utc(10, 1, 30), wake)

	raw, ok := d.Registry().NextTime()
	require.True(t, ok)
	assert.Equal(t, wake, raw)

	plan := d.Plan(utc(10, 0, 40))
	require.Len(t, plan, 2)
	assert.Equal(t, utc(11, 0, 0), plan[0].Next)
	assert.False(t, plan[0].Stale)
}
