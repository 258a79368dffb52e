package artemia

import (
	"time"

	"github.com/gemarcano/artemia/internal/eventbus"
	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/pkg/logx"
)

func (d *Scheduler) publish(typ string, at time.Time, data any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}

// once reports whether (reason, task, occurrence) has not been seen yet, and
// marks it seen.
func (d *Scheduler) once(reason, task string, occ time.Time) bool {
	key := reason + "/" + task
	if prev, ok := d.reported[key]; ok && prev.Equal(occ) {
		return false
	}
	d.reported[key] = occ
	return true
}

func (d *Scheduler) deferred(i int, t scron.Task, occ time.Time, voltage float64) {
	if !d.once(eventbus.TaskDeferredVoltage, t.Name, occ) {
		return
	}
	d.log.Debug("task deferred: supply voltage too low",
		logx.String("task", t.Name),
		logx.Float64("voltage", voltage),
		logx.Float64("required", t.MinimumVoltage),
		logx.Time("scheduled", occ),
	)
	d.publish(eventbus.TaskDeferredVoltage, occ, eventbus.TaskSkip{
		Task:      t.Name,
		Index:     i,
		Scheduled: occ,
		Voltage:   voltage,
		Required:  t.MinimumVoltage,
	})
}

func (d *Scheduler) skippedLate(i int, t scron.Task, occ, now time.Time) {
	if !d.once(eventbus.TaskSkippedLate, t.Name, occ) {
		return
	}
	late := now.Sub(occ)
	d.log.Warn("task occurrence skipped: too late",
		logx.String("task", t.Name),
		logx.Time("scheduled", occ),
		logx.Duration("lateness", late),
		logx.Duration("max_lateness", t.MaxLateness),
	)
	d.publish(eventbus.TaskSkippedLate, now, eventbus.TaskSkip{
		Task:      t.Name,
		Index:     i,
		Scheduled: occ,
		Lateness:  late,
	})
}

func (d *Scheduler) ran(r Run) {
	fields := []logx.Field{
		logx.String("task", r.Task),
		logx.Int("index", r.Index),
		logx.Time("scheduled", r.Scheduled),
		logx.Duration("lateness", r.Lateness),
		logx.Duration("took", r.Duration),
		logx.Float64("voltage", r.Voltage),
	}
	typ := eventbus.TaskRan
	if r.Err != nil {
		typ = eventbus.TaskFailed
		d.log.Warn("task failed", append(fields, logx.Err(r.Err))...)
	} else {
		d.log.Info("task ran", fields...)
	}
	d.publish(typ, r.Started, eventbus.TaskRun{
		Task:      r.Task,
		Index:     r.Index,
		Scheduled: r.Scheduled,
		Lateness:  r.Lateness,
		Duration:  r.Duration,
		Voltage:   r.Voltage,
		Err:       r.Err,
	})
}
