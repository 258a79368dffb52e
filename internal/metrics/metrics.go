// Package metrics exposes scheduler activity as Prometheus metrics.
//
// The Collector owns its registry so several nodes (or tests) can live in one
// process. It is fed from the event bus; nothing in the scheduler calls it
// directly.
package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gemarcano/artemia/internal/eventbus"
)

const namespace = "artemia"

type Collector struct {
	reg *prometheus.Registry

	runs     *prometheus.CounterVec
	skips    *prometheus.CounterVec
	saves    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	lateness prometheus.Histogram
	voltage  prometheus.Gauge
	nextWake prometheus.Gauge
	sleep    prometheus.Gauge
	wakes    *prometheus.CounterVec
	busDrops prometheus.GaugeFunc
}

// NewCollector registers every metric on a fresh registry. bus may be nil;
// when set its drop counter is exported.
func NewCollector(bus eventbus.Bus) *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task invocations by result.",
		}, []string{"task", "result"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_skips_total",
			Help:      "Occurrences not run, by reason (late, voltage).",
		}, []string{"task", "reason"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_saves_total",
			Help:      "History save attempts by result.",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task body run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_lateness_seconds",
			Help:      "Delay between a task's scheduled occurrence and its start.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "supply_voltage_volts",
			Help:      "Last sampled supply voltage.",
		}),
		nextWake: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_wake_timestamp_seconds",
			Help:      "Unix time the node plans to wake next.",
		}),
		sleep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sleep_seconds",
			Help:      "Length of the most recent sleep.",
		}),
		wakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakes_total",
			Help:      "Wake-ups by reason.",
		}, []string{"reason"}),
	}
	c.reg.MustRegister(
		c.runs, c.skips, c.saves, c.duration, c.lateness,
		c.voltage, c.nextWake, c.sleep, c.wakes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if bus != nil {
		c.busDrops = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events dropped because a subscriber was full.",
		}, func() float64 { return float64(bus.Dropped()) })
		c.reg.MustRegister(c.busDrops)
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Observe applies one event.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TaskRan, eventbus.TaskFailed:
		p, ok := e.Data.(eventbus.TaskRun)
		if !ok {
			return
		}
		result := "ok"
		if p.Err != nil {
			result = "error"
			if errors.Is(p.Err, context.DeadlineExceeded) {
				result = "timeout"
			}
		}
		c.runs.WithLabelValues(p.Task, result).Inc()
		c.duration.WithLabelValues(p.Task).Observe(p.Duration.Seconds())
		c.lateness.Observe(p.Lateness.Seconds())
		c.voltage.Set(p.Voltage)
	case eventbus.TaskSkippedLate:
		if p, ok := e.Data.(eventbus.TaskSkip); ok {
			c.skips.WithLabelValues(p.Task, "late").Inc()
		}
	case eventbus.TaskDeferredVoltage:
		if p, ok := e.Data.(eventbus.TaskSkip); ok {
			c.skips.WithLabelValues(p.Task, "voltage").Inc()
			c.voltage.Set(p.Voltage)
		}
	case eventbus.NodeSleep:
		if p, ok := e.Data.(eventbus.Sleep); ok {
			c.nextWake.Set(float64(p.Until.Unix()))
			c.sleep.Set(p.Duration.Seconds())
			c.voltage.Set(p.Voltage)
		}
	case eventbus.NodeWake:
		if p, ok := e.Data.(eventbus.Wake); ok {
			c.wakes.WithLabelValues(p.Reason).Inc()
			c.voltage.Set(p.Voltage)
		}
	case eventbus.HistorySaved:
		if p, ok := e.Data.(eventbus.History); ok {
			result := "ok"
			if p.Err != nil {
				result = "error"
			}
			c.saves.WithLabelValues(result).Inc()
		}
	}
}

// Consume subscribes to bus and applies events until ctx is done.
func (c *Collector) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
