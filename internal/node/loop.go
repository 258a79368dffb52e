package node

import (
	"context"
	"errors"
	"time"

	"github.com/gemarcano/artemia/internal/config"
	"github.com/gemarcano/artemia/internal/eventbus"
	"github.com/gemarcano/artemia/pkg/logx"
)

type pacing struct {
	minSleep time.Duration
	maxSleep time.Duration
	maxRuns  int
}

// pacingFrom takes the loop settings from s. A non-zero watchdog caps the
// sleep so the service manager keeps hearing from the node.
func pacingFrom(s config.Scheduler, watchdog time.Duration) pacing {
	p := pacing{minSleep: s.MinSleep, maxSleep: s.MaxSleep, maxRuns: s.MaxRunsPerWake}
	if watchdog > 0 && watchdog < p.maxSleep {
		p.maxSleep = max(watchdog, p.minSleep)
	}
	return p
}

// clamp bounds the sleep until next. A due task that is only waiting for
// energy makes next lie in the past, so the floor keeps the node from
// spinning.
func (p pacing) clamp(now, next time.Time, ok bool) time.Duration {
	if !ok {
		return p.maxSleep
	}
	d := next.Sub(now)
	if d < p.minSleep {
		return p.minSleep
	}
	if d > p.maxSleep {
		return p.maxSleep
	}
	return d
}

// Run drives the node until ctx ends. History is loaded first and saved on
// the way out.
func (n *Node) Run(ctx context.Context) error {
	sup := newSupervisor(ctx, n.log)
	runCtx := sup.Context()

	var updates chan *config.Config
	if n.cfgm != nil {
		updates = n.cfgm.Subscribe(8)
		defer n.cfgm.Unsubscribe(updates)
		sup.GoRestart("config.watch", n.cfgm.Watch, 250*time.Millisecond, 30*time.Second)
	}
	sup.Go0("metrics", func(c context.Context) { n.metrics.Consume(c, n.bus) })
	n.metricsSrv.Apply(runCtx, mapMetrics(n.cfg.Metrics))

	n.start(runCtx)
	n.log.Info("node started", logx.String("boot_id", n.bootID), logx.Int("tasks", n.scheduler.Registry().TaskCount()))

	err := n.loop(runCtx, updates)

	n.shutdown()
	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if serr := sup.Stop(stopCtx); serr != nil && err == nil {
		err = serr
	}
	n.log.Info("node stopped", logx.String("boot_id", n.bootID))
	if n.logs != nil {
		_ = n.logs.Close()
	}
	return err
}

func (n *Node) start(ctx context.Context) {
	reg := n.scheduler.Registry()
	rep, err := reg.Load(ctx, n.store)
	if err != nil {
		n.log.Warn("history load incomplete", logx.Err(err))
	}
	now := n.clock.Now()
	if k := reg.ForgetFuture(now); k > 0 {
		n.log.Warn("last runs in the future were reset; clock went backwards", logx.Int("tasks", k))
	}
	n.bus.Publish(eventbus.Event{Type: eventbus.HistoryLoaded, Time: now, Data: eventbus.History{
		Tasks:   reg.TaskCount(),
		Missing: rep.Missing,
		Corrupt: len(rep.Corrupt),
		Err:     err,
	}})
	n.log.Info("history loaded",
		logx.Int("loaded", rep.Loaded),
		logx.Int("missing", rep.Missing),
		logx.Int("corrupt", len(rep.Corrupt)),
	)
	n.sdNotify(stateReady)
	n.bus.Publish(eventbus.Event{Type: eventbus.NodeWake, Time: now, Data: eventbus.Wake{Reason: "start", Voltage: n.voltage(ctx)}})
}

func (n *Node) loop(ctx context.Context, updates <-chan *config.Config) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n.cycle(ctx)
		n.sdNotify(stateWatchdog)

		now := n.clock.Now()
		next, ok := n.scheduler.NextWake(now)
		d := n.pace.clamp(now, next, ok)
		v := n.voltage(ctx)
		n.bus.Publish(eventbus.Event{Type: eventbus.NodeSleep, Time: now, Data: eventbus.Sleep{Until: now.Add(d), Duration: d, Voltage: v}})
		n.log.Debug("sleeping", logx.Duration("for", d), logx.Time("until", now.Add(d)))

		reason := "timer"
		t := n.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		case cfg, open := <-updates:
			t.Stop()
			if !open {
				updates = nil
				continue
			}
			reason = "config"
			n.reload(ctx, coalesce(cfg, updates))
		}
		n.bus.Publish(eventbus.Event{Type: eventbus.NodeWake, Time: n.clock.Now(), Data: eventbus.Wake{Reason: reason, Voltage: n.voltage(ctx)}})
	}
}

// cycle runs due tasks until none is eligible or the per-wake cap is hit,
// then saves history if anything ran.
func (n *Node) cycle(ctx context.Context) int {
	ran := 0
	for ran < n.pace.maxRuns && ctx.Err() == nil {
		if _, ok := n.scheduler.RunOne(ctx, n.voltage(ctx), n.clock.Now()); !ok {
			break
		}
		ran++
	}
	if ran == n.pace.maxRuns {
		n.log.Debug("run cap reached; deferring remaining tasks", logx.Int("ran", ran))
	}
	if ran > 0 {
		n.save(ctx)
	}
	return ran
}

func (n *Node) save(ctx context.Context) {
	reg := n.scheduler.Registry()
	err := reg.Save(ctx, n.store)
	if err != nil && !errors.Is(err, context.Canceled) {
		n.log.Warn("history save failed", logx.Err(err))
	}
	n.bus.Publish(eventbus.Event{Type: eventbus.HistorySaved, Time: n.clock.Now(), Data: eventbus.History{Tasks: reg.TaskCount(), Err: err}})
}

func (n *Node) shutdown() {
	n.sdNotify(stateStopping)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n.save(ctx)
	n.metricsSrv.Stop(ctx)
	n.scheduler.Registry().Close()
	n.closeStore()
	if c, ok := n.units.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func (n *Node) sdNotify(state string) {
	if err := n.notify.Notify(state); err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

// coalesce drains queued configs and keeps the newest.
func coalesce(cfg *config.Config, ch <-chan *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-ch:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}
