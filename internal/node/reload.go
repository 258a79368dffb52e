package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gemarcano/artemia/internal/config"
	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/internal/tasks"
	"github.com/gemarcano/artemia/pkg/logx"
)

// restartSections cannot change under a running registry.
var restartSections = map[string]bool{"power": true, "storage": true}

// reload adopts newCfg: logging, pacing, metrics and the dynamic task set
// change live; the rest waits for a restart.
func (n *Node) reload(ctx context.Context, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	n.sdNotify(stateReload)
	defer n.sdNotify(stateReady)

	sections, attrs, diff := config.SummarizeConfigChange(n.cfg, newCfg)
	if len(sections) == 0 {
		n.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	n.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if restartSections[s] {
			n.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	if n.logs != nil {
		n.logs.Apply(mapLogging(newCfg.Logging))
	}
	if sched, err := newCfg.Scheduler.Resolve(); err != nil {
		n.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		if sched.Quantum != n.sched.Quantum || sched.TaskTimeout != n.sched.TaskTimeout ||
			sched.MaxDynamicTasks != n.sched.MaxDynamicTasks || sched.DisableHeartbeat != n.sched.DisableHeartbeat {
			n.log.Warn("scheduler registry settings changed; restart required for them to take effect")
		}
		n.pace = pacingFrom(sched, n.watchdog)
	}
	n.metricsSrv.Apply(ctx, mapMetrics(newCfg.Metrics))

	if err := n.applyTasks(newCfg, diff); err != nil {
		n.log.Warn("task reload incomplete", logx.Err(err))
	}
	n.cfg = newCfg
	n.log.Info("config reloaded", fields...)
}

// applyTasks reconciles the dynamic table with cfg. Changed tasks keep their
// history; added tasks start as never run.
func (n *Node) applyTasks(cfg *config.Config, diff config.TaskDiff) error {
	reg := n.scheduler.Registry()
	byName := make(map[string]config.TaskConfig, len(cfg.Tasks))
	for _, tc := range cfg.Tasks {
		byName[tc.Name] = tc
	}

	var errs []error
	for _, name := range diff.Removed {
		i, ok := dynamicIndex(reg, name)
		if !ok {
			continue
		}
		if err := reg.RemoveTask(i); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
			continue
		}
		n.log.Info("task removed", logx.String("task", name))
	}
	for _, name := range diff.Changed {
		t, err := tasks.Build(byName[name], n.taskDeps())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		i, ok := dynamicIndex(reg, name)
		if ok {
			err = reg.ReplaceTask(i, t)
		} else {
			_, err = reg.AddTask(t)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("replace %s: %w", name, err))
			continue
		}
		n.log.Info("task updated", logx.String("task", name), logx.String("schedule", t.Schedule.String()))
	}
	for _, name := range diff.Added {
		t, err := tasks.Build(byName[name], n.taskDeps())
		if err == nil {
			_, err = reg.AddTask(t)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("add %s: %w", name, err))
			continue
		}
		n.log.Info("task added", logx.String("task", name), logx.String("schedule", t.Schedule.String()))
	}
	return errors.Join(errs...)
}

// dynamicIndex finds name among the dynamic tasks; static tasks are never
// touched by a reload.
func dynamicIndex(reg *scron.Scron, name string) (int, bool) {
	for i := reg.StaticCount(); i < reg.TaskCount(); i++ {
		if t, err := reg.TaskAt(i); err == nil && t.Name == name {
			return i, true
		}
	}
	return -1, false
}
