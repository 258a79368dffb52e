package config

import (
	"reflect"
	"sort"
	"strings"

	"github.com/gemarcano/artemia/pkg/logx"
)

// TaskDiff lists dynamic task names by how they changed between two configs.
type TaskDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d TaskDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging, and (3) the task-level diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, TaskDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.String("scheduler.quantum", strings.TrimSpace(s.Quantum)),
			logx.String("scheduler.task_timeout", strings.TrimSpace(s.TaskTimeout)),
			logx.Int("scheduler.max_dynamic_tasks", s.MaxDynamicTasks),
			logx.String("scheduler.min_sleep", strings.TrimSpace(s.MinSleep)),
			logx.String("scheduler.max_sleep", strings.TrimSpace(s.MaxSleep)),
		)
	}

	// Power
	if !reflect.DeepEqual(oldCfg.Power, newCfg.Power) {
		changed = append(changed, "power")
		attrs = append(attrs,
			logx.String("power.source", strings.TrimSpace(newCfg.Power.Source)),
			logx.Bool("power.path_set", strings.TrimSpace(newCfg.Power.Path) != ""),
			logx.Bool("power.trickle", newCfg.Power.Trickle != nil),
		)
	}

	// Storage (nil means volatile)
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	// Metrics
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
		)
	}

	// Tasks (summarize only; names at debug)
	td := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if !td.Empty() {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.added", len(td.Added)),
			logx.Int("tasks.removed", len(td.Removed)),
			logx.Int("tasks.changed", len(td.Changed)),
			logx.Int("tasks.count", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, td
}

func diffTasks(oldT, newT []TaskConfig) TaskDiff {
	oldM := make(map[string]uint64, len(oldT))
	for _, t := range oldT {
		oldM[t.Name] = fingerprint(t)
	}
	newM := make(map[string]uint64, len(newT))
	for _, t := range newT {
		newM[t.Name] = fingerprint(t)
	}

	var d TaskDiff
	for name, h := range newM {
		oh, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case oh != h:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
