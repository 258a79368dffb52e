package config

// Config is the node configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Power     PowerConfig     `json:"power"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Tasks     []TaskConfig    `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert is a rate-limited one-line summary file for warnings and
// errors, meant for flash-backed storage.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig controls the driver loop.
//
// Defaults (when fields are omitted/zero):
//   - quantum: "30s"
//   - task_timeout: "0s" (no deadline)
//   - max_dynamic_tasks: 0 (no cap)
//   - min_sleep: "1s"
//   - max_sleep: "5m"
//   - max_runs_per_wake: 16
type SchedulerConfig struct {
	Quantum         string `json:"quantum,omitempty"`
	TaskTimeout     string `json:"task_timeout,omitempty"`
	MaxDynamicTasks int    `json:"max_dynamic_tasks,omitempty"`
	MinSleep        string `json:"min_sleep,omitempty"`
	MaxSleep        string `json:"max_sleep,omitempty"`
	MaxRunsPerWake  int    `json:"max_runs_per_wake,omitempty"`
	// DisableHeartbeat drops the compiled-in heartbeat task.
	DisableHeartbeat bool `json:"disable_heartbeat,omitempty"`
}

// PowerConfig selects the voltage source.
//
// Example:
//
//	"power": { "source": "file", "path": "/sys/bus/iio/devices/iio:device0/in_voltage0_raw", "scale": 0.000805 }
type PowerConfig struct {
	Source     string  `json:"source"`
	FixedVolts float64 `json:"fixed_volts,omitempty"`
	Path       string  `json:"path,omitempty"`
	Scale      float64 `json:"scale,omitempty"`
	Offset     float64 `json:"offset,omitempty"`

	Trickle *TrickleConfig `json:"trickle,omitempty"`
}

// TrickleConfig enables the compiled-in trickle task, which charges the RTC
// backup cell from the main store with hysteresis.
//
// Defaults: enable_below 1.8, disable_above 1.9, scale 1.
type TrickleConfig struct {
	BackupPath   string  `json:"backup_path"`
	BackupScale  float64 `json:"backup_scale,omitempty"`
	BackupOffset float64 `json:"backup_offset,omitempty"`
	SwitchPath   string  `json:"switch_path"`
	EnableBelow  float64 `json:"enable_below,omitempty"`
	DisableAbove float64 `json:"disable_above,omitempty"`
}

// StorageConfig controls history persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "/var/lib/artemia/history" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	CompactBytes int64  `json:"compact_bytes,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	// Pprof also mounts /debug/pprof/ on the metrics listener.
	Pprof bool `json:"pprof,omitempty"`
}

// TaskConfig declares a dynamic task.
type TaskConfig struct {
	Name           string  `json:"name"`
	MinimumVoltage float64 `json:"minimum_voltage,omitempty"`
	// Schedule is a cron expression with single values or wildcards,
	// e.g. "0 15 * * * *" is fine but "0 */15 * * * *" is rejected.
	Schedule    string       `json:"schedule"`
	MaxLateness string       `json:"max_lateness,omitempty"`
	Action      ActionConfig `json:"action"`
}

// ActionConfig selects a built-in task body.
//
// Kind values: "noop", "log", "exec", "unit".
type ActionConfig struct {
	Kind    string   `json:"kind"`
	Message string   `json:"message,omitempty"` // log
	Command []string `json:"command,omitempty"` // exec
	Timeout string   `json:"timeout,omitempty"` // exec, unit
	Unit    string   `json:"unit,omitempty"`    // unit
}
