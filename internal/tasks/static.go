package tasks

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gemarcano/artemia/internal/config"
	"github.com/gemarcano/artemia/internal/power"
	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/pkg/logx"
)

// StaticDeps configure the compiled-in task set.
type StaticDeps struct {
	Log     logx.Logger
	Supply  power.Source
	Started time.Time
	// Trickle is nil when the node has no backup cell to manage.
	Trickle *Trickle
	// NoHeartbeat drops the heartbeat task.
	NoHeartbeat bool
}

// Static returns the compiled-in tasks. Both fire at second 30 of every
// minute and need 2.0 V.
func Static(deps StaticDeps) []scron.Task {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "task"))

	var out []scron.Task
	if !deps.NoHeartbeat {
		out = append(out, scron.Task{
			Name:           "heartbeat",
			MinimumVoltage: 2.0,
			Schedule:       scron.Schedule{Second: scron.At(30)},
			Func:           heartbeat(log.With(logx.String("task", "heartbeat")), deps.Supply, deps.Started),
		})
	}
	if deps.Trickle != nil {
		deps.Trickle.log = log.With(logx.String("task", "trickle"))
		out = append(out, scron.Task{
			Name:           "trickle",
			MinimumVoltage: 2.0,
			Schedule:       scron.Schedule{Second: scron.At(30)},
			Func:           deps.Trickle.Run,
		})
	}
	return out
}

func heartbeat(log logx.Logger, supply power.Source, started time.Time) scron.TaskFunc {
	return func(ctx context.Context, now time.Time) error {
		fields := []logx.Field{logx.Duration("uptime", now.Sub(started).Round(time.Second))}
		if supply != nil {
			v, err := supply.Voltage(ctx)
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
			fields = append(fields, logx.Float64("voltage", v))
		}
		log.Info("heartbeat", fields...)
		return nil
	}
}

// Switch turns a charger on or off.
type Switch interface {
	Set(ctx context.Context, on bool) error
}

// FileSwitch writes "1" or "0" to a sysfs-style attribute.
type FileSwitch struct{ Path string }

func (s FileSwitch) Set(_ context.Context, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return os.WriteFile(s.Path, []byte(v), 0o644)
}

// Trickle keeps the backup cell charged with hysteresis: charging starts
// below EnableBelow and stops above DisableAbove.
type Trickle struct {
	Backup       power.Source
	Switch       Switch
	EnableBelow  float64
	DisableAbove float64

	log logx.Logger

	mu sync.Mutex
	// on is nil until the first decision.
	on *bool
}

const (
	DefaultTrickleEnableBelow  = 1.8
	DefaultTrickleDisableAbove = 1.9
)

func (t *Trickle) Run(ctx context.Context, _ time.Time) error {
	v, err := t.Backup.Voltage(ctx)
	if err != nil {
		return fmt.Errorf("trickle: backup voltage: %w", err)
	}
	lo, hi := t.EnableBelow, t.DisableAbove
	if lo == 0 {
		lo = DefaultTrickleEnableBelow
	}
	if hi == 0 {
		hi = DefaultTrickleDisableAbove
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var want bool
	switch {
	case v < lo:
		want = true
	case v > hi:
		want = false
	default:
		return nil
	}
	if t.on != nil && *t.on == want {
		return nil
	}
	if err := t.Switch.Set(ctx, want); err != nil {
		return fmt.Errorf("trickle: switch: %w", err)
	}
	t.on = &want
	t.log.Info("trickle charger switched", logx.Bool("on", want), logx.Float64("backup_voltage", v))
	return nil
}

// Charging reports the last state set, and false before the first decision.
func (t *Trickle) Charging() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.on != nil && *t.on
}

// NewTrickle builds the trickle controller from config. It returns nil for a
// nil config.
func NewTrickle(cfg *config.TrickleConfig) *Trickle {
	if cfg == nil {
		return nil
	}
	scale := cfg.BackupScale
	if scale == 0 {
		scale = 1
	}
	return &Trickle{
		Backup:       &power.File{Path: cfg.BackupPath, Scale: scale, Offset: cfg.BackupOffset},
		Switch:       FileSwitch{Path: cfg.SwitchPath},
		EnableBelow:  cfg.EnableBelow,
		DisableAbove: cfg.DisableAbove,
	}
}
