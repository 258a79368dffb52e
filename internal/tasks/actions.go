package tasks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gemarcano/artemia/internal/config"
	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/pkg/logx"
)

// maxOutput caps the command output kept in the log.
const maxOutput = 2048

// Deps are the collaborators task bodies may use.
type Deps struct {
	Log   logx.Logger
	Units UnitStarter
}

// Build turns a config task into a registry task.
func Build(tc config.TaskConfig, deps Deps) (scron.Task, error) {
	rt, err := tc.Resolve()
	if err != nil {
		return scron.Task{}, fmt.Errorf("task %q: %w", tc.Name, err)
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "task"), logx.String("task", rt.Name))

	var fn scron.TaskFunc
	switch strings.ToLower(strings.TrimSpace(rt.Action.Kind)) {
	case "", "noop":
		fn = Noop
	case "log":
		fn = logAction(log, rt.Action.Message)
	case "exec":
		fn = execAction(log, rt.Action.Command, rt.ActionTimeout)
	case "unit":
		if deps.Units == nil {
			return scron.Task{}, fmt.Errorf("task %q: unit action needs a systemd connection", rt.Name)
		}
		fn = unitAction(log, deps.Units, rt.Action.Unit, rt.ActionTimeout)
	default:
		return scron.Task{}, fmt.Errorf("task %q: unknown action kind %q", rt.Name, rt.Action.Kind)
	}

	return scron.Task{
		Name:           rt.Name,
		MinimumVoltage: rt.MinimumVoltage,
		Schedule:       rt.Schedule,
		MaxLateness:    rt.MaxLateness,
		Func:           fn,
	}, nil
}

func Noop(context.Context, time.Time) error { return nil }

func logAction(log logx.Logger, msg string) scron.TaskFunc {
	if strings.TrimSpace(msg) == "" {
		msg = "task fired"
	}
	return func(_ context.Context, now time.Time) error {
		log.Info(msg, logx.Time("at", now))
		return nil
	}
}

func execAction(log logx.Logger, argv []string, timeout time.Duration) scron.TaskFunc {
	argv = append([]string(nil), argv...)
	return func(ctx context.Context, now time.Time) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdout = &out
		cmd.Stderr = &out
		cmd.Env = append(cmd.Environ(), "ARTEMIA_NOW="+now.UTC().Format(time.RFC3339))

		start := time.Now()
		err := cmd.Run()
		fields := []logx.Field{
			logx.String("cmd", argv[0]),
			logx.Duration("took", time.Since(start)),
			logx.String("output", truncate(strings.TrimSpace(out.String()), maxOutput)),
		}
		if err != nil {
			log.Warn("command failed", append(fields, logx.Err(err))...)
			return fmt.Errorf("exec %s: %w", argv[0], err)
		}
		log.Debug("command finished", fields...)
		return nil
	}
}

func unitAction(log logx.Logger, units UnitStarter, unit string, timeout time.Duration) scron.TaskFunc {
	return func(ctx context.Context, _ time.Time) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		if err := units.StartUnit(ctx, unit); err != nil {
			log.Warn("unit start failed", logx.String("unit", unit), logx.Err(err))
			return err
		}
		log.Debug("unit started", logx.String("unit", unit), logx.Duration("took", time.Since(start)))
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
