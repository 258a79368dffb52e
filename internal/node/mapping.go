package node

import (
	"strings"
	"time"

	"github.com/gemarcano/artemia/internal/config"
	"github.com/gemarcano/artemia/internal/metrics"
	"github.com/gemarcano/artemia/internal/power"
	"github.com/gemarcano/artemia/internal/storage"
	"github.com/gemarcano/artemia/pkg/logx"
)

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    c.Alert.Enabled,
			Path:       c.Alert.Path,
			MinLevel:   c.Alert.MinLevel,
			RatePerSec: c.Alert.RatePerSec,
		},
	}
}

// mapStorage assumes cfg passed Validate. A missing section means memory.
func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	if sc == nil {
		return storage.Config{}, nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(sc.Path),
		CompactBytes: sc.CompactBytes,
	}
	if driver == "sqlite" || driver == "sqlite3" {
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	}
	return out, nil
}

func mapPower(c config.PowerConfig) power.Config {
	return power.Config{
		Source:     c.Source,
		FixedVolts: c.FixedVolts,
		Path:       c.Path,
		Scale:      c.Scale,
		Offset:     c.Offset,
	}
}

func mapMetrics(c config.MetricsConfig) metrics.ServerConfig {
	return metrics.ServerConfig{Enabled: c.Enabled, Addr: c.Addr, Pprof: c.Pprof}
}
