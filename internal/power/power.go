// Package power samples the node's stored-energy voltage.
package power

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Source reports the current supply voltage in volts.
type Source interface {
	Voltage(ctx context.Context) (float64, error)
}

// Config selects and configures a Source.
//
// Source values:
//   - "fixed": always FixedVolts (bench supply, tests)
//   - "file": read a numeric file such as a sysfs/IIO attribute and convert
//     it with raw*Scale + Offset
type Config struct {
	Source     string
	FixedVolts float64
	Path       string
	Scale      float64
	Offset     float64
}

// Open builds the configured Source.
func Open(cfg Config) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "fixed":
		return NewFixed(cfg.FixedVolts), nil
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("power.path is required for file source")
		}
		scale := cfg.Scale
		if scale == 0 {
			scale = 1
		}
		return &File{Path: cfg.Path, Scale: scale, Offset: cfg.Offset}, nil
	default:
		return nil, fmt.Errorf("unknown power source: %s", cfg.Source)
	}
}

// Fixed is a Source with a settable voltage.
type Fixed struct {
	bits atomic.Uint64
}

func NewFixed(v float64) *Fixed {
	f := &Fixed{}
	f.Set(v)
	return f
}

func (f *Fixed) Set(v float64) { f.bits.Store(math.Float64bits(v)) }

func (f *Fixed) Voltage(context.Context) (float64, error) {
	return math.Float64frombits(f.bits.Load()), nil
}

// File reads a raw reading from Path on every sample.
type File struct {
	Path   string
	Scale  float64
	Offset float64
}

func (f *File) Voltage(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, err
	}
	raw, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	return raw*f.Scale + f.Offset, nil
}

// Func adapts a function to a Source.
type Func func(ctx context.Context) (float64, error)

func (fn Func) Voltage(ctx context.Context) (float64, error) { return fn(ctx) }
