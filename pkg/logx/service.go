package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alert   AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// AlertConfig controls the alert sink: records at MinLevel or above are
// summarized and appended to Path, at most RatePerSec per second.
type AlertConfig struct {
	Enabled    bool
	Path       string
	MinLevel   string
	RatePerSec int
}

const (
	consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"
	defaultLogPath    = "./artemia.log"
	defaultAlertPath  = "./artemia-alerts.log"
)

var globalsOnce sync.Once

func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = consoleTimeFormat
	})
}

// Service owns the log sinks. Loggers it hands out pick up every Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu    sync.Mutex
	file  *os.File
	alert *alertSink
}

// New builds the service and applies cfg.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sinks from cfg. A sink that fails to open is reported
// on stderr and left out; console output is the fallback when nothing else
// is left.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter())
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		if f, err := openAppend(cfg.File.Path, defaultLogPath); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	if cfg.Alert.Enabled {
		if s.alert == nil {
			s.alert = newAlertSink()
		}
		if err := s.alert.configure(cfg.Alert); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			writers = append(writers, s.alert)
		}
	} else if s.alert != nil {
		s.alert.close()
		s.alert = nil
	}

	if len(writers) == 0 {
		writers = append(writers, consoleWriter())
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close flushes the alert queue and closes the files. Loggers keep working
// but write to the console only.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	zl := zerolog.New(consoleWriter()).Level(s.current().GetLevel()).With().Timestamp().Logger()
	s.root.Store(&zl)

	if s.alert != nil {
		s.alert.close()
		s.alert = nil
	}
	var err error
	if s.file != nil {
		err = s.file.Close()
		s.file = nil
	}
	return err
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat}
}

func openAppend(path, def string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = def
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
