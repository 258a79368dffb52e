package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// UnitStarter starts a systemd unit and waits for the job to finish.
type UnitStarter interface {
	StartUnit(ctx context.Context, unit string) error
}

// Systemd starts units over the system D-Bus. The connection is opened on
// first use and reopened after a failure.
type Systemd struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewSystemd() *Systemd { return &Systemd{} }

func (s *Systemd) connect(ctx context.Context) (*dbus.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && s.conn.Connected() {
		return s.conn, nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	s.conn = conn
	return conn, nil
}

// StartUnit queues a start job in "replace" mode and waits for its result.
// A bare name gets the ".service" suffix.
func (s *Systemd) StartUnit(ctx context.Context, unit string) error {
	unit = unitName(unit)
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	done := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, unit, "replace", done); err != nil {
		return fmt.Errorf("start %s: %w", unit, err)
	}
	select {
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("start %s: job %s", unit, res)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("start %s: %w", unit, ctx.Err())
	}
}

func (s *Systemd) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if !strings.Contains(unit, ".") {
		unit += ".service"
	}
	return unit
}
