package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gemarcano/artemia/internal/scron"
)

// Memory keeps record streams in memory. It uses the same record codec as
// the persistent drivers, so tests can tear and corrupt streams with Raw and
// SetRaw.
type Memory struct {
	mu      sync.Mutex
	streams map[string][]byte
	closed  bool
}

func NewMemory() *Memory {
	return &Memory{streams: map[string][]byte{}}
}

func (m *Memory) Save(_ context.Context, name string, lastRun time.Time) error {
	if err := scron.ValidateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	b := m.streams[name]
	// Drop a torn trailing record so the new one stays aligned.
	b = b[:len(b)-len(b)%RecordSize]
	m.streams[name] = AppendRecord(b, lastRun)
	return nil
}

func (m *Memory) Load(_ context.Context, name string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	b := m.streams[name]
	return RecoverLast(bytes.NewReader(b), int64(len(b)))
}

func (m *Memory) Names(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.streams))
	for k := range m.streams {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Raw returns a copy of name's stream.
func (m *Memory) Raw(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.streams[name]...)
}

// SetRaw replaces name's stream.
func (m *Memory) SetRaw(name string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = append([]byte(nil), b...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
