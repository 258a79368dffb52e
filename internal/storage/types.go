package storage

import (
	"context"
	"errors"
	"time"

	"github.com/gemarcano/artemia/internal/scron"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": directory of per-task record streams (Path is the directory)
//   - "sqlite": SQLite database file (Path is the file)
//   - "memory": volatile; also used when Driver is empty or "none"
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// CompactBytes caps a file stream; the next save past it rewrites the
	// stream as a single record. 0 means DefaultCompactBytes.
	CompactBytes int64
}

// DefaultCompactBytes keeps 256 records per stream before compaction.
const DefaultCompactBytes = 256 * RecordSize

// Store is a scron.HistoryStore with a lifetime.
type Store interface {
	scron.HistoryStore
	// Names lists every task name with a stream, sorted.
	Names(ctx context.Context) ([]string, error)
	Close() error
}
