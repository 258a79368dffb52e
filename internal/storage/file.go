package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/pkg/logx"
)

const streamExt = ".hist"

// fileStore keeps one append-only record stream per task:
//
//	<dir>/<name>.hist
//
// Save appends one record and syncs it. A stream that would grow past
// compactBytes is instead replaced by a single record via temp file + rename.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	dir          string
	compactBytes int64
	closed       bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	compact := cfg.CompactBytes
	if compact <= 0 {
		compact = DefaultCompactBytes
	}
	if compact < RecordSize {
		compact = RecordSize
	}
	return &fileStore{log: log, dir: dir, compactBytes: compact}, nil
}

func (s *fileStore) path(name string) (string, error) {
	if err := scron.ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name+streamExt), nil
}

func (s *fileStore) Save(ctx context.Context, name string, lastRun time.Time) error {
	_ = ctx
	path, err := s.path(name)
	if err != nil {
		return err
	}
	rec := AppendRecord(make([]byte, 0, RecordSize), lastRun)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if st, err := os.Stat(path); err == nil {
		size := st.Size()
		if size+RecordSize > s.compactBytes {
			if err := s.compactLocked(path, rec); err != nil {
				return fmt.Errorf("compact %s: %w", name, err)
			}
			s.log.Debug("history stream compacted", logx.String("task", name), logx.Int64("bytes", size))
			return nil
		}
		// A torn append would misalign every later record; cut it off first.
		if rem := size % RecordSize; rem != 0 {
			if err := os.Truncate(path, size-rem); err != nil {
				return fmt.Errorf("trim torn record of %s: %w", name, err)
			}
			s.log.Warn("trimmed torn history record", logx.String("task", name), logx.Int64("bytes", rem))
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(rec); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// compactLocked replaces the stream at path with the single record rec.
// The rename is atomic, so a crash leaves either the old stream or the new one.
func (s *fileStore) compactLocked(path string, rec []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(rec); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(s.dir)
}

// syncDir makes a rename in dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

func (s *fileStore) Load(ctx context.Context, name string) (time.Time, bool, error) {
	_ = ctx
	path, err := s.path(name)
	if err != nil {
		return time.Time{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, false, ErrClosed
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return time.Time{}, false, err
	}
	if rem := st.Size() % RecordSize; rem != 0 {
		s.log.Debug("ignoring torn trailing record", logx.String("task", name), logx.Int64("bytes", rem))
	}
	return RecoverLast(f, st.Size())
}

func (s *fileStore) Names(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasSuffix(n, streamExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(n, streamExt))
	}
	sort.Strings(out)
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
