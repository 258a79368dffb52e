package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// keepRows is how many records per task survive pruning. Older rows only
// matter if every newer one is torn.
const keepRows = 4

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type historyRow struct {
	Task string `db:"task"`
	Rec  []byte `db:"rec"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// History is small and rarely written; pay for durability.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Save(ctx context.Context, name string, lastRun time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if err := scron.ValidateName(name); err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := historyRow{Task: name, Rec: AppendRecord(nil, lastRun)}
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO history(task, rec) VALUES(:task, :rec)`, row); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM history WHERE task = ? AND id NOT IN (
			SELECT id FROM history WHERE task = ? ORDER BY id DESC LIMIT ?
		)`, name, name, keepRows); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Load(ctx context.Context, name string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	var recs [][]byte
	if err := s.db.SelectContext(ctx, &recs,
		`SELECT rec FROM history WHERE task = ? ORDER BY id DESC`, name); err != nil {
		return time.Time{}, false, err
	}
	if len(recs) == 0 {
		return time.Time{}, false, nil
	}
	for _, rec := range recs {
		if t, ok := DecodeRecord(rec); ok {
			return t, true, nil
		}
	}
	return time.Time{}, false, scron.ErrCorrupt
}

func (s *sqliteStore) Names(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var out []string
	err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT task FROM history ORDER BY task`)
	return out, err
}

// appendRaw inserts rec for name without validation. Tests use it to plant
// torn records.
func (s *sqliteStore) appendRaw(ctx context.Context, name string, rec []byte) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO history(task, rec) VALUES(:task, :rec)`, historyRow{Task: name, Rec: rec})
	return err
}
