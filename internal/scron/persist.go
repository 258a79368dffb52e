package scron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gemarcano/artemia/pkg/logx"
)

// HistoryStore persists one last-run timestamp per task name.
//
// Load returns ok=false when nothing was ever saved for name, and ErrCorrupt
// when the stream holds data but no intact record.
type HistoryStore interface {
	Save(ctx context.Context, name string, lastRun time.Time) error
	Load(ctx context.Context, name string) (lastRun time.Time, ok bool, err error)
}

// LoadReport summarizes a Load pass.
type LoadReport struct {
	Loaded  int
	Missing int
	// Corrupt lists tasks whose stream had no intact record. They stay at Never.
	Corrupt []string
}

// Save writes every task's last run in registry order. A failing task does
// not stop the pass; the failures are joined.
func (s *Scron) Save(ctx context.Context, store HistoryStore) error {
	var errs []error
	for i := 0; i < s.TaskCount(); i++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		t, _ := s.TaskAt(i)
		if err := store.Save(ctx, t.Name, s.history[i]); err != nil {
			errs = append(errs, fmt.Errorf("save %q: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads every task's last run in registry order. Tasks with no saved
// history or a corrupt stream keep Never; only other errors are returned.
func (s *Scron) Load(ctx context.Context, store HistoryStore) (LoadReport, error) {
	var rep LoadReport
	var errs []error
	for i := 0; i < s.TaskCount(); i++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		t, _ := s.TaskAt(i)
		last, ok, err := store.Load(ctx, t.Name)
		switch {
		case errors.Is(err, ErrCorrupt):
			s.history[i] = Never
			rep.Corrupt = append(rep.Corrupt, t.Name)
			s.log.Warn("history corrupt; treating task as never run", logx.String("task", t.Name))
		case err != nil:
			errs = append(errs, fmt.Errorf("load %q: %w", t.Name, err))
		case !ok:
			s.history[i] = Never
			rep.Missing++
		default:
			s.history[i] = last.UTC()
			rep.Loaded++
		}
	}
	return rep, errors.Join(errs...)
}

// ForgetFuture resets every last run later than now to Never and returns how
// many were reset. A last run in the future means the clock went backwards;
// re-running is preferred over skipping.
func (s *Scron) ForgetFuture(now time.Time) int {
	n := 0
	for i, last := range s.history {
		if last.After(now) {
			s.history[i] = Never
			n++
		}
	}
	return n
}
