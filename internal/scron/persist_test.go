package scron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	data    map[string]time.Time
	corrupt map[string]bool
	fail    map[string]error
	saves   []string
}

func newMapStore() *mapStore {
	return &mapStore{data: map[string]time.Time{}, corrupt: map[string]bool{}, fail: map[string]error{}}
}

func (m *mapStore) Save(_ context.Context, name string, lastRun time.Time) error {
	m.saves = append(m.saves, name)
	if err := m.fail[name]; err != nil {
		return err
	}
	m.data[name] = lastRun
	return nil
}

func (m *mapStore) Load(_ context.Context, name string) (time.Time, bool, error) {
	if m.corrupt[name] {
		return time.Time{}, false, ErrCorrupt
	}
	if err := m.fail[name]; err != nil {
		return time.Time{}, false, err
	}
	v, ok := m.data[name]
	return v, ok, nil
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()

	a := newRegistry(t, []Task{task("s1")})
	_, err := a.AddTask(task("d1"))
	require.NoError(t, err)
	t1 := utc(2024, 6, 1, 8, 0, 30)
	t2 := utc(2024, 6, 1, 9, 0, 30)
	a.SetLastRun(0, t1)
	a.SetLastRun(1, t2)
	require.NoError(t, a.Save(ctx, store))
	assert.Equal(t, []string{"s1", "d1"}, store.saves)

	b := newRegistry(t, []Task{task("s1")})
	_, err = b.AddTask(task("d1"))
	require.NoError(t, err)
	_, err = b.AddTask(task("new"))
	require.NoError(t, err)

	rep, err := b.Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Loaded)
	assert.Equal(t, 1, rep.Missing)
	assert.Empty(t, rep.Corrupt)
	assert.Equal(t, t1, b.LastRun(0))
	assert.Equal(t, t2, b.LastRun(1))
	assert.Equal(t, Never, b.LastRun(2))
}

func TestLoadCorruptIsNotFatal(t *testing.T) {
	store := newMapStore()
	store.corrupt["broken"] = true
	store.data["ok"] = utc(2024, 1, 2, 3, 4, 5)

	s := newRegistry(t, []Task{task("broken"), task("ok")})
	s.SetLastRun(0, utc(2030, 1, 1, 0, 0, 0))

	rep, err := s.Load(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken"}, rep.Corrupt)
	assert.Equal(t, Never, s.LastRun(0))
	assert.Equal(t, utc(2024, 1, 2, 3, 4, 5), s.LastRun(1))
}

func TestSaveContinuesPastFailures(t *testing.T) {
	store := newMapStore()
	boom := errors.New("disk full")
	store.fail["a"] = boom

	s := newRegistry(t, []Task{task("a"), task("b")})
	s.SetLastRun(1, utc(2024, 1, 1, 0, 0, 30))

	err := s.Save(context.Background(), store)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, store.saves)
	assert.Equal(t, utc(2024, 1, 1, 0, 0, 30), store.data["b"])
}

func TestLoadJoinsOtherErrors(t *testing.T) {
	store := newMapStore()
	boom := errors.New("io error")
	store.fail["a"] = boom
	store.data["b"] = utc(2024, 1, 1, 0, 0, 0)

	s := newRegistry(t, []Task{task("a"), task("b")})
	rep, err := s.Load(context.Background(), store)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, rep.Loaded)
	assert.Equal(t, utc(2024, 1, 1, 0, 0, 0), s.LastRun(1))
}

func TestForgetFuture(t *testing.T) {
	s := newRegistry(t, []Task{task("past"), task("future")})
	now := utc(2024, 6, 1, 0, 0, 0)
	s.SetLastRun(0, now.Add(-time.Hour))
	s.SetLastRun(1, now.Add(time.Hour))

	assert.Equal(t, 1, s.ForgetFuture(now))
	assert.Equal(t, now.Add(-time.Hour), s.LastRun(0))
	assert.Equal(t, Never, s.LastRun(1))
}
