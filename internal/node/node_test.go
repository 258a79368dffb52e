package node

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemarcano/artemia/internal/clock"
	"github.com/gemarcano/artemia/internal/config"
	"github.com/gemarcano/artemia/internal/eventbus"
	"github.com/gemarcano/artemia/internal/power"
	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/internal/storage"
	"github.com/gemarcano/artemia/pkg/logx"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type recNotifier struct {
	mu     sync.Mutex
	states []string
}

func (r *recNotifier) Notify(state string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return nil
}

func (r *recNotifier) seen(state string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state {
			return true
		}
	}
	return false
}

type noUnits struct{}

func (noUnits) StartUnit(context.Context, string) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{DisableHeartbeat: true},
		Power:     config.PowerConfig{Source: "fixed", FixedVolts: 3},
		Tasks: []config.TaskConfig{
			{Name: "tick", Schedule: "15 * * * * *", MinimumVoltage: 2.5},
		},
	}
}

type harness struct {
	n      *Node
	clk    *clock.FakeClock
	store  *storage.Memory
	supply *power.Fixed
	notify *recNotifier
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		clk:    clock.Fake(t0),
		store:  storage.NewMemory(),
		supply: power.NewFixed(3),
		notify: &recNotifier{},
	}
	n, err := New(cfg,
		WithClock(h.clk),
		WithStore(h.store),
		WithSupply(h.supply),
		WithNotifier(h.notify),
		WithLogger(logx.Nop()),
		WithUnits(noUnits{}),
	)
	require.NoError(t, err)
	h.n = n
	return h
}

func (h *harness) run(t *testing.T) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.n.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("node did not stop")
			return nil
		}
	}
}

func next(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return eventbus.Event{}
	}
}

func TestRunExecutesAndPersists(t *testing.T) {
	h := newHarness(t, testConfig())
	ran, unsub := h.n.Bus().Subscribe(16, eventbus.TaskRan)
	defer unsub()

	stop := h.run(t)

	first := next(t, ran).Data.(eventbus.TaskRun)
	assert.Equal(t, "tick", first.Task)

	h.clk.WaitForTimers(1)
	h.clk.Advance(15 * time.Second)
	second := next(t, ran).Data.(eventbus.TaskRun)
	assert.Equal(t, t0.Add(15*time.Second), second.Scheduled)
	assert.Zero(t, second.Lateness)

	require.NoError(t, stop())

	// The node owns the store and closed it; read the saved stream directly.
	_, _, err := h.store.Load(context.Background(), "tick")
	assert.ErrorIs(t, err, storage.ErrClosed)
	raw := h.store.Raw("tick")
	last, ok, err := storage.RecoverLast(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, t0.Add(15*time.Second), last)

	assert.True(t, h.notify.seen(stateReady))
	assert.True(t, h.notify.seen(stateWatchdog))
	assert.True(t, h.notify.seen(stateStopping))
}

func TestLowVoltageDefersAndClampsSleep(t *testing.T) {
	h := newHarness(t, testConfig())
	h.supply.Set(2.0)
	events, unsub := h.n.Bus().Subscribe(16, eventbus.TaskRan, eventbus.TaskDeferredVoltage, eventbus.NodeSleep)
	defer unsub()

	stop := h.run(t)
	defer func() { require.NoError(t, stop()) }()

	e := next(t, events)
	require.Equal(t, eventbus.TaskDeferredVoltage, e.Type)
	skip := e.Data.(eventbus.TaskSkip)
	assert.Equal(t, 2.5, skip.Required)

	e = next(t, events)
	require.Equal(t, eventbus.NodeSleep, e.Type)
	assert.Equal(t, config.DefaultMinSleep, e.Data.(eventbus.Sleep).Duration)

	h.supply.Set(3.0)
	h.clk.WaitForTimers(1)
	h.clk.Advance(config.DefaultMinSleep)
	e = next(t, events)
	require.Equal(t, eventbus.TaskRan, e.Type)
	assert.Equal(t, "tick", e.Data.(eventbus.TaskRun).Task)
}

func TestStartForgetsFutureHistory(t *testing.T) {
	h := newHarness(t, testConfig())
	ctx := context.Background()
	require.NoError(t, h.store.Save(ctx, "tick", t0.Add(time.Hour)))

	h.n.start(ctx)

	reg := h.n.Scheduler().Registry()
	_, i, err := reg.TaskByName("tick")
	require.NoError(t, err)
	assert.Equal(t, scron.Never, reg.LastRun(i))
	assert.True(t, h.notify.seen(stateReady))
}

func TestCycleHonoursRunCap(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.MaxRunsPerWake = 1
	cfg.Tasks = append(cfg.Tasks, config.TaskConfig{Name: "tock", Schedule: "45 * * * * *"})
	h := newHarness(t, cfg)

	assert.Equal(t, 1, h.n.cycle(context.Background()))
	assert.Equal(t, 1, h.n.cycle(context.Background()))
	assert.Equal(t, 0, h.n.cycle(context.Background()))

	names, err := h.store.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tick", "tock"}, names)
}

func TestReloadReconcilesTasks(t *testing.T) {
	cfg := testConfig()
	cfg.Tasks = append(cfg.Tasks, config.TaskConfig{Name: "keep", Schedule: "0 0 * * * *"})
	h := newHarness(t, cfg)
	reg := h.n.Scheduler().Registry()

	_, keep, err := reg.TaskByName("keep")
	require.NoError(t, err)
	reg.SetLastRun(keep, t0)

	newCfg := testConfig()
	newCfg.Scheduler.MinSleep = "2s"
	newCfg.Tasks = []config.TaskConfig{
		{Name: "keep", Schedule: "0 30 * * * *"},
		{Name: "fresh", Schedule: "0 0 12 * * *"},
	}
	h.n.reload(context.Background(), newCfg)

	var names []string
	for _, tk := range reg.Tasks() {
		names = append(names, tk.Name)
	}
	assert.Equal(t, []string{"keep", "fresh"}, names)

	tk, keep, err := reg.TaskByName("keep")
	require.NoError(t, err)
	assert.Equal(t, scron.Schedule{Second: scron.At(0), Minute: scron.At(30)}, tk.Schedule)
	assert.Equal(t, t0, reg.LastRun(keep))

	_, fresh, err := reg.TaskByName("fresh")
	require.NoError(t, err)
	assert.Equal(t, scron.Never, reg.LastRun(fresh))

	assert.Equal(t, 2*time.Second, h.n.pace.minSleep)
	assert.Same(t, newCfg, h.n.cfg)
	assert.True(t, h.notify.seen(stateReload))
}

func TestReloadKeepsStaticTasks(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.DisableHeartbeat = false
	h := newHarness(t, cfg)

	newCfg := testConfig()
	newCfg.Scheduler.DisableHeartbeat = false
	newCfg.Tasks = nil
	h.n.reload(context.Background(), newCfg)

	reg := h.n.Scheduler().Registry()
	require.Equal(t, 1, reg.TaskCount())
	tk, err := reg.TaskAt(0)
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", tk.Name)
}

func TestValidateRejectsOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.MaxDynamicTasks = 1
	h := newHarness(t, cfg)

	bigger := testConfig()
	bigger.Tasks = append(bigger.Tasks, config.TaskConfig{Name: "two", Schedule: "0 * * * * *"})
	assert.Error(t, h.n.validate(bigger))
	assert.NoError(t, h.n.validate(testConfig()))

	reserved := testConfig()
	reserved.Tasks[0].Name = "heartbeat"
	assert.Error(t, h.n.validate(reserved))
}

func TestPacingClamp(t *testing.T) {
	p := pacing{minSleep: time.Second, maxSleep: time.Minute}
	assert.Equal(t, time.Second, p.clamp(t0, t0.Add(-time.Hour), true))
	assert.Equal(t, 10*time.Second, p.clamp(t0, t0.Add(10*time.Second), true))
	assert.Equal(t, time.Minute, p.clamp(t0, t0.Add(time.Hour), true))
	assert.Equal(t, time.Minute, p.clamp(t0, time.Time{}, false))

	s := config.Scheduler{MinSleep: time.Second, MaxSleep: 5 * time.Minute, MaxRunsPerWake: 4}
	assert.Equal(t, 5*time.Minute, pacingFrom(s, 0).maxSleep)
	assert.Equal(t, 30*time.Second, pacingFrom(s, 30*time.Second).maxSleep)
	assert.Equal(t, time.Second, pacingFrom(s, 100*time.Millisecond).maxSleep)
}

func TestMapStorage(t *testing.T) {
	sc, err := mapStorage(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, storage.Config{}, sc)

	sc, err = mapStorage(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: " /var/lib/artemia.db "}})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "/var/lib/artemia.db", sc.Path)
	assert.Equal(t, time.Second, sc.BusyTimeout)
}

const fileConfig = `
scheduler:
  disable_heartbeat: true
power:
  source: fixed
  fixed_volts: 3.3
tasks:
  - name: tick
    schedule: "15 * * * * *"
`

func TestOpenFollowsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artemia.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fileConfig), 0o644))

	clk := clock.Fake(t0)
	n, err := Open(path,
		WithClock(clk),
		WithStore(storage.NewMemory()),
		WithNotifier(&recNotifier{}),
		WithLogger(logx.Nop()),
		WithUnits(noUnits{}),
	)
	require.NoError(t, err)
	ran, unsub := n.Bus().Subscribe(16, eventbus.TaskRan)
	defer unsub()

	h := &harness{n: n, clk: clk}
	stop := h.run(t)
	defer func() { require.NoError(t, stop()) }()

	assert.Equal(t, "tick", next(t, ran).Data.(eventbus.TaskRun).Task)
	clk.WaitForTimers(1)

	updated := fileConfig + `  - name: extra
    schedule: "0 0 * * * *"
`
	// Editors may coalesce or reorder writes; retry until the watcher reacts.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(updated), 0o644)
		select {
		case e := <-ran:
			return e.Data.(eventbus.TaskRun).Task == "extra"
		case <-time.After(500 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)
}
