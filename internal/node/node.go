// Package node runs an artemia node: it wires the registry, the scheduler
// and their collaborators from a config file and drives the
// wake/run/save/sleep cycle until shutdown.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gemarcano/artemia/internal/artemia"
	"github.com/gemarcano/artemia/internal/clock"
	"github.com/gemarcano/artemia/internal/config"
	"github.com/gemarcano/artemia/internal/eventbus"
	"github.com/gemarcano/artemia/internal/metrics"
	"github.com/gemarcano/artemia/internal/power"
	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/internal/storage"
	"github.com/gemarcano/artemia/internal/tasks"
	"github.com/gemarcano/artemia/pkg/logx"
)

type Node struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	// sched is fixed at construction; pace is the live subset a reload may
	// change and is owned by the loop goroutine.
	sched config.Scheduler
	pace  pacing

	log  logx.Logger
	logs *logx.Service

	bus        eventbus.Bus
	store      storage.Store
	supply     power.Source
	clock      clock.Clock
	notify     Notifier
	units      tasks.UnitStarter
	scheduler  *artemia.Scheduler
	metrics    *metrics.Collector
	metricsSrv *metrics.Server

	bootID   string
	watchdog time.Duration
	// supplyWarn throttles repeated voltage read failures.
	supplyWarn *rate.Limiter
}

type options struct {
	clock  clock.Clock
	store  storage.Store
	supply power.Source
	notify Notifier
	log    *logx.Logger
	units  tasks.UnitStarter
}

type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithStore replaces the configured history store. The node closes it.
func WithStore(s storage.Store) Option { return func(o *options) { o.store = s } }

// WithSupply replaces the configured voltage source.
func WithSupply(s power.Source) Option { return func(o *options) { o.supply = s } }

// WithNotifier replaces the systemd notifier.
func WithNotifier(n Notifier) Option { return func(o *options) { o.notify = n } }

// WithLogger skips building the logging service and logs to l.
func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = &l } }

// WithUnits replaces the D-Bus unit starter used by unit actions.
func WithUnits(u tasks.UnitStarter) Option { return func(o *options) { o.units = u } }

// Open loads the config file at path and builds a node that follows later
// edits of it.
func Open(path string, opts ...Option) (*Node, error) {
	cfgm := config.NewConfigManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	n, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	n.cfgm = cfgm
	cfgm.SetLogger(n.log)
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error { return n.validate(c) })
	return n, nil
}

// New builds a node from an already validated config.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	n := &Node{
		cfg:        cfg,
		bus:        eventbus.New(),
		clock:      o.clock,
		notify:     o.notify,
		bootID:     uuid.NewString(),
		supplyWarn: rate.NewLimiter(rate.Every(time.Minute), 1),
	}
	if n.clock == nil {
		n.clock = clock.Real()
	}
	if n.notify == nil {
		n.notify = SystemdNotifier{}
	}

	if o.log != nil {
		n.log = *o.log
	} else {
		n.logs, n.log = logx.New(mapLogging(cfg.Logging))
	}
	n.log = n.log.With(logx.String("comp", "node"))

	var err error
	if n.sched, err = cfg.Scheduler.Resolve(); err != nil {
		return nil, err
	}
	n.watchdog = watchdogInterval()
	n.pace = pacingFrom(n.sched, n.watchdog)

	n.supply = o.supply
	if n.supply == nil {
		if n.supply, err = power.Open(mapPower(cfg.Power)); err != nil {
			return nil, err
		}
	}

	n.store = o.store
	if n.store == nil {
		sc, err := mapStorage(cfg)
		if err != nil {
			return nil, err
		}
		if n.store, err = storage.Open(sc, n.log); err != nil {
			return nil, err
		}
	}

	n.units = o.units
	if n.units == nil {
		n.units = tasks.NewSystemd()
	}

	static := tasks.Static(tasks.StaticDeps{
		Log:         n.log,
		Supply:      n.supply,
		Started:     n.clock.Now(),
		Trickle:     tasks.NewTrickle(cfg.Power.Trickle),
		NoHeartbeat: n.sched.DisableHeartbeat,
	})
	reg, err := scron.New(static,
		scron.WithMaxDynamic(n.sched.MaxDynamicTasks),
		scron.WithQuantum(n.sched.Quantum),
		scron.WithLogger(n.log),
	)
	if err != nil {
		n.closeStore()
		return nil, err
	}
	for _, tc := range cfg.Tasks {
		t, err := tasks.Build(tc, n.taskDeps())
		if err == nil {
			_, err = reg.AddTask(t)
		}
		if err != nil {
			n.closeStore()
			return nil, err
		}
	}

	n.scheduler = artemia.New(reg,
		artemia.WithTaskTimeout(n.sched.TaskTimeout),
		artemia.WithBus(n.bus),
		artemia.WithLogger(n.log),
	)
	n.metrics = metrics.NewCollector(n.bus)
	n.metricsSrv = metrics.NewServer(n.metrics, n.log)
	return n, nil
}

func (n *Node) Bus() eventbus.Bus { return n.bus }

func (n *Node) Scheduler() *artemia.Scheduler { return n.scheduler }

func (n *Node) Metrics() *metrics.Collector { return n.metrics }

// validate is the hot-reload gate: a config the running node cannot adopt
// is rejected before it is committed.
func (n *Node) validate(c *config.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if limit := n.sched.MaxDynamicTasks; limit > 0 && len(c.Tasks) > limit {
		return fmt.Errorf("%d tasks exceed scheduler.max_dynamic_tasks=%d", len(c.Tasks), limit)
	}
	for _, tc := range c.Tasks {
		if _, err := tasks.Build(tc, n.taskDeps()); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) taskDeps() tasks.Deps { return tasks.Deps{Log: n.log, Units: n.units} }

func (n *Node) closeStore() {
	if err := n.store.Close(); err != nil {
		n.log.Warn("storage close failed", logx.Err(err))
	}
}

// voltage samples the supply. A failed read counts as 0 V so only tasks
// without a voltage floor can run.
func (n *Node) voltage(ctx context.Context) float64 {
	v, err := n.supply.Voltage(ctx)
	if err != nil {
		if n.supplyWarn.Allow() {
			n.log.Warn("supply voltage read failed; assuming 0 V", logx.Err(err))
		}
		return 0
	}
	return v
}

// LoadHistory reads persisted last runs into the registry without starting
// the node. It is meant for offline inspection.
func (n *Node) LoadHistory(ctx context.Context) (scron.LoadReport, error) {
	return n.scheduler.Registry().Load(ctx, n.store)
}

func (n *Node) Store() storage.Store { return n.store }

func (n *Node) Now() time.Time { return n.clock.Now() }

// Close releases a node that was never run. Nothing is saved.
func (n *Node) Close() error {
	err := n.store.Close()
	if c, ok := n.units.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if n.logs != nil {
		_ = n.logs.Close()
	}
	return err
}
