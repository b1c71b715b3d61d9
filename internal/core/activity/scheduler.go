package activity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/observer"
	"github.com/zeusync/smartspawner/internal/core/spawner"
	"github.com/zeusync/smartspawner/pkg/concurrent"
)

const (
	DefaultPeriod  = time.Second
	DefaultWorkers = 4
)

var ErrAlreadyRunning = errors.New("activity: scheduler already running")

// Source lists the spawners to evaluate on every tick.
type Source interface {
	All() []*spawner.Spawner
}

// Producer performs one production cycle for an active spawner.
type Producer func(ctx context.Context, s *spawner.Spawner)

type Config struct {
	Period  time.Duration
	Workers int
}

type Option func(*Scheduler)

// WithProducer replaces the default production cycle.
func WithProducer(p Producer) Option {
	return func(sc *Scheduler) { sc.produce = p }
}

// Scheduler periodically decides for every spawner whether an observer is in
// range and keeps exactly one production task running per active spawner.
type Scheduler struct {
	cfg     Config
	source  Source
	query   observer.Query
	events  bus.EventBus
	logger  log.Log
	produce Producer

	mu      sync.Mutex
	tasks   map[string]*task
	baseCtx context.Context
	cancel  context.CancelFunc
	loop    chan struct{}
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(source Source, query observer.Query, events bus.EventBus, logger log.Log, cfg Config, opts ...Option) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if events == nil {
		events = bus.Nop()
	}
	if logger == nil {
		logger = log.Provide()
	}

	sc := &Scheduler{
		cfg:     cfg,
		source:  source,
		query:   query,
		events:  events,
		logger:  logger.Named("activity"),
		tasks:   make(map[string]*task),
		baseCtx: context.Background(),
	}
	sc.produce = sc.defaultProduce
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Start launches the periodic range check. It returns immediately; the loop
// runs until ctx is done or Cleanup is called.
func (sc *Scheduler) Start(ctx context.Context) error {
	sc.mu.Lock()
	if sc.loop != nil {
		sc.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	sc.baseCtx = loopCtx
	sc.cancel = cancel
	done := make(chan struct{})
	sc.loop = done
	sc.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(sc.cfg.Period)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				sc.Tick()
			}
		}
	}()

	sc.logger.Info("Activity scheduler started", log.Duration("period", sc.cfg.Period))
	return nil
}

// Tick evaluates every spawner once.
func (sc *Scheduler) Tick() {
	concurrent.Throttle(sc.source.All(), sc.cfg.Workers, sc.Evaluate)
}

// Evaluate recomputes presence for one spawner and applies the transition.
// Only changes of state start or stop production.
func (sc *Scheduler) Evaluate(s *spawner.Spawner) {
	if s.Destroyed() {
		return
	}

	present := sc.ObserverInRange(s)
	if !s.SetActive(present) {
		// no transition; resume a persisted active spawner that has no task yet
		if present && !sc.HasTask(s.ID()) {
			sc.startTask(s)
		}
		return
	}

	if present {
		sc.startTask(s)
		sc.logger.Debug("Spawner activated", log.String("spawner_id", s.ID()))
	} else {
		sc.Stop(s.ID())
		sc.logger.Debug("Spawner deactivated", log.String("spawner_id", s.ID()))
	}

	if err := sc.events.Publish(bus.NewSpawnerEvent(bus.TypeSpawnerActivity, "activity", s)); err != nil {
		sc.logger.Warn("Activity subscriber failed", log.String("spawner_id", s.ID()), log.Error(err))
	}
}

// ObserverInRange reports whether any observer stands within the spawner's
// radius. Only loaded chunks around the spawner are consulted and the scan
// stops at the first match.
func (sc *Scheduler) ObserverInRange(s *spawner.Spawner) bool {
	loc := s.Location()
	r := s.Radius()
	rf := float64(r)
	rSq := rf * rf
	chunkRadius := (r >> spawner.ChunkShift) + 1
	cx, cz := loc.ChunkX(), loc.ChunkZ()
	ox, oy, oz := float64(loc.X), float64(loc.Y), float64(loc.Z)

	for dx := -chunkRadius; dx <= chunkRadius; dx++ {
		for dz := -chunkRadius; dz <= chunkRadius; dz++ {
			if !sc.query.ChunkLoaded(loc.World, cx+dx, cz+dz) {
				continue
			}
			for _, p := range sc.query.ObserversInChunk(loc.World, cx+dx, cz+dz) {
				if p.World != loc.World {
					continue
				}
				if p.X < ox-rf || p.X > ox+rf || p.Y < oy-rf || p.Y > oy+rf || p.Z < oz-rf || p.Z > oz+rf {
					continue
				}
				if loc.DistanceSquared(p.X, p.Y, p.Z) <= rSq {
					return true
				}
			}
		}
	}
	return false
}

func (sc *Scheduler) HasTask(id string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, ok := sc.tasks[id]
	return ok
}

func (sc *Scheduler) TaskCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.tasks)
}

// Stop cancels the production task of the spawner and waits for it to exit.
// Stopping a spawner without a task is a no-op.
func (sc *Scheduler) Stop(id string) {
	sc.mu.Lock()
	t, ok := sc.tasks[id]
	if ok {
		delete(sc.tasks, id)
	}
	sc.mu.Unlock()

	if ok {
		t.cancel()
		<-t.done
	}
}

// OnSpawnerRemoved is meant to be registered as a registry remove hook.
func (sc *Scheduler) OnSpawnerRemoved(s *spawner.Spawner) {
	sc.Stop(s.ID())
}

// Cleanup stops the range check and every production task.
func (sc *Scheduler) Cleanup() {
	sc.mu.Lock()
	cancel, loop := sc.cancel, sc.loop
	sc.cancel, sc.loop = nil, nil
	sc.mu.Unlock()

	if cancel != nil {
		cancel()
		<-loop
	}

	sc.mu.Lock()
	tasks := sc.tasks
	sc.tasks = make(map[string]*task)
	sc.baseCtx = context.Background()
	sc.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
	sc.logger.Info("Activity scheduler stopped", log.Int("tasks", len(tasks)))
}

// startTask replaces any task of the spawner with a fresh one. The destroyed
// check happens under the scheduler lock so a concurrent Stop from a remove
// hook always sees the task it has to cancel.
func (sc *Scheduler) startTask(s *spawner.Spawner) {
	sc.mu.Lock()
	old := sc.tasks[s.ID()]
	delete(sc.tasks, s.ID())
	if s.Destroyed() {
		sc.mu.Unlock()
		stopTask(old)
		return
	}
	ctx, cancel := context.WithCancel(sc.baseCtx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	sc.tasks[s.ID()] = t
	sc.mu.Unlock()

	stopTask(old)
	go sc.run(ctx, s, t)
}

func stopTask(t *task) {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

func (sc *Scheduler) run(ctx context.Context, s *spawner.Spawner, t *task) {
	defer close(t.done)
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Destroyed() {
				return
			}
			if !s.Active() {
				continue
			}
			sc.produce(ctx, s)
		}
	}
}

func (sc *Scheduler) defaultProduce(ctx context.Context, s *spawner.Spawner) {
	added, err := s.Produce(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, spawner.ErrDestroyed):
		return
	case err != nil:
		sc.logger.Warn("Production failed", log.String("spawner_id", s.ID()), log.Error(err))
		return
	}
	if len(added) == 0 {
		return
	}
	if err = sc.events.Publish(bus.NewSpawnerEvent(bus.TypeInventoryChanged, "activity", s)); err != nil {
		sc.logger.Warn("Inventory subscriber failed", log.String("spawner_id", s.ID()), log.Error(err))
	}
}
