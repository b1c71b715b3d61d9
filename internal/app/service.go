// Package app wires the core together: it places and breaks spawners,
// handles explosions and sells inventories on behalf of actors.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zeusync/smartspawner/internal/core/activity"
	"github.com/zeusync/smartspawner/internal/core/events/bus"
	"github.com/zeusync/smartspawner/internal/core/observability/log"
	"github.com/zeusync/smartspawner/internal/core/observer"
	"github.com/zeusync/smartspawner/internal/core/registry"
	"github.com/zeusync/smartspawner/internal/core/settlement"
	"github.com/zeusync/smartspawner/internal/core/spawner"
)

var (
	ErrNotFound       = errors.New("app: spawner not found")
	ErrAlreadyStarted = errors.New("app: already started")
)

type Options struct {
	// Template holds the production parameters of newly placed spawners.
	Template spawner.Config
	// AllowGrief lets explosions destroy spawners.
	AllowGrief bool
}

type Service struct {
	opts      Options
	registry  *registry.Registry
	scheduler *activity.Scheduler
	pipeline  *settlement.Pipeline
	observers *observer.Index
	events    bus.EventBus
	logger    log.Log

	mu      sync.Mutex
	started bool
	subs    []bus.Subscription
}

// WorldStats are the per-world counts.
type WorldStats struct {
	World    string `json:"world"`
	Spawners int    `json:"spawners"`
	Stacks   int    `json:"stacks"`
}

func New(
	reg *registry.Registry,
	scheduler *activity.Scheduler,
	pipeline *settlement.Pipeline,
	observers *observer.Index,
	events bus.EventBus,
	logger log.Log,
	opts Options,
) *Service {
	if logger == nil {
		logger = log.Provide()
	}
	if events == nil {
		events = bus.Nop()
	}
	s := &Service{
		opts:      opts,
		registry:  reg,
		scheduler: scheduler,
		pipeline:  pipeline,
		observers: observers,
		events:    events,
		logger:    logger.Named("app"),
	}
	reg.OnRemove(scheduler.OnSpawnerRemoved)
	return s
}

// Start loads the persisted spawners and starts the activity scheduler.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	// anything that changes persisted state marks the spawner dirty
	for _, typ := range []string{bus.TypeInventoryChanged, bus.TypeSpawnerActivity} {
		sub, err := s.events.Subscribe(typ, s.markModified)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", typ, err)
		}
		s.subs = append(s.subs, sub)
	}

	if err := s.registry.Load(ctx); err != nil {
		return fmt.Errorf("load spawners: %w", err)
	}
	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}

	s.started = true
	s.logger.Info("Service started", log.Int("spawners", s.registry.Len()))
	return nil
}

// Stop halts production and sales, then saves everything.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	s.scheduler.Cleanup()
	s.pipeline.Close()
	for _, sub := range s.subs {
		_ = sub.Cancel()
	}
	s.subs = nil

	if err := s.registry.SaveAll(ctx); err != nil {
		return fmt.Errorf("save spawners: %w", err)
	}
	s.logger.Info("Service stopped")
	return nil
}

func (s *Service) markModified(e bus.Event) error {
	if ev, ok := e.Data().(bus.SpawnerEvent); ok {
		s.registry.MarkModified(ev.SpawnerID)
	}
	return nil
}

// Place registers a new spawner at loc with the configured template.
func (s *Service) Place(loc spawner.Location, stackSize int) (*spawner.Spawner, error) {
	sp := spawner.New(uuid.NewString(), loc, s.opts.Template)
	if stackSize > 1 {
		sp.SetStackSize(stackSize)
	}
	if err := s.registry.Add(sp.ID(), sp); err != nil {
		return nil, err
	}
	s.logger.Info("Spawner placed", log.String("spawner_id", sp.ID()), log.String("location", loc.String()))
	return sp, nil
}

// Break stops the spawner's production and removes it. It reports false if
// the spawner was unknown.
func (s *Service) Break(ctx context.Context, id string) bool {
	s.scheduler.Stop(id)
	if !s.registry.Remove(ctx, id) {
		return false
	}
	s.logger.Info("Spawner broken", log.String("spawner_id", id))
	return true
}

// HandleExplosion applies an explosion to the given blocks. With grief
// allowed, spawners there are broken; otherwise their locations are returned
// as protected and open inventory views are asked to close.
func (s *Service) HandleExplosion(ctx context.Context, blocks []spawner.Location) (broken []string, protected []spawner.Location) {
	for _, loc := range blocks {
		sp, ok := s.registry.GetByLocation(loc)
		if !ok {
			continue
		}
		if s.opts.AllowGrief {
			if s.Break(ctx, sp.ID()) {
				broken = append(broken, sp.ID())
			}
			continue
		}

		protected = append(protected, loc)
		if err := s.events.Publish(bus.NewSpawnerEvent(bus.TypeInventoryClosed, "app", sp)); err != nil {
			s.logger.Warn("Inventory close subscriber failed", log.String("spawner_id", sp.ID()), log.Error(err))
		}
	}
	return broken, protected
}

// Sell settles the spawner's inventory for actor. See settlement.Pipeline.
func (s *Service) Sell(ctx context.Context, actor settlement.Actor, id string, onDone func(settlement.Result)) (settlement.Result, error) {
	sp, ok := s.registry.GetByID(id)
	if !ok {
		return settlement.Result{}, ErrNotFound
	}
	return s.pipeline.Settle(ctx, actor, sp, onDone), nil
}

func (s *Service) Spawner(id string) (*spawner.Spawner, bool) { return s.registry.GetByID(id) }

func (s *Service) Spawners() []*spawner.Spawner { return s.registry.All() }

func (s *Service) WorldStats(world string) WorldStats {
	return WorldStats{
		World:    world,
		Spawners: s.registry.CountInWorld(world),
		Stacks:   s.registry.CountWithStacksInWorld(world),
	}
}

func (s *Service) Worlds() []string { return s.registry.Worlds() }

// ReloadWorlds rebuilds the world index after worlds were loaded or
// unloaded in bulk.
func (s *Service) ReloadWorlds() { s.registry.ReindexWorlds() }

func (s *Service) Observers() *observer.Index { return s.observers }

func (s *Service) SettlementStats() settlement.Stats { return s.pipeline.Stats() }

// SetSellingEnabled toggles the sell pipeline at runtime.
func (s *Service) SetSellingEnabled(enabled bool) { s.pipeline.SetEnabled(enabled) }
